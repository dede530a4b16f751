// Package notification pushes trading events to operators. The manager is a
// bus subscriber: signal lifecycle events become chat messages.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/events"
)

type NotificationType string

const (
	NotifySignal NotificationType = "signal"
	NotifyTrade  NotificationType = "trade"
	NotifyError  NotificationType = "error"
	NotifyInfo   NotificationType = "info"
)

// Notification is one outbound message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Timestamp time.Time
}

// Notifier is one delivery channel.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled channel.
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "notify").Logger()}
}

func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) Send(n *Notification) {
	for _, notifier := range m.notifiers {
		if !notifier.IsEnabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Warn().Err(err).Str("channel", notifier.Name()).Msg("notification failed")
		}
	}
}

// Attach subscribes the manager to the signal lifecycle and error events.
func (m *Manager) Attach(bus *events.EventBus) {
	bus.Subscribe(m.handleEvent,
		events.EventSignalCreated,
		events.EventSignalExecuted,
		events.EventSignalRejected,
		events.EventSignalExpired,
		events.EventPriceTrigger,
		events.EventError,
	)
}

func (m *Manager) handleEvent(event events.Event) {
	symbol, _ := event.Data["symbol"].(string)

	switch event.Type {
	case events.EventSignalCreated:
		action, _ := event.Data["action"].(string)
		confidence, _ := event.Data["confidence"].(float64)
		m.Send(&Notification{
			Type:      NotifySignal,
			Title:     fmt.Sprintf("New signal: %s %s", action, symbol),
			Message:   fmt.Sprintf("Council produced a %s signal for %s (confidence %.0f%%)", action, symbol, confidence*100),
			Symbol:    symbol,
			Timestamp: event.Timestamp,
		})
	case events.EventSignalExecuted:
		status, _ := event.Data["status"].(string)
		m.Send(&Notification{
			Type:      NotifyTrade,
			Title:     fmt.Sprintf("Order executed: %s", symbol),
			Message:   fmt.Sprintf("Signal for %s moved to %s", symbol, status),
			Symbol:    symbol,
			Timestamp: event.Timestamp,
		})
	case events.EventSignalRejected, events.EventSignalExpired:
		reason, _ := event.Data["reason"].(string)
		m.Send(&Notification{
			Type:      NotifySignal,
			Title:     fmt.Sprintf("Signal closed: %s", symbol),
			Message:   fmt.Sprintf("Signal for %s ended without execution: %s", symbol, reason),
			Symbol:    symbol,
			Timestamp: event.Timestamp,
		})
	case events.EventPriceTrigger:
		trigger, _ := event.Data["trigger"].(string)
		m.Send(&Notification{
			Type:      NotifyTrade,
			Title:     fmt.Sprintf("Exit trigger: %s", symbol),
			Message:   fmt.Sprintf("%s fired for %s; sell review convened", trigger, symbol),
			Symbol:    symbol,
			Timestamp: event.Timestamp,
		})
	case events.EventError:
		source, _ := event.Data["source"].(string)
		message, _ := event.Data["message"].(string)
		m.Send(&Notification{
			Type:      NotifyError,
			Title:     fmt.Sprintf("Error in %s", source),
			Message:   message,
			Timestamp: event.Timestamp,
		})
	}
}

// TelegramNotifier delivers over the Telegram bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
}

func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string    { return "telegram" }
func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(n *Notification) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", n.Title, n.Message),
		"parse_mode": "Markdown",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
