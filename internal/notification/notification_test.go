package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"krx-trading-bot/config"
	"krx-trading-bot/internal/events"
)

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []*Notification
	enabled  bool
	failWith error
}

func (r *recordingNotifier) Send(n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) Name() string    { return "recording" }
func (r *recordingNotifier) IsEnabled() bool { return r.enabled }

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestManagerSkipsDisabledChannels(t *testing.T) {
	m := NewManager(zerolog.Nop())
	on := &recordingNotifier{enabled: true}
	off := &recordingNotifier{enabled: false}
	m.AddNotifier(on)
	m.AddNotifier(off)

	m.Send(&Notification{Type: NotifyInfo, Title: "hello"})
	if on.count() != 1 {
		t.Errorf("enabled channel got %d messages, want 1", on.count())
	}
	if off.count() != 0 {
		t.Errorf("disabled channel got %d messages, want 0", off.count())
	}
}

func TestAttachTranslatesSignalEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	m := NewManager(zerolog.Nop())
	rec := &recordingNotifier{enabled: true}
	m.AddNotifier(rec)
	m.Attach(bus)

	bus.PublishSignalCreated("sig-1", "005930", "BUY", 0.8)
	waitFor(t, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	n := rec.sent[0]
	rec.mu.Unlock()
	if n.Type != NotifySignal {
		t.Errorf("type = %s, want signal", n.Type)
	}
	if !strings.Contains(n.Message, "005930") || !strings.Contains(n.Message, "80%") {
		t.Errorf("message = %q", n.Message)
	}

	// Events the manager did not subscribe to never reach it.
	bus.PublishScanProgress("scan-1", 1, 10, "005930")
	bus.PublishPriceTrigger("005930", "stop_loss", 66_000)
	waitFor(t, func() bool { return rec.count() == 2 })
}

func TestTelegramNotifierSend(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/botTOKEN/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "TOKEN", ChatID: "42"})
	n.baseURL = srv.URL

	err := n.Send(&Notification{Title: "New signal: BUY 005930", Message: "details"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" {
		t.Errorf("chat_id = %v", got["chat_id"])
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "005930") {
		t.Errorf("text = %q", text)
	}
}

func TestTelegramNotifierDisabledWithoutCreds(t *testing.T) {
	n := NewTelegramNotifier(config.TelegramConfig{Enabled: true})
	if n.IsEnabled() {
		t.Error("notifier with no credentials must stay disabled")
	}
	if err := n.Send(&Notification{Title: "x"}); err != nil {
		t.Errorf("disabled send should be a noop, got %v", err)
	}
}

func TestTelegramNotifierServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "TOKEN", ChatID: "42"})
	n.baseURL = srv.URL
	if err := n.Send(&Notification{Title: "x"}); err == nil {
		t.Error("5xx response should surface as an error")
	}
}
