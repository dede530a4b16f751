package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrSignalNotFound is returned when a lookup matches no row.
var ErrSignalNotFound = errors.New("signal not found")

// SignalRepository persists signals in PostgreSQL. The drainer's
// read-modify-write path goes through UpdateWithLock so concurrent drain
// instances serialise on the row lock.
type SignalRepository struct {
	db *DB
}

func NewSignalRepository(db *DB) *SignalRepository {
	return &SignalRepository{db: db}
}

const signalColumns = `id, symbol, company, signal_type, strength, confidence,
	source_agent, reason, target_price, stop_loss, current_price, quantity,
	signal_status, trigger_details, holding_deadline, quant_score,
	fundamental_score, allocation_percent, suggested_amount, is_executed,
	executed_at, order_no, created_at, updated_at`

// Insert stores a new signal row.
func (r *SignalRepository) Insert(ctx context.Context, s *Signal) error {
	if len(s.Reason) > 1000 {
		s.Reason = s.Reason[:1000]
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (
			id, symbol, company, signal_type, strength, confidence,
			source_agent, reason, target_price, stop_loss, current_price,
			quantity, signal_status, trigger_details, holding_deadline,
			quant_score, fundamental_score, allocation_percent,
			suggested_amount, is_executed, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$21)`,
		s.ID, s.Symbol, s.Company, s.SignalType, s.Strength, s.Confidence,
		s.SourceAgent, s.Reason, s.TargetPrice, s.StopLoss, s.CurrentPrice,
		s.Quantity, s.Status, s.TriggerDetails, s.HoldingDeadline,
		s.QuantScore, s.FundamentalScore, s.AllocationPercent,
		s.SuggestedAmount, s.IsExecuted, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal %s: %w", s.ID, err)
	}
	return nil
}

func scanSignal(row pgx.Row) (*Signal, error) {
	var s Signal
	err := row.Scan(
		&s.ID, &s.Symbol, &s.Company, &s.SignalType, &s.Strength, &s.Confidence,
		&s.SourceAgent, &s.Reason, &s.TargetPrice, &s.StopLoss, &s.CurrentPrice,
		&s.Quantity, &s.Status, &s.TriggerDetails, &s.HoldingDeadline,
		&s.QuantScore, &s.FundamentalScore, &s.AllocationPercent,
		&s.SuggestedAmount, &s.IsExecuted, &s.ExecutedAt, &s.OrderNo,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSignalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan signal: %w", err)
	}
	return &s, nil
}

// GetByID loads one signal.
func (r *SignalRepository) GetByID(ctx context.Context, id string) (*Signal, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1`, id)
	return scanSignal(row)
}

// List returns signals matching the filter, newest first.
func (r *SignalRepository) List(ctx context.Context, f SignalFilter) ([]*Signal, error) {
	var conds []string
	var args []interface{}

	if f.Symbol != "" {
		args = append(args, f.Symbol)
		conds = append(conds, fmt.Sprintf("symbol = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			args = append(args, st)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conds = append(conds, "signal_status IN ("+strings.Join(placeholders, ",")+")")
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `SELECT ` + signalColumns + ` FROM signals`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var signals []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, s)
	}
	return signals, rows.Err()
}

// ListRestorable returns the signals a restarted process must pick up:
// non-terminal states with a positive quantity.
func (r *SignalRepository) ListRestorable(ctx context.Context) ([]*Signal, error) {
	return r.List(ctx, SignalFilter{
		Statuses: []SignalStatus{StatusPending, StatusQueued, StatusApproved},
	})
}

// UpdateStatus moves a signal to a new status without locking. Used for
// transitions where no concurrent writer exists (expiry, approval routing).
func (r *SignalRepository) UpdateStatus(ctx context.Context, id string, status SignalStatus, reason string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE signals SET signal_status = $2,
			reason = CASE WHEN $3 = '' THEN reason ELSE left(reason || ' | ' || $3, 1000) END,
			updated_at = NOW()
		WHERE id = $1`, id, status, reason)
	if err != nil {
		return fmt.Errorf("update signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignalNotFound
	}
	return nil
}

// UpdateWithLock runs fn against the row while holding a FOR UPDATE lock and
// persists the returned signal in the same transaction. fn returning false
// skips the write. This is the drainer's idempotency primitive: a second
// drainer blocks on the lock, re-reads, sees is_executed and walks away.
func (r *SignalRepository) UpdateWithLock(ctx context.Context, id string, fn func(*Signal) (bool, error)) (*Signal, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = $1 FOR UPDATE`, id)
	s, err := scanSignal(row)
	if err != nil {
		return nil, err
	}

	write, err := fn(s)
	if err != nil {
		return nil, err
	}
	if !write {
		return s, tx.Commit(ctx)
	}

	if len(s.Reason) > 1000 {
		s.Reason = s.Reason[:1000]
	}
	_, err = tx.Exec(ctx, `
		UPDATE signals SET
			signal_status = $2, reason = $3, target_price = $4, stop_loss = $5,
			current_price = $6, quantity = $7, is_executed = $8,
			executed_at = $9, order_no = $10, updated_at = NOW()
		WHERE id = $1`,
		s.ID, s.Status, s.Reason, s.TargetPrice, s.StopLoss,
		s.CurrentPrice, s.Quantity, s.IsExecuted, s.ExecutedAt, s.OrderNo,
	)
	if err != nil {
		return nil, fmt.Errorf("update signal %s under lock: %w", id, err)
	}
	return s, tx.Commit(ctx)
}

// ExpireOlderThan marks non-terminal signals past the cutoff as EXPIRED and
// returns the affected signals.
func (r *SignalRepository) ExpireOlderThan(ctx context.Context, cutoff time.Time) ([]*Signal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE signals SET signal_status = $1, updated_at = NOW()
		WHERE signal_status IN ($2, $3, $4) AND created_at < $5
		RETURNING `+signalColumns,
		StatusExpired, StatusPending, StatusQueued, StatusApproved, cutoff)
	if err != nil {
		return nil, fmt.Errorf("expire signals: %w", err)
	}
	defer rows.Close()

	var expired []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, s)
	}
	return expired, rows.Err()
}

// ActiveForSymbol returns the newest executed, unexited signal for a held
// symbol. The monitoring sweep uses its stop and target prices.
func (r *SignalRepository) ActiveForSymbol(ctx context.Context, symbol string) (*Signal, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE symbol = $1 AND signal_status IN ($2, $3) AND signal_type = $4
		ORDER BY created_at DESC LIMIT 1`,
		symbol, StatusExecuted, StatusAutoExecuted, SignalBuy)
	return scanSignal(row)
}

// PastHoldingDeadline returns executed BUY signals whose holding deadline has
// arrived for symbols still held.
func (r *SignalRepository) PastHoldingDeadline(ctx context.Context, today time.Time) ([]*Signal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+signalColumns+` FROM signals
		WHERE signal_type = $1 AND signal_status IN ($2, $3)
			AND holding_deadline IS NOT NULL AND holding_deadline <= $4`,
		SignalBuy, StatusExecuted, StatusAutoExecuted, today)
	if err != nil {
		return nil, fmt.Errorf("deadline query: %w", err)
	}
	defer rows.Close()

	var out []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
