package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MeetingRecord is the persisted form of a council meeting: metadata plus the
// full transcript as JSON. The in-memory meeting is derivable from it.
type MeetingRecord struct {
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Company       string          `json:"company"`
	TriggerSource string          `json:"trigger_source"`
	Depth         string          `json:"depth"`
	SignalID      *string         `json:"signal_id,omitempty"`
	Transcript    json.RawMessage `json:"transcript"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MeetingRepository archives meeting transcripts.
type MeetingRepository struct {
	db *DB
}

func NewMeetingRepository(db *DB) *MeetingRepository {
	return &MeetingRepository{db: db}
}

func (r *MeetingRepository) Insert(ctx context.Context, m *MeetingRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO meetings (id, symbol, company, trigger_source, depth, signal_id, transcript, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.Symbol, m.Company, m.TriggerSource, m.Depth, m.SignalID, m.Transcript, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting %s: %w", m.ID, err)
	}
	return nil
}

// RecentForSymbol returns the latest transcripts for a symbol, newest first.
func (r *MeetingRepository) RecentForSymbol(ctx context.Context, symbol string, limit int) ([]*MeetingRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, symbol, company, trigger_source, depth, signal_id, transcript, created_at
		FROM meetings WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`,
		symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []*MeetingRecord
	for rows.Next() {
		var m MeetingRecord
		if err := rows.Scan(&m.ID, &m.Symbol, &m.Company, &m.TriggerSource,
			&m.Depth, &m.SignalID, &m.Transcript, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}
