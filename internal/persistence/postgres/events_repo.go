package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus-io/smartacus/internal/events"
	"github.com/smartacus-io/smartacus/internal/persistence"
)

type eventsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventsRepo creates a PostgreSQL events repository.
func NewEventsRepo(db *sqlx.DB, timeout time.Duration) persistence.EventsRepo {
	return &eventsRepo{
		db:      db,
		timeout: timeout,
	}
}

// InsertPriceEvents writes detected price events.
func (r *eventsRepo) InsertPriceEvents(ctx context.Context, evs []events.PriceEvent) error {
	if len(evs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (asin, event_type, detected_at, severity, direction, change_percent, payload)
		VALUES ($1, 'price_change', $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare price event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal price event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ASIN, ev.DetectedAt, ev.Severity, ev.Direction, ev.PriceChangePercent, payload); err != nil {
			return fmt.Errorf("failed to insert price event for %s: %w", ev.ASIN, err)
		}
	}

	return tx.Commit()
}

// InsertBSREvents writes detected rank events.
func (r *eventsRepo) InsertBSREvents(ctx context.Context, evs []events.BSREvent) error {
	if len(evs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (asin, event_type, detected_at, severity, direction, change_percent, payload)
		VALUES ($1, 'bsr_change', $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare BSR event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal BSR event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ASIN, ev.DetectedAt, ev.Severity, ev.Direction, ev.BSRChangePercent, payload); err != nil {
			return fmt.Errorf("failed to insert BSR event for %s: %w", ev.ASIN, err)
		}
	}

	return tx.Commit()
}

// InsertStockEvents writes detected stock transitions.
func (r *eventsRepo) InsertStockEvents(ctx context.Context, evs []events.StockEvent) error {
	if len(evs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (asin, event_type, detected_at, severity, direction, change_percent, payload)
		VALUES ($1, $2, $3, $4, '', 0, $5)`)
	if err != nil {
		return fmt.Errorf("failed to prepare stock event insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal stock event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ASIN, ev.EventType, ev.DetectedAt, ev.Severity, payload); err != nil {
			return fmt.Errorf("failed to insert stock event for %s: %w", ev.ASIN, err)
		}
	}

	return tx.Commit()
}

// StockEventsWindow returns stock events for an ASIN inside the range.
func (r *eventsRepo) StockEventsWindow(ctx context.Context, asin string, tr persistence.TimeRange) ([]events.StockEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT payload
		FROM events
		WHERE asin = $1
		  AND event_type IN ('stockout', 'restock', 'low_stock_alert', 'status_change')
		  AND detected_at >= $2 AND detected_at <= $3
		ORDER BY detected_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, asin, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock events for %s: %w", asin, err)
	}
	defer rows.Close()

	var evs []events.StockEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan stock event: %w", err)
		}
		var ev events.StockEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stock event: %w", err)
		}
		evs = append(evs, ev)
	}

	return evs, rows.Err()
}

// InsertEconomicEvent writes one synthesized event. Duplicate event IDs are
// rejected by the schema.
func (r *eventsRepo) InsertEconomicEvent(ctx context.Context, ev events.EconomicEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	supporting, err := json.Marshal(ev.SupportingSignals)
	if err != nil {
		return fmt.Errorf("failed to marshal supporting signals: %w", err)
	}
	contradicting, err := json.Marshal(ev.ContradictingSignals)
	if err != nil {
		return fmt.Errorf("failed to marshal contradicting signals: %w", err)
	}

	query := `
		INSERT INTO economic_events (
			event_id, asin, event_type, detected_at, thesis, confidence, urgency,
			window_days, supporting_signals, contradicting_signals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		ev.EventID, ev.ASIN, ev.EventType, ev.DetectedAt, ev.Thesis, ev.Confidence, ev.Urgency,
		ev.WindowDays, supporting, contradicting)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate economic event %s: %w", ev.EventID, err)
		}
		return fmt.Errorf("failed to insert economic event: %w", err)
	}

	return nil
}

// ActiveEconomicEvents returns events whose action window has not closed.
func (r *eventsRepo) ActiveEconomicEvents(ctx context.Context, asin string, now time.Time) ([]events.EconomicEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT event_id, asin, event_type, detected_at, thesis, confidence, urgency,
		       window_days, supporting_signals, contradicting_signals
		FROM economic_events
		WHERE asin = $1
		  AND detected_at + (window_days || ' days')::interval >= $2
		ORDER BY detected_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, asin, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query economic events for %s: %w", asin, err)
	}
	defer rows.Close()

	var evs []events.EconomicEvent
	for rows.Next() {
		var ev events.EconomicEvent
		var supporting, contradicting []byte
		err := rows.Scan(
			&ev.EventID, &ev.ASIN, &ev.EventType, &ev.DetectedAt, &ev.Thesis, &ev.Confidence, &ev.Urgency,
			&ev.WindowDays, &supporting, &contradicting)
		if err != nil {
			return nil, fmt.Errorf("failed to scan economic event: %w", err)
		}
		if len(supporting) > 0 {
			if err := json.Unmarshal(supporting, &ev.SupportingSignals); err != nil {
				return nil, fmt.Errorf("failed to unmarshal supporting signals: %w", err)
			}
		}
		if len(contradicting) > 0 {
			if err := json.Unmarshal(contradicting, &ev.ContradictingSignals); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contradicting signals: %w", err)
			}
		}
		evs = append(evs, ev)
	}

	return evs, rows.Err()
}
