// Package sqlite persists the event stream to a local database so
// history survives longer than the in-memory ring. Topology state is
// deliberately not persisted; it is rebuilt from discovery and API
// calls on restart.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "modernc.org/sqlite"

	"linkwatch/internal/domain"
)

// Journal is an append-only store of topology events
type Journal struct {
	db *sql.DB
}

// NewJournal opens (and migrates) the journal database at path
func NewJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		link_id TEXT,
		node_id TEXT,
		old_state TEXT,
		new_state TEXT,
		metrics JSON,
		source TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Record appends one event
func (j *Journal) Record(ctx context.Context, ev domain.Event) error {
	var metricsJSON any
	if ev.Metrics != nil {
		data, err := json.Marshal(ev.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics: %w", err)
		}
		metricsJSON = string(data)
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, event_type, link_id, node_id, old_state, new_state, metrics, source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.LinkID, ev.NodeID,
		string(ev.OldState), string(ev.NewState), metricsJSON, ev.Source, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// History returns the most recent events, oldest first, optionally
// filtered by type
func (j *Journal) History(ctx context.Context, eventType domain.EventType, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, event_type, link_id, node_id, old_state, new_state, metrics, source, timestamp
		FROM events`
	args := []any{}
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var metricsJSON sql.NullString
		var evType, oldState, newState string
		if err := rows.Scan(&ev.ID, &evType, &ev.LinkID, &ev.NodeID,
			&oldState, &newState, &metricsJSON, &ev.Source, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = domain.EventType(evType)
		ev.OldState = domain.LinkState(oldState)
		ev.NewState = domain.LinkState(newState)
		if metricsJSON.Valid && metricsJSON.String != "" {
			var m domain.Metrics
			if err := json.Unmarshal([]byte(metricsJSON.String), &m); err == nil {
				ev.Metrics = &m
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest first; callers expect oldest first.
	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// Consume records events from a bus subscription until the channel
// closes or ctx ends. Write failures are logged and skipped; the
// journal is best-effort, the ring buffer stays authoritative for
// recent history.
func (j *Journal) Consume(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := j.Record(ctx, ev); err != nil {
				log.Printf("Journal write failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
