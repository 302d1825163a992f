// Package journal persists engine activity to SQLite so a long unattended
// session can be audited afterwards: how many artifacts, how many
// recoveries, when the page was last re-attached.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/gen4eva/forever"
)

// ErrClosed is returned by queries after Close.
var ErrClosed = errors.New("journal: closed")

// Entry is one journaled activity.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
	NodeClass string    `json:"node_class,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats summarises the journal.
type Stats struct {
	Total        int            `json:"total"`
	ByKind       map[string]int `json:"by_kind"`
	LastArtifact *time.Time     `json:"last_artifact,omitempty"`
	Dropped      int64          `json:"dropped"`
}

// Config configures a Journal.
type Config struct {
	// Path of the SQLite file, or ":memory:".
	Path string
	// Buffer is the number of activities queued before Record drops.
	// Default: 256.
	Buffer int
	Logger *slog.Logger
}

// Journal writes activities from a single background goroutine. Record
// never blocks the engine loop.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan op
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// op is an entry to write or, with ack set, a flush barrier.
type op struct {
	entry Entry
	ack   chan struct{}
}

const maxBatch = 64

// Open opens (or creates) the journal and starts its writer.
func Open(cfg Config) (*Journal, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	db, err := openDB(cfg.Path)
	if err != nil {
		return nil, err
	}
	j := &Journal{
		db:     db,
		logger: cfg.Logger,
		ch:     make(chan op, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go j.writer()
	return j, nil
}

// Record queues a for writing. It drops the activity with a warning when
// the buffer is full or the journal is closed.
func (j *Journal) Record(a forever.Activity) {
	e := Entry{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Kind:      string(a.Kind),
		Detail:    a.Detail,
		NodeClass: a.Node.Class,
		CreatedAt: a.At,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- op{entry: e}:
	default:
		j.dropped.Add(1)
		j.logger.Warn("journal: buffer full, activity dropped", "kind", e.Kind)
	}
}

// writer batches whatever is queued into one transaction.
func (j *Journal) writer() {
	defer close(j.done)
	var batch []Entry
	write := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.insert(context.Background(), batch); err != nil {
			j.logger.Error("journal: write failed", "entries", len(batch), "error", err)
		}
		batch = batch[:0]
	}
	for o := range j.ch {
		if o.ack != nil {
			write()
			close(o.ack)
			continue
		}
		batch = append(batch, o.entry)
		if len(batch) >= maxBatch || len(j.ch) == 0 {
			write()
		}
	}
	write()
}

func (j *Journal) insert(ctx context.Context, batch []Entry) error {
	return runTx(ctx, j.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO activity (id, kind, detail, node_class, created_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, e.ID, e.Kind, e.Detail, e.NodeClass, e.CreatedAt.UnixMilli()); err != nil {
				return fmt.Errorf("journal: insert %s: %w", e.Kind, err)
			}
		}
		return nil
	})
}

// Recent returns up to limit entries, newest first. kind filters when
// non-empty.
func (j *Journal) Recent(ctx context.Context, limit int, kind string) ([]Entry, error) {
	if err := j.usable(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	q := `SELECT id, kind, detail, node_class, created_at FROM activity`
	args := []any{}
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &e.NodeClass, &ms); err != nil {
			return nil, fmt.Errorf("journal: recent: %w", err)
		}
		e.CreatedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats counts entries per kind and reports the last artifact time.
func (j *Journal) Stats(ctx context.Context) (Stats, error) {
	if err := j.usable(); err != nil {
		return Stats{}, err
	}
	st := Stats{ByKind: make(map[string]int)}

	rows, err := j.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM activity GROUP BY kind`)
	if err != nil {
		return Stats{}, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return Stats{}, fmt.Errorf("journal: stats: %w", err)
		}
		st.ByKind[kind] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	var last sql.NullInt64
	err = j.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM activity WHERE kind = ?`, string(forever.ActivityArtifact)).Scan(&last)
	if err != nil {
		return Stats{}, fmt.Errorf("journal: stats: %w", err)
	}
	if last.Valid {
		t := time.UnixMilli(last.Int64)
		st.LastArtifact = &t
	}

	st.Dropped = j.dropped.Load()
	return st, nil
}

func (j *Journal) usable() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

// Flush waits until every activity recorded so far is written.
func (j *Journal) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.ch <- op{ack: ack}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting activities, writes what is queued and closes the
// database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	<-j.done
	return j.db.Close()
}
