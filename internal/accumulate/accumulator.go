package accumulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"popgenval/internal/logging"
	"popgenval/internal/model"
	"popgenval/internal/storage"
)

const DefaultFlushRows = 10000

var ErrClosed = errors.New("accumulator closed")

// Appender is the write side of a result store.
type Appender interface {
	AppendRows(ctx context.Context, table string, rows []model.Row) error
}

type Counters struct {
	Appended int `json:"appended"`
	Flushed  int `json:"flushed"`
	Flushes  int `json:"flushes"`
	Buffered int `json:"buffered"`
}

// Accumulator buffers rows per table and writes them to the store once the
// buffered count reaches the flush threshold.
type Accumulator struct {
	store     Appender
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	order    []string
	buffers  map[string][]model.Row
	buffered int
	counters Counters
	closed   bool
}

func New(store Appender, threshold int, logger *slog.Logger) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultFlushRows
	}
	return &Accumulator{
		store:     store,
		threshold: threshold,
		logger:    logging.OrDiscard(logger),
		buffers:   make(map[string][]model.Row),
	}
}

// Append buffers rows. A batch holding any row without a valid table name
// is rejected before any of it is buffered.
func (a *Accumulator) Append(ctx context.Context, rows ...model.Row) error {
	for i, row := range rows {
		if err := storage.ValidateTableName(row.Table); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	for _, row := range rows {
		if _, ok := a.buffers[row.Table]; !ok {
			a.order = append(a.order, row.Table)
		}
		a.buffers[row.Table] = append(a.buffers[row.Table], row)
	}
	a.buffered += len(rows)
	a.counters.Appended += len(rows)

	if a.buffered < a.threshold {
		return nil
	}
	return a.flushLocked(ctx)
}

func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// Close flushes what is left. Further appends fail with ErrClosed; a failed
// final flush leaves the accumulator open so the caller may retry.
func (a *Accumulator) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	if err := a.flushLocked(ctx); err != nil {
		return err
	}
	a.closed = true
	return nil
}

func (a *Accumulator) Counters() Counters {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := a.counters
	c.Buffered = a.buffered
	return c
}

func (a *Accumulator) flushLocked(ctx context.Context) error {
	if a.buffered == 0 {
		return nil
	}
	for len(a.order) > 0 {
		table := a.order[0]
		rows := a.buffers[table]
		if err := a.store.AppendRows(ctx, table, rows); err != nil {
			return fmt.Errorf("flush %d %s rows: %w", len(rows), table, err)
		}
		delete(a.buffers, table)
		a.order = a.order[1:]
		a.buffered -= len(rows)
		a.counters.Flushed += len(rows)
		a.logger.Debug("flushed rows", "table", table, "rows", len(rows))
	}
	a.order = nil
	a.counters.Flushes++
	return nil
}
