// Package history persists closed state histories in BadgerDB and reads them
// back. Importing it registers the persistent backend of package state:
//
//	import _ "github.com/tracestate/tracestate/state/history"
package history

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/tracestate/tracestate/state"
)

// ErrClosed is returned by a Writer used after Finish or Close.
var ErrClosed = errors.New("history store closed")

// open opens a BadgerDB at cfg.Path, or in memory.
func open(cfg state.BackendConfig, readOnly bool) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent history")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if !readOnly {
			if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
				return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
			}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(readOnly)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", cfg.Path, err)
	}
	return db, nil
}

// Writer appends committed intervals to a BadgerDB write batch and writes the
// history header on Finish. Safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	db        *badger.DB
	batch     *badger.WriteBatch
	path      string
	inMemory  bool
	intervals int64
	finished  bool
	closed    bool
}

// NewWriter opens a history store for writing. Existing intervals at path are
// not removed; write every history to its own directory.
func NewWriter(cfg state.BackendConfig) (*Writer, error) {
	db, err := open(cfg, false)
	if err != nil {
		return nil, err
	}
	return &Writer{db: db, batch: db.NewWriteBatch(), path: cfg.Path, inMemory: cfg.InMemory}, nil
}

// Append implements state.Backend.
func (w *Writer) Append(iv state.Interval) error {
	value, err := encodeInterval(iv)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.finished {
		return ErrClosed
	}
	if err := w.batch.Set(intervalKey(iv.Quark, iv.End), value); err != nil {
		return fmt.Errorf("writing interval %v: %w", iv, err)
	}
	w.intervals++
	return nil
}

// Finish implements state.Backend: it flushes the batch and writes the header.
// On-disk stores are closed; in-memory stores stay open for Reader until Close.
func (w *Writer) Finish(info state.HistoryInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.finished {
		return ErrClosed
	}
	if err := w.batch.Flush(); err != nil {
		return fmt.Errorf("flushing intervals: %w", err)
	}
	data, err := encodeHeader(info, w.intervals)
	if err != nil {
		return fmt.Errorf("encoding history header: %w", err)
	}
	err = w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey, data)
	})
	if err != nil {
		return fmt.Errorf("writing history header: %w", err)
	}
	w.finished = true
	logrus.Debugf("history %s: %d intervals, %d attributes", w.path, w.intervals, len(info.Attributes))
	if w.inMemory {
		return nil
	}
	return w.closeLocked()
}

// Reader returns a reader over a finished in-memory history. The reader
// shares the store; closing the writer invalidates it.
func (w *Writer) Reader() (*Reader, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.closed:
		return nil, ErrClosed
	case !w.finished:
		return nil, errors.New("history not finished")
	case !w.inMemory:
		return nil, errors.New("on-disk history: use OpenReader")
	}
	return newReader(w.db, false)
}

// Close implements state.Backend. Intervals not yet finished are discarded.
// Safe to call multiple times.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if !w.finished {
		w.batch.Cancel()
	}
	return w.closeLocked()
}

func (w *Writer) closeLocked() error {
	w.closed = true
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("closing history %s: %w", w.path, err)
	}
	return nil
}
