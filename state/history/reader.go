package history

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/tracestate/tracestate/state"
)

// Reader answers queries on a finished history. Safe for concurrent use.
type Reader struct {
	db    *badger.DB
	owned bool
	info  header
	tree  *state.AttributeTree
}

// OpenReader opens the finished history stored at path, read-only.
func OpenReader(path string) (*Reader, error) {
	db, err := open(state.BackendConfig{Path: path}, true)
	if err != nil {
		return nil, err
	}
	r, err := newReader(db, true)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func newReader(db *badger.DB, owned bool) (*Reader, error) {
	var info header
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		info, err = decodeHeader(data)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors.New("history has no header: the build did not finish")
	}
	if err != nil {
		return nil, err
	}
	tree := state.NewAttributeTree()
	for _, a := range info.Attributes {
		q := tree.QuarkRelativeAndAdd(state.Quark(a.Parent), a.Name)
		if q != state.Quark(a.Quark) {
			return nil, fmt.Errorf("history attribute %q: quark %d stored as %d", a.Name, q, a.Quark)
		}
	}
	return &Reader{db: db, owned: owned, info: info, tree: tree}, nil
}

// Tree returns the attribute tree of the history.
func (r *Reader) Tree() *state.AttributeTree { return r.tree }

// StartTime returns the start of the history.
func (r *Reader) StartTime() int64 { return r.info.StartTime }

// EndTime returns the end of the history.
func (r *Reader) EndTime() int64 { return r.info.EndTime }

// Intervals returns the number of stored intervals.
func (r *Reader) Intervals() int64 { return r.info.Intervals }

func (r *Reader) checkQuark(q state.Quark) error {
	if q < 0 || int(q) >= r.tree.NumAttributes() {
		return fmt.Errorf("quark %d: %w", q, state.ErrAttributeNotFound)
	}
	return nil
}

// QuerySingleState returns the interval of q that contains t.
// At the end time the last interval is returned.
func (r *Reader) QuerySingleState(t int64, q state.Quark) (state.Interval, error) {
	if err := r.checkQuark(q); err != nil {
		return state.Interval{}, err
	}
	if t < r.info.StartTime || t > r.info.EndTime {
		return state.Interval{}, fmt.Errorf("t=%d not in [%d, %d]: %w", t, r.info.StartTime, r.info.EndTime, state.ErrTimeRange)
	}
	seek := t + 1
	if t == r.info.EndTime {
		seek = t
	}
	var iv state.Interval
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := quarkPrefix(q)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(intervalKey(q, seek))
		if !it.ValidForPrefix(prefix) {
			return fmt.Errorf("no interval of quark %d at %d", q, t)
		}
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		iv, err = decodeInterval(data)
		return err
	})
	if err != nil {
		return state.Interval{}, fmt.Errorf("query %s at %d: %w", r.tree.FullPath(q), t, err)
	}
	return iv, nil
}

// QueryFullState returns the state of every attribute at t, indexed by quark.
func (r *Reader) QueryFullState(t int64) ([]state.Interval, error) {
	n := r.tree.NumAttributes()
	result := make([]state.Interval, n)
	for q := state.Quark(0); int(q) < n; q++ {
		iv, err := r.QuerySingleState(t, q)
		if err != nil {
			return nil, err
		}
		result[q] = iv
	}
	return result, nil
}

// Query2D returns every interval of the given quarks intersecting [start, end],
// grouped by quark in argument order. The window is clipped to the history range.
func (r *Reader) Query2D(quarks []state.Quark, start, end int64) ([]state.Interval, error) {
	if start > end {
		return nil, fmt.Errorf("window [%d, %d]: %w", start, end, state.ErrTimeRange)
	}
	if end < r.info.StartTime || start > r.info.EndTime {
		return nil, fmt.Errorf("window [%d, %d] outside [%d, %d]: %w",
			start, end, r.info.StartTime, r.info.EndTime, state.ErrTimeRange)
	}
	start = max(start, r.info.StartTime)
	end = min(end, r.info.EndTime)

	result := make([]state.Interval, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		for _, q := range quarks {
			if err := r.checkQuark(q); err != nil {
				return err
			}
			if err := collect(txn, q, start, end, &result); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func collect(txn *badger.Txn, q state.Quark, start, end int64, out *[]state.Interval) error {
	prefix := quarkPrefix(q)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(intervalKey(q, start)); it.ValidForPrefix(prefix); it.Next() {
		data, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		iv, err := decodeInterval(data)
		if err != nil {
			return err
		}
		if iv.Start > end {
			break
		}
		if iv.Intersects(start, end) {
			*out = append(*out, iv)
		}
	}
	return nil
}

// Close releases the store. Readers obtained from a Writer leave it to the writer.
func (r *Reader) Close() error {
	if !r.owned {
		return nil
	}
	return r.db.Close()
}
