package bibstore

import (
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Txn is either the single write transaction or one of the concurrently
// open read transactions. Every Txn must be closed; Close is idempotent and
// rolls back anything not committed.
type Txn struct {
	env      *Env
	stx      storageTx
	writable bool
	done     bool
	pending  int64

	startTime time.Time
	stack     []byte
}

// BeginRead opens a read transaction. If all reader slots are taken it
// fails immediately with an *OverloadedError; it never waits for a slot.
func (env *Env) BeginRead() (*Txn, error) {
	if env.closed.Load() {
		return nil, ErrClosed
	}
	if !env.readers.TryAcquire(1) {
		env.OverloadCount.Add(1)
		if env.opt.OverloadMeter != nil {
			env.opt.OverloadMeter.Inc()
		}
		return nil, &OverloadedError{Limit: env.opt.MaxReaders}
	}
	stx, err := env.st.BeginTx(false)
	if err != nil {
		env.readers.Release(1)
		return nil, fmt.Errorf("bibstore: begin read: %w", err)
	}
	env.ReaderCount.Add(1)
	env.ReadCount.Add(1)
	return env.newTx(stx, false), nil
}

// BeginWrite opens the write transaction, blocking until any other writer
// finishes.
func (env *Env) BeginWrite() (*Txn, error) {
	if env.closed.Load() {
		return nil, ErrClosed
	}
	env.PendingWriterCount.Add(1)
	stx, err := env.st.BeginTx(true)
	env.PendingWriterCount.Add(-1)
	if err != nil {
		return nil, fmt.Errorf("bibstore: begin write: %w", err)
	}
	env.WriterCount.Add(1)
	return env.newTx(stx, true), nil
}

func (env *Env) newTx(stx storageTx, writable bool) *Txn {
	tx := &Txn{
		env:       env,
		stx:       stx,
		writable:  writable,
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		env.addTx(tx)
	}
	return tx
}

// Read runs f inside a read transaction that is closed on every exit path.
func (env *Env) Read(f func(tx *Txn) error) error {
	tx, err := env.BeginRead()
	if err != nil {
		return err
	}
	defer tx.Close()
	return safelyCall(f, tx)
}

// Write runs f inside the write transaction, committing if f returns nil
// and rolling back otherwise.
func (env *Env) Write(f func(tx *Txn) error) error {
	tx, err := env.BeginWrite()
	if err != nil {
		return err
	}
	defer tx.Close()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	return tx.Commit()
}

type panicked struct {
	reason interface{}
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Txn) error, tx *Txn) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Txn) IsWritable() bool {
	return tx.writable
}

func (tx *Txn) bucket(m *Map) (storageBucket, error) {
	if tx.done {
		return nil, fmt.Errorf("bibstore: %s: transaction already closed", m.name)
	}
	b := tx.stx.Bucket(m.name)
	if b == nil {
		return nil, fmt.Errorf("%w: %q", ErrMapNotFound, m.name)
	}
	return b, nil
}

// Get returns the raw value stored under key, or nil. The slice is only
// valid until the transaction is closed.
func (tx *Txn) Get(m *Map, key []byte) ([]byte, error) {
	b, err := tx.bucket(m)
	if err != nil {
		return nil, err
	}
	return b.Get(key), nil
}

// Put stores a raw value, overwriting any existing one.
func (tx *Txn) Put(m *Map, key, value []byte) error {
	if !tx.IsWritable() {
		return fmt.Errorf("bibstore: %s: put in a read transaction", m.name)
	}
	b, err := tx.bucket(m)
	if err != nil {
		return err
	}
	if err := b.Put(key, value); err != nil {
		return fmt.Errorf("bibstore: %s/%s: put: %w", m.name, key, err)
	}
	tx.pending += int64(len(key) + len(value))
	return nil
}

// Entries iterates over the raw key-value pairs of m in key order. Slices
// are only valid during the iteration step.
func (tx *Txn) Entries(m *Map) (iter.Seq2[[]byte, []byte], error) {
	b, err := tx.bucket(m)
	if err != nil {
		return nil, err
	}
	return func(yield func(k, v []byte) bool) {
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if !yield(k, v) {
				return
			}
		}
	}, nil
}

// Count returns the number of entries in m, including the uncommitted
// writes of tx itself.
func (tx *Txn) Count(m *Map) (int, error) {
	b, err := tx.bucket(m)
	if err != nil {
		return 0, err
	}
	if !tx.IsWritable() {
		return b.Stats().KeyN, nil
	}
	// bolt page stats only cover committed pages.
	var n int
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}

// Commit makes the writes of tx durable and closes it. It fails with
// ErrMapFull, discarding the writes, if they could push the backing file
// past the configured maximum size.
func (tx *Txn) Commit() error {
	if tx.done {
		return fmt.Errorf("bibstore: commit of a closed transaction")
	}
	if !tx.writable {
		tx.Close()
		return nil
	}

	if limit := tx.env.opt.MaxSizeBytes; tx.stx.Size()+tx.pending > limit {
		err := fmt.Errorf("%w: %d + %d pending bytes exceed %d", ErrMapFull, tx.stx.Size(), tx.pending, limit)
		if rbErr := tx.stx.Rollback(); rbErr != nil {
			err = multierror.Append(err, rbErr)
		}
		tx.release()
		return err
	}

	if err := tx.stx.Commit(); err != nil {
		tx.release()
		return fmt.Errorf("bibstore: commit: %w", err)
	}
	tx.env.refreshSize()
	tx.env.WriteCount.Add(1)
	tx.release()
	return nil
}

// Close rolls back tx unless it was committed and frees its slot. Safe to
// call any number of times.
func (tx *Txn) Close() {
	if tx.done {
		return
	}
	// The only error Rollback is expected to report is a closed tx, which the
	// backend already maps to nil.
	if err := tx.stx.Rollback(); err != nil {
		tx.env.logger.Error("bibstore: rollback failed", "err", err)
	}
	tx.release()
}

func (tx *Txn) release() {
	if tx.done {
		return
	}
	tx.done = true
	if tx.writable {
		tx.env.WriterCount.Add(-1)
	} else {
		tx.env.ReaderCount.Add(-1)
		tx.env.readers.Release(1)
	}
	if trackTxns {
		tx.env.removeTx(tx)
	}
}
