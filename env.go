package bibstore

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/semaphore"
)

const trackTxns = true

const (
	DefaultMaxSizeBytes = 64 << 30
	DefaultMaxMaps      = 10
	DefaultMaxReaders   = 126

	maxInitialMmapSize = 1 << 30
)

// Meter counts events for an external observability collaborator.
// prometheus.Counter satisfies it.
type Meter interface {
	Inc()
}

// Env is a single memory-mapped backing file holding named maps. It allows
// one writer at a time and at most MaxReaders concurrent readers.
type Env struct {
	st      storage
	path    string
	opt     Options
	logger  *slog.Logger
	readers *semaphore.Weighted

	maps     map[string]*Map
	mapsLock sync.Mutex

	closed   atomic.Bool
	lastSize atomic.Int64

	ReaderCount        atomic.Int64
	WriterCount        atomic.Int64
	PendingWriterCount atomic.Int64
	ReadCount          atomic.Uint64
	WriteCount         atomic.Uint64
	OverloadCount      atomic.Uint64

	txns     []*Txn
	txnsLock sync.Mutex
}

type Options struct {
	MaxSizeBytes int64
	MaxMaps      int
	MaxReaders   int

	// NoSync skips fsync on commit. Only for tests and throwaway imports.
	NoSync bool

	// Timeout bounds waiting for the file lock held by another process.
	Timeout time.Duration

	// OverloadMeter is incremented each time a reader is refused.
	OverloadMeter Meter

	Logger *slog.Logger
}

// DefaultOptions returns the limits used by the command line tool.
func DefaultOptions() Options {
	return Options{
		MaxSizeBytes: DefaultMaxSizeBytes,
		MaxMaps:      DefaultMaxMaps,
		MaxReaders:   DefaultMaxReaders,
		Timeout:      10 * time.Second,
	}
}

// Open opens or creates the environment at path. Any failure is a
// *SetupError.
func Open(path string, opt Options) (*Env, error) {
	if path == "" {
		return nil, setupErrf(path, nil, "empty path")
	}
	if opt.MaxSizeBytes <= 0 {
		return nil, setupErrf(path, nil, "max size must be positive, got %d", opt.MaxSizeBytes)
	}
	if opt.MaxMaps <= 0 {
		return nil, setupErrf(path, nil, "max maps must be positive, got %d", opt.MaxMaps)
	}
	if opt.MaxReaders <= 0 {
		return nil, setupErrf(path, nil, "max readers must be positive, got %d", opt.MaxReaders)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return nil, setupErrf(path, nil, "path is a directory")
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = opt.Timeout
	bopt.FreelistType = bbolt.FreelistMapType
	bopt.InitialMmapSize = int(min(opt.MaxSizeBytes, maxInitialMmapSize))
	if opt.NoSync {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, setupErrf(path, err, "cannot open")
	}

	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	env := &Env{
		st:      newBoltStorage(bdb),
		path:    path,
		opt:     opt,
		logger:  logger,
		readers: semaphore.NewWeighted(int64(opt.MaxReaders)),
		maps:    make(map[string]*Map),
	}
	env.refreshSize()
	return env, nil
}

func (env *Env) Path() string {
	return env.path
}

func (env *Env) Options() Options {
	return env.opt
}

// Size returns the size of the backing file as of the last committed write.
func (env *Env) Size() int64 {
	return env.lastSize.Load()
}

func (env *Env) refreshSize() {
	if fi, err := os.Stat(env.path); err == nil {
		env.lastSize.Store(fi.Size())
	}
}

// Close releases the backing file. Open transactions must be closed first.
func (env *Env) Close() error {
	if !env.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := env.st.Close(); err != nil {
		return fmt.Errorf("bibstore: closing: %w", err)
	}
	return nil
}

// OpenMap returns a handle to the named map, creating it if absent. It must
// not be called while the calling goroutine holds a write transaction.
func (env *Env) OpenMap(name string) (*Map, error) {
	if name == "" {
		return nil, fmt.Errorf("bibstore: empty map name")
	}

	env.mapsLock.Lock()
	defer env.mapsLock.Unlock()
	if m := env.maps[name]; m != nil {
		return m, nil
	}

	err := env.Write(func(tx *Txn) error {
		if tx.stx.Bucket(name) != nil {
			return nil
		}
		if n := len(tx.stx.BucketNames()); n >= env.opt.MaxMaps {
			return fmt.Errorf("%w: %d maps exist, cannot create %q", ErrTooManyMaps, n, name)
		}
		_, err := tx.stx.CreateBucket(name)
		return err
	})
	if err != nil {
		return nil, err
	}

	m := &Map{name: name}
	env.maps[name] = m
	return m, nil
}

// Stats returns the number of entries in the named map.
func (env *Env) Stats(mapName string) (int, error) {
	var n int
	err := env.Read(func(tx *Txn) error {
		b := tx.stx.Bucket(mapName)
		if b == nil {
			return fmt.Errorf("%w: %q", ErrMapNotFound, mapName)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

func (env *Env) addTx(tx *Txn) {
	env.txnsLock.Lock()
	defer env.txnsLock.Unlock()
	env.txns = append(env.txns, tx)
}

func (env *Env) removeTx(tx *Txn) {
	env.txnsLock.Lock()
	defer env.txnsLock.Unlock()

	found := slices.Index(env.txns, tx)
	if found < 0 {
		panic("tx not found in list")
	}

	n := len(env.txns)
	env.txns[found] = env.txns[n-1]
	env.txns[n-1] = nil // ensure it gets collected
	env.txns = env.txns[:n-1]
}

func (env *Env) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	env.txnsLock.Lock()
	txns := slices.Clone(env.txns)
	env.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Txn) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		kind := "read"
		if tx.writable {
			kind = "write"
		}
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms\n", kind, ms)
		} else {
			fmt.Fprintf(&buf, "\n---\n%s open for %d ms:\n%s", kind, ms, tx.stack)
		}
	}

	return buf.String()
}

// Map is a handle to a named map inside the environment.
type Map struct {
	name string
}

func (m *Map) Name() string {
	return m.name
}
