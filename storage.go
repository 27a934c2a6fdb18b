package bibstore

// storage represents a key-value storage backend holding named maps.
type storage interface {
	// BeginTx starts a new transaction. Writable transactions are serialized
	// by the backend; a second writer blocks until the first one finishes.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
type storageTx interface {
	// Bucket returns a named map, or nil if it doesn't exist.
	Bucket(name string) storageBucket

	// CreateBucket creates a named map if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	// BucketNames lists all named maps.
	BucketNames() []string

	// Commit commits the transaction.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes as seen by this transaction.
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found. The returned
	// slice is only valid for the lifetime of the transaction.
	Get(key []byte) []byte

	// Put stores a key-value pair, replacing any existing value.
	Put(key, value []byte) error

	// Cursor returns a cursor for iteration in key order.
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}
