package bibstore

import (
	"iter"
	"log/slog"
	"os"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func testOptions() Options {
	opt := DefaultOptions()
	opt.MaxSizeBytes = 64 << 20
	opt.NoSync = true
	opt.Timeout = time.Second
	return opt
}

func setupEnv(t testing.TB, opt Options) *Env {
	t.Helper()

	dbFile := must(os.CreateTemp("", "bibstore_test_*.db"))
	t.Logf("DB: %s", dbFile.Name())
	dbFile.Close()

	env := must(Open(dbFile.Name(), opt))
	t.Cleanup(func() {
		env.Close()
		os.Remove(dbFile.Name())
	})
	return env
}

func setupStore(t testing.TB, opt Options) *Store {
	t.Helper()
	return must(NewStore(setupEnv(t, opt), StoreOptions{}))
}

func recordsOf(recs ...Record) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func load(t testing.TB, s *Store, batchSize int, recs ...Record) LoadResult {
	t.Helper()
	res, err := NewLoader(s, LoaderOptions{BatchSize: batchSize}).Load(recordsOf(recs...))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return res
}

type countingMeter struct {
	n atomic.Int64
}

func (m *countingMeter) Inc() {
	m.n.Add(1)
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func ok(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func wantFound(t testing.TB, payload string, found bool, err error, expected string) {
	t.Helper()
	ok(t, err)
	if !found {
		t.Fatalf("** not found, wanted %q", expected)
	}
	if payload != expected {
		t.Errorf("** got %q, wanted %q", payload, expected)
	}
}

func wantMissing(t testing.TB, payload string, found bool, err error) {
	t.Helper()
	ok(t, err)
	if found || payload != "" {
		t.Errorf("** got (%q, %v), wanted a miss", payload, found)
	}
}
