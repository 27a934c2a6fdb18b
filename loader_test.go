package bibstore

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
)

func numberedRecords(n int) []Record {
	recs := make([]Record, n)
	for i := range recs {
		recs[i] = Record{
			Ident:   fmt.Sprintf("ID%04d", i),
			DOI:     fmt.Sprintf("10.1/D%04d", i),
			Payload: fmt.Sprintf(`{"ident":"ID%04d","n":%d}`, i, i),
			Line:    i + 1,
		}
	}
	return recs
}

func TestLoader_BatchCommitBoundaries(t *testing.T) {
	for _, c := range []struct {
		total, batch int
		sizes        []int
	}{
		{11, 3, []int{3, 3, 3, 2}},
		{9, 3, []int{3, 3, 3}},
		{2, 3, []int{2}},
		{0, 3, nil},
		{5, 1, []int{1, 1, 1, 1, 1}},
	} {
		t.Run(fmt.Sprintf("%d_by_%d", c.total, c.batch), func(t *testing.T) {
			s := setupStore(t, testOptions())
			meter := &countingMeter{}
			var sizes []int
			loader := NewLoader(s, LoaderOptions{
				BatchSize: c.batch,
				Meter:     meter,
				OnCommit: func(batch, records int) error {
					if batch != len(sizes)+1 {
						t.Errorf("OnCommit batch = %d, wanted %d", batch, len(sizes)+1)
					}
					sizes = append(sizes, records)
					return nil
				},
			})
			res, err := loader.Load(recordsOf(numberedRecords(c.total)...))
			ok(t, err)
			deepEqual(t, sizes, c.sizes)
			deepEqual(t, res, LoadResult{Processed: c.total, Committed: c.total, Commits: len(c.sizes)})
			deepEqual(t, meter.n.Load(), int64(c.total))
			deepEqual(t, must(s.Stats()), map[string]int{PrimaryMapName: c.total, SecondaryMapName: c.total})
			deepEqual(t, s.env.WriterCount.Load(), int64(0))
		})
	}
}

func TestLoader_FailureAfterCommitKeepsCommittedBatches(t *testing.T) {
	s := setupStore(t, testOptions())
	injected := errors.New("injected")
	loader := NewLoader(s, LoaderOptions{
		BatchSize: 3,
		OnCommit: func(batch, records int) error {
			if batch == 2 {
				return injected
			}
			return nil
		},
	})
	res, err := loader.Load(recordsOf(numberedRecords(11)...))
	if !errors.Is(err, injected) {
		t.Fatalf("Load err = %v, wanted injected", err)
	}
	deepEqual(t, res.Commits, 2)
	deepEqual(t, res.Committed, 6)
	deepEqual(t, must(s.Stats()), map[string]int{PrimaryMapName: 6, SecondaryMapName: 6})
	deepEqual(t, s.env.WriterCount.Load(), int64(0))
}

func TestLoader_SourceErrorAbortsOnlyInFlightBatch(t *testing.T) {
	s := setupStore(t, testOptions())
	recs := numberedRecords(7)
	broken := errors.New("connection reset")
	source := func(yield func(Record, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
		yield(Record{}, broken)
	}

	res, err := NewLoader(s, LoaderOptions{BatchSize: 3}).Load(source)
	if !errors.Is(err, broken) {
		t.Fatalf("Load err = %v, wanted %v", err, broken)
	}
	deepEqual(t, res.Processed, 7)
	deepEqual(t, res.Committed, 6)
	deepEqual(t, res.Commits, 2)

	p, found, err := s.GetByPrimaryKey("id0005")
	wantFound(t, p, found, err, recs[5].Payload)
	p, found, err = s.GetByPrimaryKey("id0006")
	wantMissing(t, p, found, err)
	p, found, err = s.GetBySecondaryKey("10.1/d0006")
	wantMissing(t, p, found, err)
	deepEqual(t, s.env.DescribeOpenTxns(), "NO OPEN TRANSACTIONS")
}

func TestLoader_SkipsInvalidRecords(t *testing.T) {
	s := setupStore(t, testOptions())
	skipMeter := &countingMeter{}
	source := iter.Seq2[Record, error](func(yield func(Record, error) bool) {
		_ = yield(Record{Ident: "ok1", Payload: "1"}, nil) &&
			yield(Record{Ident: "  ", Payload: "blank"}, nil) &&
			yield(Record{Line: 3}, &ValidationError{Line: 3, Msg: "malformed JSON"}) &&
			yield(Record{Ident: strings.Repeat("x", 40000), Payload: "long"}, nil) &&
			yield(Record{Ident: "ok2", DOI: strings.Repeat("y", 40000), Payload: "2"}, nil) &&
			yield(Record{Ident: "ok3", DOI: "  ", Payload: "3"}, nil)
	})

	res, err := NewLoader(s, LoaderOptions{BatchSize: 2, SkipMeter: skipMeter}).Load(source)
	ok(t, err)
	deepEqual(t, res, LoadResult{Processed: 3, Committed: 3, Skipped: 3, Commits: 2})
	deepEqual(t, skipMeter.n.Load(), int64(3))
	deepEqual(t, must(s.Stats()), map[string]int{PrimaryMapName: 3, SecondaryMapName: 0})

	p, found, err := s.GetByPrimaryKey("ok3")
	wantFound(t, p, found, err, "3")
}

func TestLoader_OversizeDOIKeepsPrimaryEntry(t *testing.T) {
	s := setupStore(t, testOptions())
	longDOI := "10.1/" + strings.Repeat("y", 40000)
	res := load(t, s, 10,
		Record{Ident: "ok2", DOI: longDOI, Payload: "2"},
		Record{Ident: "ok4", DOI: "10.1/ok4", Payload: "4"},
	)
	deepEqual(t, res, LoadResult{Processed: 2, Committed: 2, Commits: 1})

	p, found, err := s.GetByPrimaryKey("ok2")
	wantFound(t, p, found, err, "2")
	p, found, err = s.GetBySecondaryKey(longDOI)
	wantMissing(t, p, found, err)
	p, found, err = s.GetBySecondaryKey("10.1/ok4")
	wantFound(t, p, found, err, "4")
	deepEqual(t, must(s.Stats()), map[string]int{PrimaryMapName: 2, SecondaryMapName: 1})
}

func TestLoader_ReloadIsIdempotent(t *testing.T) {
	s := setupStore(t, testOptions())
	recs := numberedRecords(10)

	load(t, s, 4, recs...)
	first := must(s.ListEntries(100, PrimaryMapName))
	firstSecondary := must(s.ListEntries(100, SecondaryMapName))
	firstStats := must(s.Stats())

	load(t, s, 3, recs...)
	deepEqual(t, must(s.ListEntries(100, PrimaryMapName)), first)
	deepEqual(t, must(s.ListEntries(100, SecondaryMapName)), firstSecondary)
	deepEqual(t, must(s.Stats()), firstStats)
}

func TestLoader_OverwriteKeepsLatest(t *testing.T) {
	s := setupStore(t, testOptions())
	load(t, s, 10,
		Record{Ident: "A", Payload: "old"},
		Record{Ident: "a", DOI: "10.1/a", Payload: "new"},
	)
	p, found, err := s.GetByPrimaryKey("A")
	wantFound(t, p, found, err, "new")
	p, found, err = s.GetBySecondaryKey("10.1/A")
	wantFound(t, p, found, err, "new")
	deepEqual(t, must(s.Stats())[PrimaryMapName], 1)
}

func TestLoader_MapFullAbortsBatch(t *testing.T) {
	opt := testOptions()
	opt.MaxSizeBytes = 256 << 10
	s := setupStore(t, opt)

	small := numberedRecords(3)
	load(t, s, 10, small...)

	big := make([]Record, 50)
	for i := range big {
		big[i] = Record{Ident: fmt.Sprintf("big%d", i), Payload: randomText(8192)}
	}
	_, err := NewLoader(s, LoaderOptions{BatchSize: 50}).Load(recordsOf(big...))
	if !errors.Is(err, ErrMapFull) {
		t.Fatalf("Load err = %v, wanted ErrMapFull", err)
	}
	deepEqual(t, must(s.Stats())[PrimaryMapName], 3)
}

func randomText(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	var buf strings.Builder
	seed := uint32(n*2654435761 + 1)
	for range n {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		buf.WriteByte(alphabet[seed%uint32(len(alphabet))])
	}
	return buf.String()
}
