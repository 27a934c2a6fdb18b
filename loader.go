package bibstore

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

const DefaultBatchSize = 10000

type LoaderOptions struct {
	// BatchSize is the number of records committed per write transaction.
	BatchSize int

	// Meter is incremented once per stored record.
	Meter Meter
	// SkipMeter is incremented once per skipped record.
	SkipMeter Meter

	// OnCommit is called after each successful commit with the 1-based
	// batch number and the number of records in it. Returning an error
	// stops the load; everything committed so far stays durable.
	OnCommit func(batch, records int) error

	Logger *slog.Logger
}

// LoadResult summarizes a load. Processed counts records written to a
// transaction, Committed those whose transaction was committed.
type LoadResult struct {
	Processed int
	Committed int
	Skipped   int
	Commits   int
}

// Loader writes records into a Store in size-bounded write transactions.
type Loader struct {
	store  *Store
	opt    LoaderOptions
	logger *slog.Logger
}

func NewLoader(store *Store, opt LoaderOptions) *Loader {
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	logger := opt.Logger
	if logger == nil {
		logger = store.logger
	}
	return &Loader{store: store, opt: opt, logger: logger}
}

// Load pulls every record from records, writing ident -> payload and, when
// a valid DOI is present, doi -> ident in the same transaction. A
// *ValidationError from the source or an invalid ident skips the record;
// an invalid DOI only drops the doi -> ident entry. Any other error rolls
// back the in-flight batch only and is returned together with the counts
// so far.
//
// Writes are keyed overwrites, so loading the same input again is
// idempotent.
func (l *Loader) Load(records iter.Seq2[Record, error]) (res LoadResult, err error) {
	env := l.store.env
	tx, err := env.BeginWrite()
	if err != nil {
		return res, err
	}
	defer func() {
		tx.Close()
	}()

	var counter int
	for rec, srcErr := range records {
		if srcErr != nil {
			if l.skip(&res, srcErr) {
				continue
			}
			return res, l.abort(res, counter, fmt.Errorf("bibstore: reading records: %w", srcErr))
		}

		ident := NormalizeKey(rec.Ident)
		if verr := validateKey("ident", ident, rec.Line); verr != nil {
			l.skip(&res, verr)
			continue
		}
		doi := NormalizeKey(rec.DOI)
		if doi != "" {
			if verr := validateKey("doi", doi, rec.Line); verr != nil {
				// The record stays reachable by ident.
				l.logger.Warn("bibstore: not indexing DOI", "ident", ident, "err", verr)
				doi = ""
			}
		}

		if err := l.put(tx, ident, doi, rec.Payload); err != nil {
			return res, l.abort(res, counter, err)
		}
		if l.opt.Meter != nil {
			l.opt.Meter.Inc()
		}
		res.Processed++
		counter++

		if counter == l.opt.BatchSize {
			if err := l.commit(tx, &res, counter); err != nil {
				return res, err
			}
			counter = 0
			next, err := env.BeginWrite()
			if err != nil {
				return res, err
			}
			tx = next
		}
	}

	if counter > 0 {
		if err := l.commit(tx, &res, counter); err != nil {
			return res, err
		}
	}
	l.logger.Info("bibstore: load finished", "processed", res.Processed, "committed", res.Committed, "skipped", res.Skipped, "commits", res.Commits)
	return res, nil
}

func (l *Loader) put(tx *Txn, ident, doi, payload string) error {
	val, err := EncodeValue(payload)
	if err != nil {
		return fmt.Errorf("bibstore: encoding %s: %w", ident, err)
	}
	if err := tx.Put(l.store.primary, EncodeKey(ident), val); err != nil {
		return err
	}
	if doi == "" {
		return nil
	}
	ref, err := EncodeValue(ident)
	if err != nil {
		return fmt.Errorf("bibstore: encoding %s: %w", doi, err)
	}
	return tx.Put(l.store.secondary, EncodeKey(doi), ref)
}

func (l *Loader) commit(tx *Txn, res *LoadResult, n int) error {
	if err := tx.Commit(); err != nil {
		l.logger.Error("bibstore: batch commit failed", "batch", res.Commits+1, "records", n, "err", err)
		return err
	}
	res.Commits++
	res.Committed += n
	l.logger.Debug("bibstore: batch committed", "batch", res.Commits, "records", n, "total", res.Committed)
	if l.opt.OnCommit != nil {
		if err := l.opt.OnCommit(res.Commits, n); err != nil {
			return fmt.Errorf("bibstore: after batch %d: %w", res.Commits, err)
		}
	}
	return nil
}

func (l *Loader) skip(res *LoadResult, err error) bool {
	var verr *ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	res.Skipped++
	if l.opt.SkipMeter != nil {
		l.opt.SkipMeter.Inc()
	}
	l.logger.Warn("bibstore: skipping record", "err", err)
	return true
}

func (l *Loader) abort(res LoadResult, pending int, err error) error {
	l.logger.Error("bibstore: load aborted, rolling back in-flight batch", "batch", res.Commits+1, "lost", pending, "committed", res.Committed, "err", err)
	return err
}
