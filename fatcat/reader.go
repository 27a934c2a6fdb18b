// Package fatcat reads fatcat release dumps: one JSON release object per
// line. It is the record source for bibstore.Loader.
package fatcat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/buger/jsonparser"

	"github.com/scienceminer/bibstore"
)

// Config controls which records are emitted and how they are trimmed.
// It is copied into the Reader and never modified afterwards.
type Config struct {
	// IgnoreFields are removed from every record before it is stored. This
	// is lossy: the removed fields cannot be recovered from the store.
	// Nested fields use dots, e.g. "ext_ids.wikidata_qid".
	IgnoreFields []string

	// ExcludedReleaseTypes are release_type values whose records are never
	// emitted.
	ExcludedReleaseTypes []string
}

func DefaultConfig() Config {
	return Config{
		ExcludedReleaseTypes: []string{"stub", "abstract"},
	}
}

// Reader turns a line-delimited dump into a lazy sequence of records.
type Reader struct {
	ignore   [][]string
	excluded []string
	logger   *slog.Logger

	lines     atomic.Int64
	emitted   atomic.Int64
	excludedN atomic.Int64
	malformed atomic.Int64
}

type Stats struct {
	Lines     int64
	Emitted   int64
	Excluded  int64
	Malformed int64
}

func NewReader(cfg Config, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reader{
		excluded: slices.Clone(cfg.ExcludedReleaseTypes),
		logger:   logger,
	}
	for _, f := range cfg.IgnoreFields {
		if f = strings.TrimSpace(f); f != "" {
			r.ignore = append(r.ignore, strings.Split(f, "."))
		}
	}
	return r
}

func (r *Reader) Stats() Stats {
	return Stats{
		Lines:     r.lines.Load(),
		Emitted:   r.emitted.Load(),
		Excluded:  r.excludedN.Load(),
		Malformed: r.malformed.Load(),
	}
}

// Records returns a single-pass sequence over the records in in. Malformed
// lines are yielded as *bibstore.ValidationError and the sequence goes on;
// a read error is yielded once and ends the sequence.
func (r *Reader) Records(in io.Reader) iter.Seq2[bibstore.Record, error] {
	return func(yield func(bibstore.Record, error) bool) {
		br := bufio.NewReaderSize(in, 1<<20)
		var lineNo int
		for {
			line, err := br.ReadBytes('\n')
			if len(line) > 0 {
				lineNo++
				r.lines.Add(1)
				rec, ok, perr := r.ParseLine(line, lineNo)
				if perr != nil {
					r.malformed.Add(1)
					if !yield(bibstore.Record{Line: lineNo}, perr) {
						return
					}
				} else if ok {
					r.emitted.Add(1)
					if !yield(rec, nil) {
						return
					}
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				r.logger.Error("fatcat: reading dump failed", "line", lineNo, "err", err)
				yield(bibstore.Record{Line: lineNo}, err)
				return
			}
		}
	}
}

// ParseLine parses one dump line. ok is false for blank lines and for
// excluded release types. The ident is not validated here; the loader does
// that.
func (r *Reader) ParseLine(line []byte, lineNo int) (rec bibstore.Record, ok bool, err error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return rec, false, nil
	}
	if line[0] != '{' {
		return rec, false, &bibstore.ValidationError{Line: lineNo, Msg: "not a JSON object"}
	}
	// jsonparser stops at the first closing brace and never checks the rest.
	if !json.Valid(line) {
		return rec, false, &bibstore.ValidationError{Line: lineNo, Msg: "malformed JSON"}
	}

	if rt, err := jsonparser.GetString(line, "release_type"); err == nil && slices.Contains(r.excluded, rt) {
		r.excludedN.Add(1)
		return rec, false, nil
	}

	// bytes.TrimSpace returns a subslice of the caller's buffer, which
	// Delete would edit in place.
	doc := bytes.Clone(line)
	for _, path := range r.ignore {
		doc = jsonparser.Delete(doc, path...)
	}

	rec.Line = lineNo
	rec.Ident = optionalString(doc, "ident")
	rec.DOI = optionalString(doc, "ext_ids", "doi")
	rec.Payload = string(doc)
	return rec, true, nil
}

// optionalString treats a missing key, null and non-string values alike.
func optionalString(data []byte, keys ...string) string {
	s, err := jsonparser.GetString(data, keys...)
	if err != nil {
		return ""
	}
	return s
}
