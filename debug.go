package bibstore

import (
	"fmt"
	"io"
	"strings"
)

type DumpFlags uint64

const (
	DumpMapHeaders = DumpFlags(1 << iota)
	DumpStats
	DumpRows
	DumpEnv

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump writes a human-readable description of both maps to w. Rows that
// fail to decode are printed with the error instead of the value.
func (s *Store) Dump(w io.Writer, f DumpFlags) error {
	if f.Contains(DumpEnv) {
		c := s.env.Counters()
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "env %s: size = %d, readers = %d/%d, reads = %d, writes = %d, overloads = %d\n", s.env.Path(), c.Size, c.OpenReaders, s.env.Options().MaxReaders, c.Reads, c.Writes, c.Overloads)
	}
	return s.env.Read(func(tx *Txn) error {
		for _, m := range []*Map{s.primary, s.secondary} {
			if err := dumpMap(w, tx, f, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func dumpMap(w io.Writer, tx *Txn, f DumpFlags, m *Map) error {
	ms, err := tx.MapStats(m)
	if err != nil {
		return err
	}
	if f.Contains(DumpMapHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d entries)\n", m.name, ms.Entries)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: data_size = %d, data_alloc = %d\n", m.name, ms.DataSize, ms.DataAlloc)
	}
	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		rows, err := tx.Entries(m)
		if err != nil {
			return err
		}
		var pos int
		for k, v := range rows {
			pos++
			val, err := DecodeValue(v)
			if err != nil {
				fmt.Fprintf(w, "%s.%d: %s = ** ERROR: %v\n", m.name, pos, k, err)
				continue
			}
			fmt.Fprintf(w, "%s.%d: %s = %s\n", m.name, pos, k, val)
		}
	}
	return nil
}
