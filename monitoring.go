package bibstore

type MapStats struct {
	Entries int

	DataSize  int64
	DataAlloc int64
}

func (tx *Txn) MapStats(m *Map) (MapStats, error) {
	b, err := tx.bucket(m)
	if err != nil {
		return MapStats{}, err
	}
	bs := b.Stats()
	return MapStats{
		Entries:   bs.KeyN,
		DataSize:  bs.LeafInuse,
		DataAlloc: bs.TotalAlloc(),
	}, nil
}

// MapStats returns detailed statistics for both maps.
func (s *Store) MapStats() (map[string]MapStats, error) {
	result := make(map[string]MapStats, 2)
	err := s.env.Read(func(tx *Txn) error {
		for _, m := range []*Map{s.primary, s.secondary} {
			ms, err := tx.MapStats(m)
			if err != nil {
				return err
			}
			result[m.name] = ms
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EnvStats is a snapshot of the environment counters.
type EnvStats struct {
	Size           int64
	OpenReaders    int64
	OpenWriters    int64
	PendingWriters int64
	Reads          uint64
	Writes         uint64
	Overloads      uint64
}

func (env *Env) Counters() EnvStats {
	return EnvStats{
		Size:           env.Size(),
		OpenReaders:    env.ReaderCount.Load(),
		OpenWriters:    env.WriterCount.Load(),
		PendingWriters: env.PendingWriterCount.Load(),
		Reads:          env.ReadCount.Load(),
		Writes:         env.WriteCount.Load(),
		Overloads:      env.OverloadCount.Load(),
	}
}
