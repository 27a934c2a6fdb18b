package bibstore

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	PrimaryMapName   = "fatcat_Jsondoc"
	SecondaryMapName = "fatcat_doi2fatcat"

	DefaultListLimit = 100
)

// Store serves metadata records by ident (primary map) and by DOI
// (secondary map holding doi -> ident). Every call opens and closes its own
// transaction; nothing is held across calls.
type Store struct {
	env       *Env
	primary   *Map
	secondary *Map
	logger    *slog.Logger
	listLimit int
}

type StoreOptions struct {
	// DefaultListLimit caps ListEntries when no limit is given.
	DefaultListLimit int
	Logger           *slog.Logger
}

// Entry is a decoded key-value pair returned by ListEntries.
type Entry struct {
	Key   string
	Value string
}

// MatchingDocument is the answer to a lookup by ident or DOI. JSON is empty
// when nothing matched.
type MatchingDocument struct {
	Key  string
	JSON string
}

func (d MatchingDocument) Found() bool {
	return d.JSON != ""
}

// NewStore opens (creating if needed) the primary and secondary maps.
func NewStore(env *Env, opt StoreOptions) (*Store, error) {
	primary, err := env.OpenMap(PrimaryMapName)
	if err != nil {
		return nil, err
	}
	secondary, err := env.OpenMap(SecondaryMapName)
	if err != nil {
		return nil, err
	}
	s := &Store{
		env:       env,
		primary:   primary,
		secondary: secondary,
		logger:    opt.Logger,
		listLimit: opt.DefaultListLimit,
	}
	if s.logger == nil {
		s.logger = env.logger
	}
	if s.listLimit <= 0 {
		s.listLimit = DefaultListLimit
	}
	return s, nil
}

func (s *Store) Env() *Env {
	return s.env
}

func (s *Store) mapByName(name string) (*Map, error) {
	switch name {
	case "", PrimaryMapName:
		return s.primary, nil
	case SecondaryMapName:
		return s.secondary, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrMapNotFound, name)
	}
}

// GetByPrimaryKey returns the payload stored under the normalized key.
// Absence is (_, false, nil). An entry that fails to decode is logged and
// reported as absent. Reader slot exhaustion is returned as ErrOverloaded.
func (s *Store) GetByPrimaryKey(key string) (string, bool, error) {
	key = NormalizeKey(key)
	if key == "" {
		return "", false, nil
	}
	var payload string
	var found bool
	err := s.env.Read(func(tx *Txn) error {
		var err error
		payload, found, err = s.get(tx, s.primary, key)
		return err
	})
	return payload, found, err
}

// GetBySecondaryKey resolves the DOI to an ident through the secondary map
// and returns the payload stored under that ident. A miss in the secondary
// map never touches the primary map. Both hops share one read transaction.
func (s *Store) GetBySecondaryKey(doi string) (string, bool, error) {
	doi = NormalizeKey(doi)
	if doi == "" {
		return "", false, nil
	}
	var payload string
	var found bool
	err := s.env.Read(func(tx *Txn) error {
		ident, ok, err := s.get(tx, s.secondary, doi)
		if err != nil || !ok {
			return err
		}
		payload, found, err = s.get(tx, s.primary, NormalizeKey(ident))
		return err
	})
	return payload, found, err
}

func (s *Store) get(tx *Txn, m *Map, key string) (string, bool, error) {
	raw, err := tx.Get(m, EncodeKey(key))
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	v, err := DecodeValue(raw)
	if err != nil {
		s.logCorruption(m, raw, []byte(key), err)
		return "", false, nil
	}
	return v, true, nil
}

func (s *Store) logCorruption(m *Map, raw, key []byte, err error) {
	var ce *CorruptionError
	if errors.As(err, &ce) {
		ce.Map = m.name
		ce.Key = append([]byte(nil), key...)
		ce.Data = append([]byte(nil), raw...)
	}
	s.logger.Error("bibstore: cannot decode entry", "map", m.name, hexAttr("key", key), "err", err)
}

// LookupByIdent is GetByPrimaryKey for a serving layer: a blank ident is a
// *ValidationError, a miss is a MatchingDocument with empty JSON.
func (s *Store) LookupByIdent(ident string) (MatchingDocument, error) {
	if NormalizeKey(ident) == "" {
		return MatchingDocument{}, &ValidationError{Field: "ident", Msg: "blank"}
	}
	payload, _, err := s.GetByPrimaryKey(ident)
	if err != nil {
		return MatchingDocument{}, err
	}
	return MatchingDocument{Key: ident, JSON: payload}, nil
}

// LookupByDOI is GetBySecondaryKey for a serving layer.
func (s *Store) LookupByDOI(doi string) (MatchingDocument, error) {
	if NormalizeKey(doi) == "" {
		return MatchingDocument{}, &ValidationError{Field: "doi", Msg: "blank"}
	}
	payload, _, err := s.GetBySecondaryKey(doi)
	if err != nil {
		return MatchingDocument{}, err
	}
	return MatchingDocument{Key: doi, JSON: payload}, nil
}

// List is ListEntries over the primary map.
func (s *Store) List(limit int) ([]Entry, error) {
	return s.ListEntries(limit, PrimaryMapName)
}

// ListEntries returns up to limit decoded entries of the named map in key
// order. limit <= 0 means the default cap. Entries that fail to decode are
// logged and skipped. Meant for diagnostics.
func (s *Store) ListEntries(limit int, mapName string) ([]Entry, error) {
	m, err := s.mapByName(mapName)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.listLimit
	}

	var entries []Entry
	err = s.env.Read(func(tx *Txn) error {
		rows, err := tx.Entries(m)
		if err != nil {
			return err
		}
		for k, v := range rows {
			val, err := DecodeValue(v)
			if err != nil {
				s.logCorruption(m, v, k, err)
				continue
			}
			entries = append(entries, Entry{Key: DecodeKey(k), Value: val})
			if len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Stats returns the number of entries per map.
func (s *Store) Stats() (map[string]int, error) {
	result := make(map[string]int, 2)
	err := s.env.Read(func(tx *Txn) error {
		for _, m := range []*Map{s.primary, s.secondary} {
			n, err := tx.Count(m)
			if err != nil {
				return err
			}
			result[m.name] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
