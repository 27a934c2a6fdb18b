package bibstore

import (
	"errors"
	"strings"
	"testing"
)

func TestCorruptionError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := error(corruptf([]byte{0xAA, 0xBB}, 1, inner, "oops"))
		var ce *CorruptionError
		if !errors.As(err, &ce) {
			t.Fatalf("err = %T, wanted *CorruptionError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		if !errors.Is(err, ErrCorrupted) {
			t.Fatalf("errors.Is(err, ErrCorrupted) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2) aabb") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2) aabb", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := corruptf(data, 0, nil, "oops").Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})

	t.Run("map and key", func(t *testing.T) {
		ce := corruptf(nil, 0, nil, "checksum mismatch")
		ce.Map = PrimaryMapName
		ce.Key = []byte("abc")
		s := ce.Error()
		if !strings.HasPrefix(s, PrimaryMapName+"/abc: checksum mismatch") {
			t.Fatalf("err.Error() = %q", s)
		}
	})
}

func TestOverloadedError(t *testing.T) {
	err := error(&OverloadedError{Limit: 7})
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("errors.Is(err, ErrOverloaded) = false, wanted true")
	}
	if errors.Is(err, ErrCorrupted) {
		t.Fatalf("errors.Is(err, ErrCorrupted) = true, wanted false")
	}
	if !strings.Contains(err.Error(), "limit 7") {
		t.Fatalf("err.Error() = %q, wanted the limit", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	inner := errors.New("inner")
	err := error(&ValidationError{Line: 12, Field: "ident", Msg: "missing", Err: inner})
	deepEqual(t, err.Error(), "invalid record at line 12: ident: missing: inner")
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	deepEqual(t, (&ValidationError{Msg: "blank"}).Error(), "invalid record: blank")
}

func TestSetupError(t *testing.T) {
	inner := errors.New("permission denied")
	err := setupErrf("/x.db", inner, "cannot open")
	deepEqual(t, err.Error(), "bibstore: setup /x.db: cannot open: permission denied")
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	deepEqual(t, setupErrf("", nil, "empty path").Error(), "bibstore: setup : empty path")
}
