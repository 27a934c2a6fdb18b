package bibstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrOverloaded is matched by every *OverloadedError. The caller decides
	// whether to retry, queue or fail; the store never retries on its own.
	ErrOverloaded = errors.New("bibstore: overloaded")

	// ErrCorrupted is matched by every *CorruptionError.
	ErrCorrupted = errors.New("bibstore: corrupted value")

	ErrClosed      = errors.New("bibstore: environment closed")
	ErrMapFull     = errors.New("bibstore: environment size limit reached")
	ErrTooManyMaps = errors.New("bibstore: named map limit reached")
	ErrMapNotFound = errors.New("bibstore: named map not found")
)

// OverloadedError is returned when all reader slots are taken.
type OverloadedError struct {
	Limit int
}

func (e *OverloadedError) Error() string {
	return fmt.Sprintf("bibstore: not enough readers (limit %d), increase them or reduce the parallel request rate", e.Limit)
}

func (e *OverloadedError) Is(target error) bool {
	return target == ErrOverloaded
}

// CorruptionError reports a stored entry that cannot be decoded. It only
// concerns the single entry at Key.
type CorruptionError struct {
	Map  string
	Key  []byte
	Data []byte
	Off  int
	Msg  string
	Err  error
}

func corruptf(data []byte, off int, err error, format string, args ...any) *CorruptionError {
	return &CorruptionError{Data: data, Off: off, Err: err, Msg: fmt.Sprintf(format, args...)}
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}

func (e *CorruptionError) Error() string {
	const prefixLen = 64
	const suffixLen = 32

	var buf strings.Builder
	if e.Map != "" {
		buf.WriteString(e.Map)
		if e.Key != nil {
			buf.WriteByte('/')
			buf.Write(e.Key)
		}
		buf.WriteString(": ")
	}
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}

	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		fmt.Fprintf(&buf, ": (%d) %x", n, e.Data)
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		fmt.Fprintf(&buf, ": (%d) %x...%x", n, p, s)
	}
	return buf.String()
}

// ValidationError describes an input record that cannot be stored. Loaders
// log and skip such records.
type ValidationError struct {
	Line  int
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Error() string {
	var buf strings.Builder
	buf.WriteString("invalid record")
	if e.Line > 0 {
		fmt.Fprintf(&buf, " at line %d", e.Line)
	}
	if e.Field != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Field)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// SetupError is returned when the environment cannot be opened or created.
type SetupError struct {
	Path string
	Msg  string
	Err  error
}

func setupErrf(path string, err error, format string, args ...any) error {
	return &SetupError{path, fmt.Sprintf(format, args...), err}
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bibstore: setup %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("bibstore: setup %s: %s", e.Path, e.Msg)
}
