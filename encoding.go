package bibstore

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	valueFormatV1  = 1
	valueHeaderLen = 1 + 8
)

var encodeBufPool = &sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

// EncodeKey returns the byte form of a key. Keys are stored as their raw
// UTF-8 bytes so that map order equals byte order of the text.
func EncodeKey(s string) []byte {
	return []byte(s)
}

func DecodeKey(b []byte) string {
	return string(b)
}

// EncodeValue encodes s as a msgpack string, compresses it with S2 and
// prefixes the result with a format byte and an xxhash64 of the compressed
// body.
//
// Value layout: format (1 byte) | xxhash64 of body (8 bytes, big endian) | body.
func EncodeValue(s string) ([]byte, error) {
	buf := encodeBufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer encodeBufPool.Put(buf)

	enc := msgpack.GetEncoder()
	enc.Reset(buf)
	err := enc.EncodeString(s)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, err
	}

	body := s2.Encode(nil, buf.Bytes())

	out := make([]byte, valueHeaderLen+len(body))
	out[0] = valueFormatV1
	binary.BigEndian.PutUint64(out[1:valueHeaderLen], xxhash.Sum64(body))
	copy(out[valueHeaderLen:], body)
	return out, nil
}

// DecodeValue reverses EncodeValue. Any failure is a *CorruptionError; data
// is not retained by the returned string.
func DecodeValue(data []byte) (string, error) {
	if len(data) < valueHeaderLen {
		return "", corruptf(data, 0, nil, "value shorter than header")
	}
	if data[0] != valueFormatV1 {
		return "", corruptf(data, 0, nil, "unknown value format %d", data[0])
	}
	body := data[valueHeaderLen:]
	if sum := binary.BigEndian.Uint64(data[1:valueHeaderLen]); sum != xxhash.Sum64(body) {
		return "", corruptf(data, 1, nil, "checksum mismatch")
	}

	raw, err := s2.Decode(nil, body)
	if err != nil {
		return "", corruptf(data, valueHeaderLen, err, "decompress")
	}

	r := bytes.NewReader(raw)
	dec := msgpack.GetDecoder()
	dec.Reset(r)
	s, err := dec.DecodeString()
	msgpack.PutDecoder(dec)
	if err != nil {
		return "", corruptf(data, valueHeaderLen, err, "failed to decode msgpack string")
	}
	if r.Len() != 0 {
		return "", corruptf(data, valueHeaderLen, nil, "%d trailing bytes after value", r.Len())
	}
	return s, nil
}
