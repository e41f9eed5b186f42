// Package codec defines how index keys and values are turned into bytes.
//
// Serialization must be deterministic: storage deduplicates values by byte
// equality, so the same logical value has to produce identical bytes every
// time. Deserialize reports malformed input as *Error, which the engine
// treats as storage corruption.
package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
)

// Externalizer converts values to and from their persisted form.
type Externalizer[V any] interface {
	Serialize(v V) ([]byte, error)
	Deserialize(data []byte) (V, error)
}

// KeyDescriptor is an Externalizer for keys. Keys are comparable so the engine
// can diff key sets with plain maps; the serialized bytes define storage order.
type KeyDescriptor[K comparable] interface {
	Externalizer[K]
}

// Error is returned by Deserialize for bytes that do not decode.
type Error struct {
	Codec string
	Data  []byte
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s codec: malformed %d-byte input: %v", e.Codec, len(e.Data), e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{apperrors.ErrCodec, e.Err}
}

func malformed(name string, data []byte, err error) *Error {
	return &Error{Codec: name, Data: data, Err: err}
}

// StringCodec stores strings as raw UTF-8.
type StringCodec struct{}

// String is the shared StringCodec instance.
var String StringCodec

func (StringCodec) Serialize(s string) ([]byte, error) {
	return []byte(s), nil
}

func (StringCodec) Deserialize(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", malformed("string", data, fmt.Errorf("invalid utf-8"))
	}
	return string(data), nil
}

// Uint64Codec stores integers as 8 big-endian bytes so byte order matches
// numeric order.
type Uint64Codec struct{}

var Uint64 Uint64Codec

func (Uint64Codec) Serialize(v uint64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, v), nil
}

func (Uint64Codec) Deserialize(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, malformed("uint64", data, fmt.Errorf("want 8 bytes"))
	}
	return binary.BigEndian.Uint64(data), nil
}

// JSONCodec stores values with encoding/json. Struct fields are emitted in
// declaration order and map keys sorted, which keeps output deterministic.
type JSONCodec[T any] struct{}

func JSON[T any]() JSONCodec[T] {
	return JSONCodec[T]{}
}

func (JSONCodec[T]) Serialize(v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json codec: marshaling: %w", err)
	}
	return data, nil
}

func (JSONCodec[T]) Deserialize(data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, malformed("json", data, err)
	}
	return v, nil
}
