// Package codec implements the two wire formats the simulator must speak:
// the contract calldata blob (method/args/kwargs, or a bare return value,
// or a status-prefixed result — spec §4.1) and the signed submission
// envelope (spec §4.1, §6.2). Calldata encoding is a small self-describing
// binary format in the spirit of the teacher's length-prefixed binary
// headers (consensus.go's SubBlockHeader.Hash/BlockHeader.SerializeWithoutNonce
// use encoding/binary the same way); the envelope format defers to
// go-ethereum's RLP/ABI/crypto packages, the same libraries virtual_machine.go
// imports for address and keccak handling.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"gensim/addr"
)

// ErrMalformed is wrapped by any decode failure due to truncated or
// ill-formed bytes (spec §4.1, §7 MalformedEnvelope).
var ErrMalformed = errors.New("codec: malformed input")

type tag byte

const (
	tagNil tag = iota
	tagBool
	tagInt
	tagBytes
	tagString
	tagArray
	tagMap
	tagAddress
)

// Map is an ordered string-keyed value map, used for kwargs and for the
// method-call envelope itself ({method, args, kwargs}).
type Map struct {
	keys   []string
	values map[string]any
}

// NewMap returns an empty ordered map.
func NewMap() *Map { return &Map{values: make(map[string]any)} }

// Set assigns key to value, preserving first-insertion order.
func (m *Map) Set(key string, value any) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the insertion-ordered key list.
func (m *Map) Keys() []string { return m.keys }

// MethodCall is the decoded shape of a calldata blob that encodes a method
// invocation or constructor call (Method == nil means constructor).
type MethodCall struct {
	Method *string
	Args   []any
	Kwargs *Map
}

// EncodeValue serializes an arbitrary value (nil, bool, int64, uint64,
// []byte, string, []any, *Map, addr.Address) into a self-describing blob.
func EncodeValue(v any) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(byte(tagNil))
	case bool:
		buf.WriteByte(byte(tagBool))
		if x {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		encodeInt(buf, int64(x))
	case int64:
		encodeInt(buf, x)
	case uint64:
		encodeInt(buf, int64(x))
	case []byte:
		buf.WriteByte(byte(tagBytes))
		writeUvarint(buf, uint64(len(x)))
		buf.Write(x)
	case string:
		buf.WriteByte(byte(tagString))
		writeUvarint(buf, uint64(len(x)))
		buf.WriteString(x)
	case []any:
		buf.WriteByte(byte(tagArray))
		writeUvarint(buf, uint64(len(x)))
		for _, el := range x {
			encodeValue(buf, el)
		}
	case *Map:
		buf.WriteByte(byte(tagMap))
		writeUvarint(buf, uint64(len(x.keys)))
		for _, k := range x.keys {
			encodeValue(buf, k)
			encodeValue(buf, x.values[k])
		}
	case addr.Address:
		buf.WriteByte(byte(tagAddress))
		buf.Write(x.Bytes())
	default:
		// Fall back to string representation rather than silently dropping
		// the value — callers constructing calldata for unsupported Go
		// types have a programming error to fix.
		buf.WriteByte(byte(tagString))
		s := fmt.Sprintf("%v", x)
		writeUvarint(buf, uint64(len(s)))
		buf.WriteString(s)
	}
}

func encodeInt(buf *bytes.Buffer, n int64) {
	buf.WriteByte(byte(tagInt))
	var tmp [binary.MaxVarintLen64]byte
	nn := binary.PutVarint(tmp[:], n)
	buf.Write(tmp[:nn])
}

func writeUvarint(buf *bytes.Buffer, n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	nn := binary.PutUvarint(tmp[:], n)
	buf.Write(tmp[:nn])
}

// DecodeValue parses one self-describing value from raw and returns it
// along with the number of bytes consumed.
func DecodeValue(raw []byte) (any, int, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("%w: empty value", ErrMalformed)
	}
	r := bytes.NewReader(raw)
	v, err := decodeValue(r)
	if err != nil {
		return nil, 0, err
	}
	consumed := len(raw) - r.Len()
	return v, consumed, nil
}

func decodeValue(r *bytes.Reader) (any, error) {
	t, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch tag(t) {
	case tagNil:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated bool", ErrMalformed)
		}
		return b != 0, nil
	case tagInt:
		n, err := binary.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated int", ErrMalformed)
		}
		return n, nil
	case tagBytes:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated bytes length", ErrMalformed)
		}
		out := make([]byte, n)
		if _, err := readFull(r, out); err != nil {
			return nil, fmt.Errorf("%w: truncated bytes", ErrMalformed)
		}
		return out, nil
	case tagString:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated string length", ErrMalformed)
		}
		out := make([]byte, n)
		if _, err := readFull(r, out); err != nil {
			return nil, fmt.Errorf("%w: truncated string", ErrMalformed)
		}
		return string(out), nil
	case tagArray:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated array length", ErrMalformed)
		}
		out := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case tagMap:
		n, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated map length", ErrMalformed)
		}
		m := NewMap()
		for i := uint64(0); i < n; i++ {
			k, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%w: map key must be string", ErrMalformed)
			}
			v, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			m.Set(ks, v)
		}
		return m, nil
	case tagAddress:
		out := make([]byte, 20)
		if _, err := readFull(r, out); err != nil {
			return nil, fmt.Errorf("%w: truncated address", ErrMalformed)
		}
		return addr.FromBytes(out), nil
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformed, t)
	}
}

func readFull(r *bytes.Reader, out []byte) (int, error) {
	n, err := r.Read(out)
	if err == nil && n < len(out) {
		err = fmt.Errorf("short read")
	}
	return n, err
}

// EncodeMethodCall encodes a method invocation (or constructor call when
// method is nil) as {method, args, kwargs}.
func EncodeMethodCall(method *string, args []any, kwargs *Map) []byte {
	m := NewMap()
	if method == nil {
		m.Set("method", nil)
	} else {
		m.Set("method", *method)
	}
	argsAny := make([]any, len(args))
	copy(argsAny, args)
	m.Set("args", argsAny)
	if kwargs == nil {
		kwargs = NewMap()
	}
	m.Set("kwargs", kwargs)
	return EncodeValue(m)
}

// DecodeMethodCall decodes a calldata blob produced by EncodeMethodCall.
func DecodeMethodCall(raw []byte) (MethodCall, error) {
	v, _, err := DecodeValue(raw)
	if err != nil {
		return MethodCall{}, err
	}
	m, ok := v.(*Map)
	if !ok {
		return MethodCall{}, fmt.Errorf("%w: calldata is not a method-call map", ErrMalformed)
	}
	var out MethodCall
	if rawMethod, ok := m.Get("method"); ok && rawMethod != nil {
		s, ok := rawMethod.(string)
		if !ok {
			return MethodCall{}, fmt.Errorf("%w: method must be string or null", ErrMalformed)
		}
		out.Method = &s
	}
	if rawArgs, ok := m.Get("args"); ok {
		arr, ok := rawArgs.([]any)
		if !ok {
			return MethodCall{}, fmt.Errorf("%w: args must be array", ErrMalformed)
		}
		out.Args = arr
	}
	if rawKwargs, ok := m.Get("kwargs"); ok {
		km, ok := rawKwargs.(*Map)
		if !ok {
			return MethodCall{}, fmt.Errorf("%w: kwargs must be map", ErrMalformed)
		}
		out.Kwargs = km
	} else {
		out.Kwargs = NewMap()
	}
	return out, nil
}

// Result status prefixes (spec §4.1).
const (
	StatusSuccess byte = 0x00
	StatusRollback byte = 0x01
)

// EncodeSuccessResult prepends the success status byte to the calldata
// encoding of value.
func EncodeSuccessResult(value any) []byte {
	return append([]byte{StatusSuccess}, EncodeValue(value)...)
}

// EncodeRollbackResult prepends the rollback status byte to the UTF-8 bytes
// of errMsg.
func EncodeRollbackResult(errMsg string) []byte {
	return append([]byte{StatusRollback}, []byte(errMsg)...)
}

// DecodeResult splits a status-prefixed result into (success, value-or-nil,
// errMsg-or-empty).
func DecodeResult(raw []byte) (ok bool, value any, errMsg string, err error) {
	if len(raw) == 0 {
		return false, nil, "", fmt.Errorf("%w: empty result", ErrMalformed)
	}
	switch raw[0] {
	case StatusSuccess:
		v, _, derr := DecodeValue(raw[1:])
		if derr != nil {
			return false, nil, "", derr
		}
		return true, v, "", nil
	case StatusRollback:
		return false, nil, string(raw[1:]), nil
	default:
		return false, nil, "", fmt.Errorf("%w: unknown status byte %d", ErrMalformed, raw[0])
	}
}
