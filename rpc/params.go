package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gensim/addr"
)

// Params is the normalized view of a JSON-RPC params value — either a
// positional array or a named object — accessed uniformly by position or
// name (spec §4.7 "the Dispatcher normalizes both to an integer-keyed or
// string-keyed lookup").
type Params struct {
	arr []any
	obj map[string]any
}

// ParseParams decodes raw JSON-RPC params (array, object, or absent).
func ParseParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Params{}, nil
	}
	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil {
		return Params{arr: arr}, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return Params{obj: obj}, nil
	}
	return Params{}, fmt.Errorf("rpc: params is neither array nor object")
}

// At returns the positional value at index, or the named value at key if
// params arrived as an object.
func (p Params) At(index int, key string) (any, bool) {
	if p.obj != nil {
		v, ok := p.obj[key]
		return v, ok
	}
	if index >= 0 && index < len(p.arr) {
		return p.arr[index], true
	}
	return nil, false
}

func (p Params) String(index int, key string) (string, error) {
	v, ok := p.At(index, key)
	if !ok {
		return "", fmt.Errorf("rpc: missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("rpc: parameter %q must be a string", key)
	}
	return s, nil
}

func (p Params) OptString(index int, key, def string) string {
	s, err := p.String(index, key)
	if err != nil {
		return def
	}
	return s
}

func (p Params) Address(index int, key string) (addr.Address, error) {
	s, err := p.String(index, key)
	if err != nil {
		return addr.Address{}, err
	}
	return addr.Parse(s)
}

func (p Params) Uint64(index int, key string) (uint64, error) {
	v, ok := p.At(index, key)
	if !ok {
		return 0, fmt.Errorf("rpc: missing parameter %q", key)
	}
	switch x := v.(type) {
	case float64:
		return uint64(x), nil
	case string:
		return parseMaybeHexUint(x)
	default:
		return 0, fmt.Errorf("rpc: parameter %q must be a number or hex string", key)
	}
}

func (p Params) OptUint64(index int, key string, def uint64) uint64 {
	n, err := p.Uint64(index, key)
	if err != nil {
		return def
	}
	return n
}

// HexBytes decodes a "0x"-prefixed (or bare) hex parameter into raw bytes.
func (p Params) HexBytes(index int, key string) ([]byte, error) {
	s, err := p.String(index, key)
	if err != nil {
		return nil, err
	}
	return decodeHex(s)
}

// Any returns the raw value at index/key, useful for args/kwargs blobs
// that get passed through to the codec layer unmodified.
func (p Params) Any(index int, key string) (any, bool) { return p.At(index, key) }

// Object returns the positional value at index as an object, for params
// shaped as a single-element array of a parameter object (e.g. gen_call's
// [{type,to,from,data}]) rather than a flat positional list.
func (p Params) Object(index int, key string) (map[string]any, error) {
	v, ok := p.At(index, key)
	if !ok {
		return nil, fmt.Errorf("rpc: missing parameter %q", key)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rpc: parameter %q must be an object", key)
	}
	return obj, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func parseMaybeHexUint(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		var n uint64
		_, err := fmt.Sscanf(s, "0x%x", &n)
		return n, err
	}
	var n uint64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
