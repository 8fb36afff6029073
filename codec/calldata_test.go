package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gensim/addr"
)

func TestValueRoundTrip(t *testing.T) {
	a, _ := addr.Parse("0x1234567890123456789012345678901234567890")
	kwargs := NewMap()
	kwargs.Set("flag", true)

	values := []any{
		nil,
		true,
		false,
		int64(-42),
		int64(1 << 40),
		[]byte("raw-bytes"),
		"hello world",
		[]any{int64(1), "two", false},
		a,
		kwargs,
	}

	for _, v := range values {
		enc := EncodeValue(v)
		got, consumed, err := DecodeValue(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), consumed)
		require.Equal(t, v, got)
	}
}

func TestMethodCallRoundTrip(t *testing.T) {
	method := "transfer"
	kwargs := NewMap()
	kwargs.Set("memo", "rent")

	enc := EncodeMethodCall(&method, []any{"0xabc", int64(10)}, kwargs)
	decoded, err := DecodeMethodCall(enc)
	require.NoError(t, err)
	require.NotNil(t, decoded.Method)
	require.Equal(t, "transfer", *decoded.Method)
	require.Equal(t, []any{"0xabc", int64(10)}, decoded.Args)
	memo, ok := decoded.Kwargs.Get("memo")
	require.True(t, ok)
	require.Equal(t, "rent", memo)
}

func TestConstructorCallHasNilMethod(t *testing.T) {
	enc := EncodeMethodCall(nil, []any{int64(1)}, nil)
	decoded, err := DecodeMethodCall(enc)
	require.NoError(t, err)
	require.Nil(t, decoded.Method)
	require.Empty(t, decoded.Kwargs.Keys())
}

func TestResultStatusPrefix(t *testing.T) {
	success := EncodeSuccessResult("ok")
	ok, value, errMsg, err := DecodeResult(success)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ok", value)
	require.Empty(t, errMsg)

	rollback := EncodeRollbackResult("insufficient balance")
	ok, _, errMsg, err = DecodeResult(rollback)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "insufficient balance", errMsg)
}

func TestDecodeValueRejectsTruncatedInput(t *testing.T) {
	_, _, err := DecodeValue([]byte{byte(tagBytes), 10})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeResultRejectsUnknownStatus(t *testing.T) {
	_, _, _, err := DecodeResult([]byte{0x7F})
	require.ErrorIs(t, err, ErrMalformed)
}
