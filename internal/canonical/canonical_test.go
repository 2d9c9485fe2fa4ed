package canonical

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAndOmitsWhitespace(t *testing.T) {
	a := map[string]interface{}{"b": 2, "a": 1, "c": map[string]interface{}{"z": true, "y": "x"}}
	got, err := Marshal(a)
	require.NoError(t, err)
	require.Equal(t, `{"a":1,"b":2,"c":{"y":"x","z":true}}`, string(got))
}

func TestMarshalPreservesNonASCII(t *testing.T) {
	got, err := Marshal(map[string]interface{}{"msg": "привет <&>"})
	require.NoError(t, err)
	require.Equal(t, `{"msg":"привет <&>"}`, string(got))
}

func TestMarshalScalars(t *testing.T) {
	for _, tc := range []struct {
		in   interface{}
		want string
	}{
		{nil, "null"},
		{"plain text", "plain text"},
		{true, "true"},
		{42, "42"},
		{int64(7), "7"},
		{3.5, "3.5"},
	} {
		got, err := Marshal(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, string(got))
	}
}

func TestHashPayloadIsStableAcrossKeyOrder(t *testing.T) {
	h1 := HashPayload(map[string]interface{}{"x": 1, "y": "two"})
	h2 := HashPayload(map[string]interface{}{"y": "two", "x": 1})
	require.Equal(t, h1, h2)
	require.True(t, strings.HasPrefix(h1, "sha256:"))
	require.Len(t, strings.TrimPrefix(h1, "sha256:"), 64)
}

func TestHashPayloadDiffersForDifferentContent(t *testing.T) {
	require.NotEqual(t, HashPayload("a"), HashPayload("b"))
}
