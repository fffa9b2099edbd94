package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	v := NewVerifier("partner-key")
	bodies := [][]byte{
		[]byte(`{"code":3,"data":{"content":{"text":"運費多少"}}}`),
		[]byte(``),
		[]byte("\x00\xff binary"),
	}
	for _, body := range bodies {
		sig := v.Sign(body)
		require.True(t, v.Verify(body, sig))
		require.True(t, v.Verify(body, "sha256="+sig))
	}
}

func TestVerifyRejectsSingleByteMutations(t *testing.T) {
	v := NewVerifier("partner-key")
	body := []byte(`{"code":3,"shop_id":1001,"data":{"from_id":42}}`)
	sig := v.Sign(body)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		require.False(t, v.Verify(mutated, sig), "body byte %d", i)
	}

	for i := range sig {
		mutated := []byte(sig)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		require.False(t, v.Verify(body, string(mutated)), "signature char %d", i)
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	v := NewVerifier("partner-key")
	body := []byte(`{}`)

	for _, sig := range []string{"", "   ", "not-hex", v.Sign(body)[:10], v.Sign(body) + "00"} {
		require.False(t, v.Verify(body, sig), "signature %q", sig)
	}
}

func TestVerifyWithEmptySecretRejects(t *testing.T) {
	v := NewVerifier("")
	body := []byte(`{}`)
	require.False(t, v.Verify(body, v.Sign(body)))
}

func TestVerifyDifferentSecret(t *testing.T) {
	body := []byte(`{"code":3}`)
	sig := NewVerifier("a").Sign(body)
	require.False(t, NewVerifier("b").Verify(body, sig))
}
