package snapshot_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/isdelr/folio-vault-be/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKeyOrderIndependence(t *testing.T) {
	a := []byte(`{"title":"Site","tags":["go","web"],"count":3}`)
	b := []byte(`{"count":3,"tags":["go","web"],"title":"Site"}`)

	ca, err := snapshot.Canonical(a)
	require.NoError(t, err)
	cb, err := snapshot.Canonical(b)
	require.NoError(t, err)

	assert.Equal(t, string(ca), string(cb))
}

func TestCanonicalPreservesNumberLiterals(t *testing.T) {
	raw := []byte(`{"ratio":0.30000000000000004,"big":9007199254740993}`)
	c, err := snapshot.Canonical(raw)
	require.NoError(t, err)
	assert.Contains(t, string(c), "9007199254740993")
	assert.Contains(t, string(c), "0.30000000000000004")
}

func TestCanonicalRejectsInvalidJSON(t *testing.T) {
	_, err := snapshot.Canonical([]byte(`{"broken":`))
	assert.Error(t, err)
}

func TestDigestCanonicalStableAcrossKeyOrder(t *testing.T) {
	d1, err := snapshot.DigestCanonical([]byte(`{"a":1,"b":2}`))
	require.NoError(t, err)
	d2, err := snapshot.DigestCanonical([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	d3, err := snapshot.DigestCanonical([]byte(`{"a":1,"b":3}`))
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"small object", []byte(`{"a":1}`)},
		{"repetitive", bytes.Repeat([]byte("portfolio "), 1000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := snapshot.Compress(tt.payload)
			require.NoError(t, err)
			out, err := snapshot.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, out)
		})
	}
}

func TestWorthCompressingBoundary(t *testing.T) {
	tests := []struct {
		name       string
		original   int
		compressed int
		worth      bool
	}{
		{"well under threshold", 100, 50, true},
		{"just under 90 percent", 100, 89, true},
		{"exactly 90 percent", 100, 90, false},
		{"above 90 percent", 100, 95, false},
		{"grew under compression", 100, 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.worth, snapshot.WorthCompressing(tt.original, tt.compressed))
		})
	}
}

func TestPackCompressesLargePayload(t *testing.T) {
	raw := []byte(`{"projects":"` + strings.Repeat("x", 4096) + `"}`)

	packed, compressed, ratio, err := snapshot.Pack(raw)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Greater(t, ratio, 0.0)
	assert.Less(t, ratio, 0.9)

	var env snapshot.Envelope
	require.NoError(t, json.Unmarshal(packed, &env))
	assert.True(t, env.Compressed)

	out, err := snapshot.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestPackLeavesSmallPayloadRaw(t *testing.T) {
	raw := []byte(`{"a":1}`)

	packed, compressed, ratio, err := snapshot.Pack(raw)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Zero(t, ratio)
	assert.Equal(t, raw, packed)

	out, err := snapshot.Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestUnpackPassesThroughPlainSnapshot(t *testing.T) {
	raw := []byte(`{"projects":[],"compressed":"not a flag"}`)
	out, err := snapshot.Unpack(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestUnpackRejectsCorruptEnvelope(t *testing.T) {
	_, err := snapshot.Unpack([]byte(`{"compressed":true,"data":"!!! not base64 !!!"}`))
	assert.Error(t, err)
}
