// Package snapshot provides the serialization primitives shared by the
// backup and version services: canonical JSON, content digests, and
// threshold-gated gzip compression.
package snapshot

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// SchemaVersion is stamped into backup metadata so future readers can detect
// incompatible snapshot layouts.
const SchemaVersion = "1"

// MinSavingsPercent is the compression policy threshold: a snapshot is stored
// compressed only when gzip shrinks it by strictly more than this percentage.
const MinSavingsPercent = 10

// Envelope wraps a compressed snapshot payload. An uncompressed snapshot is
// stored as the raw JSON object instead.
type Envelope struct {
	Compressed bool   `json:"compressed"`
	Data       string `json:"data"` // base64 of the gzipped snapshot
}

// Canonical re-serializes a JSON document with deterministic key order.
// Object keys are sorted by encoding/json on map marshalling; numbers are
// decoded as json.Number so their literal form survives the round trip.
func Canonical(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return json.Marshal(v)
}

// Digest returns the hex sha256 of the given bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestCanonical canonicalizes a JSON payload and digests the result, so
// logically equal documents hash identically regardless of key order.
func DigestCanonical(raw []byte) (string, error) {
	canonical, err := Canonical(raw)
	if err != nil {
		return "", err
	}
	return Digest(canonical), nil
}

// Compress gzips a payload.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress is the exact inverse of Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// WorthCompressing applies the >MinSavingsPercent policy. Integer math keeps
// the 90% boundary exact: a compressed size of exactly 90% is NOT worth it.
func WorthCompressing(originalLen, compressedLen int) bool {
	return (originalLen-compressedLen)*100 > originalLen*MinSavingsPercent
}

// Pack compresses a snapshot when the savings clear the policy threshold.
// It returns the bytes to persist (either the raw snapshot or a marshalled
// Envelope), whether compression was applied, and the achieved ratio.
func Pack(raw []byte) ([]byte, bool, float64, error) {
	compressed, err := Compress(raw)
	if err != nil {
		return nil, false, 0, err
	}
	if !WorthCompressing(len(raw), len(compressed)) {
		return raw, false, 0, nil
	}
	env := Envelope{
		Compressed: true,
		Data:       base64.StdEncoding.EncodeToString(compressed),
	}
	packed, err := json.Marshal(env)
	if err != nil {
		return nil, false, 0, err
	}
	ratio := float64(len(compressed)) / float64(len(raw))
	return packed, true, ratio, nil
}

// Unpack reverses Pack: if the payload is a compressed envelope it is
// decoded and gunzipped, otherwise it is returned as-is.
func Unpack(payload []byte) ([]byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil || !env.Compressed {
		return payload, nil
	}
	compressed, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid compressed snapshot envelope: %w", err)
	}
	return Decompress(compressed)
}
