package dlq

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/xxh3"
)

// fingerprint derives the dedupe key for an operation and its payload. Two
// enqueues with the same operation name and byte-identical payload are the
// same failure as far as the queue is concerned.
func fingerprint(operationName string, payload []byte) uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(operationName)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(payload)

	return h.Sum64()
}

// encodePayload gzips payloads at or above the threshold. It returns the
// stored bytes and whether they are compressed. A threshold <= 0 disables
// compression. Payloads that do not shrink are stored as-is.
func encodePayload(payload []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(payload) < threshold {
		return payload, false
	}

	var buf bytes.Buffer

	w := gzip.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return payload, false
	}

	if err := w.Close(); err != nil {
		return payload, false
	}

	if buf.Len() >= len(payload) {
		return payload, false
	}

	return buf.Bytes(), true
}

// decodePayload reverses encodePayload.
func decodePayload(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(stored))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	return out, nil
}
