// Package sbdcompress is an optional helper for squeezing a binary MO/MT
// payload under Iridium's per-message size limit before it goes through
// sbd.SendBinaryMessage. It is never invoked by the driver itself (§7.1 is
// explicitly out of the core protocol engine's scope); callers opt in.
package sbdcompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// CompressBinaryMessage deflates payload at the given level (flate.BestSpeed
// .. flate.BestCompression). The result has no framing beyond flate's own
// stream format; the caller still owns checksum/length framing for SBDWB.
func CompressBinaryMessage(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("sbdcompress: new writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("sbdcompress: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sbdcompress: close: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressPayload reverses CompressBinaryMessage, typically applied to the
// payload sbd.EventNewMessage just delivered.
func DecompressPayload(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sbdcompress: read: %w", err)
	}
	return out, nil
}
