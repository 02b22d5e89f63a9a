// Package testutil provides helpers for examples and tests.
package testutil

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Gunzip decodes a complete gzip stream, verifying the container's CRC
// and length trailer in the process.
func Gunzip(p []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
