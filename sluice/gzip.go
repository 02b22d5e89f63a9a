package sluice

import (
	"encoding/binary"
	"hash/crc32"
)

// -----------------------------------------------------------------------------
// Gzip Container Codec
// -----------------------------------------------------------------------------
//
// RFC 1952, minimal variant: a fixed 10-byte header (no extra fields, no
// name, no comment, no header CRC), a raw DEFLATE stream, and an 8-byte
// trailer. Both trailer fields are little-endian.

// gzipHeader is the fixed header: magic 1F 8B, method 8 (DEFLATE),
// flags/mtime/extra-flags/OS all zero.
var gzipHeader = [10]byte{0x1f, 0x8b, 0x08, 0, 0, 0, 0, 0, 0, 0}

// gzipTrailerLen is the size of the trailer: CRC-32 followed by the
// uncompressed length modulo 2^32.
const gzipTrailerLen = 8

// appendGzipTrailer appends the trailer for a stream whose uncompressed
// content has the given CRC-32 and byte count (already mod 2^32).
func appendGzipTrailer(b []byte, crc, isize uint32) []byte {
	var t [gzipTrailerLen]byte
	binary.LittleEndian.PutUint32(t[0:4], crc)
	binary.LittleEndian.PutUint32(t[4:8], isize)
	return append(b, t[:]...)
}

// crcUpdate accumulates the IEEE CRC-32 of uncompressed data.
func crcUpdate(crc uint32, p []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, p)
}
