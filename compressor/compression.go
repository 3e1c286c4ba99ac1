// Package compressor compresses serialized blocks with zstd before they are
// written to a persistent block log.
package compressor

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"go.vocdoni.io/ballotchain/log"
)

// Compressor is a data compressor that uses zstd. It is safe for concurrent
// use.
type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new data compressor.
func NewCompressor() Compressor {
	var c Compressor
	var err error
	c.encoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(err) // no options are passed, this cannot fail
	}
	c.decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// CompressBytes compresses the input via zstd.
func (c Compressor) CompressBytes(src []byte) []byte {
	// CBOR blocks are mostly signatures and compress poorly; start from half.
	dst := c.encoder.EncodeAll(src, make([]byte, 0, len(src)/2))
	log.Debugf("compressed %d bytes to %d bytes with zstd", len(src), len(dst))
	return dst
}

// isZstd reports whether the input bytes begin with zstd's magic number,
// 0xFD2FB528 in little-endian format.
func isZstd(src []byte) bool {
	return len(src) >= 4 &&
		src[0] == 0x28 && src[1] == 0xB5 &&
		src[2] == 0x2f && src[3] == 0xFD
}

// DecompressBytes decompresses zstd input. Input without the zstd magic
// number is returned as-is, so logs written uncompressed stay readable.
func (c Compressor) DecompressBytes(src []byte) ([]byte, error) {
	if !isZstd(src) {
		return src, nil
	}
	dst, err := c.decoder.DecodeAll(src, make([]byte, 0, len(src)*2))
	if err != nil {
		return nil, fmt.Errorf("could not decompress zstd: %w", err)
	}
	return dst, nil
}
