package compressor

import (
	"bytes"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestCompressBytes(t *testing.T) {
	c := qt.New(t)
	comp := NewCompressor()

	src := bytes.Repeat([]byte("ballot"), 200)
	dst := comp.CompressBytes(src)
	c.Assert(isZstd(dst), qt.IsTrue)
	c.Assert(len(dst) < len(src), qt.IsTrue)

	out, err := comp.DecompressBytes(dst)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.DeepEquals, src)

	// plain input passes through
	out, err = comp.DecompressBytes([]byte("plain"))
	c.Assert(err, qt.IsNil)
	c.Assert(string(out), qt.Equals, "plain")

	// a valid magic number followed by garbage fails
	_, err = comp.DecompressBytes([]byte{0x28, 0xB5, 0x2f, 0xFD, 1, 2, 3})
	c.Assert(err, qt.Not(qt.IsNil))
}
