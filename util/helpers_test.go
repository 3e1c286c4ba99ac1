package util

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHelpers(t *testing.T) {
	c := qt.New(t)
	c.Assert(TrimHex("0xabcd"), qt.Equals, "abcd")
	c.Assert(TrimHex("abcd"), qt.Equals, "abcd")
	c.Assert(RandomBytes(16), qt.HasLen, 16)
	c.Assert(RandomHex(8), qt.HasLen, 16)
	c.Assert(SplitList(" a, ,b,c "), qt.DeepEquals, []string{"a", "b", "c"})
	c.Assert(SplitList(""), qt.IsNil)
}
