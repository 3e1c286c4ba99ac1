package memnet

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"go.vocdoni.io/ballotchain/network"
)

func receive(t testing.TB, e *Endpoint) []byte {
	select {
	case msg := <-e.Messages():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatalf("%s received nothing", e.ID())
		return nil
	}
}

func assertEmpty(t testing.TB, e *Endpoint) {
	select {
	case msg := <-e.Messages():
		t.Fatalf("%s got unexpected message %q", e.ID(), msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcast(t *testing.T) {
	c := qt.New(t)
	hub := NewHub()
	a, b, d := hub.Join("a"), hub.Join("b"), hub.Join("d")
	ctx := context.Background()

	c.Assert(a.Broadcast(ctx, []byte("hello")), qt.IsNil)
	c.Assert(string(receive(c, b)), qt.Equals, "hello")
	c.Assert(string(receive(c, d)), qt.Equals, "hello")
	// no echo
	assertEmpty(c, a)

	hub.Disconnect("d")
	c.Assert(b.Broadcast(ctx, []byte("to a only")), qt.IsNil)
	c.Assert(string(receive(c, a)), qt.Equals, "to a only")
	assertEmpty(c, d)
	// nor does it send
	c.Assert(d.Broadcast(ctx, []byte("lost")), qt.IsNil)
	assertEmpty(c, a)

	hub.Reconnect("d")
	c.Assert(d.Broadcast(ctx, []byte("back")), qt.IsNil)
	c.Assert(string(receive(c, a)), qt.Equals, "back")

	c.Assert(b.Close(), qt.IsNil)
	_, ok := <-b.Messages()
	c.Assert(ok, qt.IsFalse)
	c.Assert(b.Broadcast(ctx, []byte("x")), qt.ErrorIs, network.ErrClosed)
	c.Assert(b.Close(), qt.IsNil)
}

func TestFaults(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	c.Run("drop everything", func(c *qt.C) {
		hub := NewHub(WithDropRate(1))
		a, b := hub.Join("a"), hub.Join("b")
		c.Assert(a.Broadcast(ctx, []byte("x")), qt.IsNil)
		assertEmpty(c, b)
	})

	c.Run("duplicate everything", func(c *qt.C) {
		hub := NewHub(WithDuplicateRate(1))
		a, b := hub.Join("a"), hub.Join("b")
		c.Assert(a.Broadcast(ctx, []byte("x")), qt.IsNil)
		c.Assert(string(receive(c, b)), qt.Equals, "x")
		c.Assert(string(receive(c, b)), qt.Equals, "x")
	})

	c.Run("delay", func(c *qt.C) {
		hub := NewHub(WithMaxDelay(20*time.Millisecond), WithSeed(1))
		a, b := hub.Join("a"), hub.Join("b")
		for i := 0; i < 10; i++ {
			c.Assert(a.Broadcast(ctx, []byte{byte(i)}), qt.IsNil)
		}
		seen := make(map[byte]bool)
		for i := 0; i < 10; i++ {
			seen[receive(c, b)[0]] = true
		}
		c.Assert(seen, qt.HasLen, 10)
	})

	c.Run("filter", func(c *qt.C) {
		hub := NewHub()
		a, b, d := hub.Join("a"), hub.Join("b"), hub.Join("d")
		hub.SetFilter(func(from, to string, _ []byte) bool { return to != "d" })
		c.Assert(a.Broadcast(ctx, []byte("x")), qt.IsNil)
		c.Assert(string(receive(c, b)), qt.Equals, "x")
		assertEmpty(c, d)
	})
}
