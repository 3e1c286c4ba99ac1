// Package network defines the peer transport used by validators to exchange
// consensus messages and gossip ballots.
package network

import (
	"context"
	"errors"
)

// ErrClosed is returned when broadcasting on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport delivers opaque messages to every other peer. Delivery is best
// effort: messages may be lost, duplicated or reordered, and a peer never
// receives its own broadcasts.
type Transport interface {
	// Broadcast sends data to all other peers.
	Broadcast(ctx context.Context, data []byte) error
	// Messages returns the channel of messages received from other peers.
	// It is closed by Close.
	Messages() <-chan []byte
	Close() error
}
