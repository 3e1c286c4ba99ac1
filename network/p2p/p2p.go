// Package p2p is a network.Transport over a libp2p GossipSub topic.
package p2p

import (
	"context"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/network"
)

// GossipBufSize is the number of incoming messages to buffer.
const GossipBufSize = 1024

// Config configures the libp2p host and the gossip topic.
type Config struct {
	// ListenAddrs are multiaddresses, e.g. /ip4/0.0.0.0/tcp/26656.
	ListenAddrs []string
	// Bootnodes are full peer multiaddresses ending in /p2p/<id>.
	Bootnodes []string
	Topic     string
}

// Transport joins a single GossipSub topic.
type Transport struct {
	host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription

	messages  chan []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

var _ network.Transport = (*Transport)(nil)

// New starts a libp2p host identified by key, joins cfg.Topic and connects to
// the bootnodes. Bootnodes that cannot be reached are logged and skipped.
func New(ctx context.Context, key *ethereum.SignKeys, cfg Config) (*Transport, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no gossip topic configured")
	}
	privKey, err := crypto.UnmarshalSecp256k1PrivateKey(ethcrypto.FromECDSA(&key.Private))
	if err != nil {
		return nil, fmt.Errorf("cannot use signing key as peer identity: %w", err)
	}
	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot start libp2p host: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		host:     h,
		messages: make(chan []byte, GossipBufSize),
		cancel:   cancel,
	}
	if err := t.joinGossip(loopCtx, cfg.Topic); err != nil {
		cancel()
		h.Close()
		return nil, err
	}
	t.connectBootnodes(ctx, cfg.Bootnodes)

	t.wg.Add(1)
	go t.readGossipLoop(loopCtx)
	return t, nil
}

func (t *Transport) joinGossip(ctx context.Context, topic string) error {
	var err error
	if t.ps, err = pubsub.NewGossipSub(ctx, t.host); err != nil {
		return err
	}
	if t.topic, err = t.ps.Join(topic); err != nil {
		return err
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return err
	}
	log.Infow("joined gossipsub topic", "topic", topic, "peer", t.host.ID().String())
	return nil
}

func (t *Transport) connectBootnodes(ctx context.Context, bootnodes []string) {
	var wg sync.WaitGroup
	for _, addr := range bootnodes {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			log.Warnw("invalid bootnode address", "address", addr, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			log.Warnw("invalid bootnode address", "address", addr, "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := t.host.Connect(ctx, *info); err != nil {
				log.Warnw("cannot connect to bootnode", "peer", info.ID.String(), "error", err)
				return
			}
			log.Infow("connected to bootnode", "peer", info.ID.String())
		}()
	}
	wg.Wait()
}

// readGossipLoop forwards messages published by other peers.
func (t *Transport) readGossipLoop(ctx context.Context) {
	defer t.wg.Done()
	defer close(t.messages)
	self := t.host.ID()
	for {
		msg, err := t.sub.Next(ctx)
		if err != nil {
			log.Debugw("gossip subscription closed", "error", err)
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		select {
		case t.messages <- msg.Data:
		case <-ctx.Done():
			return
		}
	}
}

// Addrs returns the full multiaddresses other peers can use as bootnodes.
func (t *Transport) Addrs() []string {
	var out []string
	for _, a := range t.host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, t.host.ID()))
	}
	return out
}

// Peers returns the number of peers subscribed to the topic.
func (t *Transport) Peers() int { return len(t.topic.ListPeers()) }

func (t *Transport) Broadcast(ctx context.Context, data []byte) error {
	log.Debugw("gossiping message", "size", len(data), "peers", len(t.topic.ListPeers()))
	return t.topic.Publish(ctx, data)
}

func (t *Transport) Messages() <-chan []byte { return t.messages }

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		t.sub.Cancel()
		t.wg.Wait()
		if cerr := t.topic.Close(); cerr != nil {
			log.Debugw("cannot close gossip topic", "error", cerr)
		}
		err = t.host.Close()
	})
	return err
}
