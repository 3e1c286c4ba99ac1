// Package node assembles a ballotchain validator: storage, the double-vote
// guard, the block builder, the consensus engine and the network transport.
package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/enriquebris/goconcurrentqueue"
	ethcommon "github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/builder"
	"go.vocdoni.io/ballotchain/consensus"
	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/db"
	"go.vocdoni.io/ballotchain/db/metadb"
	"go.vocdoni.io/ballotchain/db/prefixeddb"
	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/network"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/tally"
	"go.vocdoni.io/ballotchain/types"
)

const (
	DefaultMempoolSize = 20000

	verifierCacheSize = 4096
	seenCacheSize     = 8192
	infoInterval      = 10 * time.Second
)

// ErrMempoolFull is returned when gossiped ballots arrive faster than the
// builder admits them.
var ErrMempoolFull = errors.New("mempool is full")

var spentPrefix = []byte("spent/")

// Config holds everything a node needs besides its key and transport.
type Config struct {
	// DataDir keeps the ledger and the spent set on disk. Empty means memory
	// only.
	DataDir     string
	DBType      string
	Election    *types.Election
	Validators  []ethcommon.Address
	Builder     builder.Config
	Consensus   consensus.Config
	MempoolSize int
}

// Node is a single ballotchain validator, or an observer if its key is not
// in the validator set.
type Node struct {
	cfg  Config
	key  *ethereum.SignKeys
	vals *consensus.ValidatorSet
	net  network.Transport

	database db.Database
	ledger   *ledger.Store
	spent    *spentset.SpentSet
	builder  *builder.Builder
	engine   *consensus.Engine
	mempool  *goconcurrentqueue.FixedFIFO
	seen     *lru.Cache

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the node storage and wires its components. Nothing runs until
// Start.
func New(cfg Config, key *ethereum.SignKeys, transport network.Transport) (*Node, error) {
	if cfg.Election == nil {
		return nil, fmt.Errorf("no election configured")
	}
	if err := cfg.Election.Validate(); err != nil {
		return nil, err
	}
	if cfg.MempoolSize <= 0 {
		cfg.MempoolSize = DefaultMempoolSize
	}
	vals, err := consensus.NewValidatorSet(cfg.Validators...)
	if err != nil {
		return nil, err
	}
	n := &Node{
		cfg:     cfg,
		key:     key,
		vals:    vals,
		net:     transport,
		mempool: goconcurrentqueue.NewFixedFIFO(cfg.MempoolSize),
	}
	if n.seen, err = lru.New(seenCacheSize); err != nil {
		return nil, err
	}
	if err := n.openStorage(); err != nil {
		return nil, err
	}
	verifier, err := anonymizer.NewVerifier(cfg.Election, verifierCacheSize)
	if err != nil {
		n.closeStorage()
		return nil, err
	}
	n.builder = builder.New(cfg.Builder, verifier, n.spent, n.ledger)
	n.engine = consensus.New(cfg.Consensus, key, vals, n.ledger, n.builder, transport)
	return n, nil
}

func (n *Node) openStorage() error {
	if n.cfg.DataDir == "" {
		n.ledger = ledger.New()
		n.spent = spentset.New()
		return nil
	}
	dbType := n.cfg.DBType
	if dbType == "" {
		dbType = db.TypePebble
	}
	var err error
	if n.database, err = metadb.New(dbType, filepath.Join(n.cfg.DataDir, "chain")); err != nil {
		return fmt.Errorf("cannot open database: %w", err)
	}
	blockLog, err := ledger.NewDBLog(n.database)
	if err != nil {
		n.closeStorage()
		return err
	}
	if n.ledger, err = ledger.Open(blockLog); err != nil {
		n.closeStorage()
		return err
	}
	if n.spent, err = spentset.NewPersistent(prefixeddb.NewPrefixedDatabase(n.database, spentPrefix)); err != nil {
		n.closeStorage()
		return err
	}
	log.Infow("ledger loaded", "height", n.ledger.Height(), "spent", n.spent.Len(),
		"dir", n.cfg.DataDir)
	return nil
}

func (n *Node) closeStorage() {
	if n.database == nil {
		return
	}
	if err := n.database.Close(); err != nil {
		log.Warnw("cannot close database", "error", err)
	}
	n.database = nil
}

// Start launches the node goroutines. They stop when ctx is done or on Stop.
func (n *Node) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	log.Infow("starting node", "address", n.key.Address().String(),
		"validator", n.vals.Contains(n.key.Address()), "election", n.cfg.Election.Name,
		"height", n.ledger.Height())
	n.run(ctx, func(ctx context.Context) {
		if err := n.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw(err, "consensus stopped")
		}
	})
	n.run(ctx, n.readLoop)
	n.run(ctx, n.ingressLoop)
	n.run(ctx, n.infoLoop)
}

func (n *Node) run(ctx context.Context, f func(context.Context)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		f(ctx)
	}()
}

// Stop halts the goroutines, closes the transport and the database.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	if err := n.net.Close(); err != nil {
		log.Warnw("cannot close transport", "error", err)
	}
	n.wg.Wait()
	n.closeStorage()
}

// SubmitBallot admits a ballot received from a voter and gossips it to the
// other validators. A nil error means the ballot is accepted: it will be in
// a future block unless a different ballot with the same credential is
// committed first elsewhere.
func (n *Node) SubmitBallot(ctx context.Context, ballot *types.Ballot) error {
	if err := n.builder.Submit(ballot); err != nil {
		countRejected(err)
		return err
	}
	NodeBallots.WithLabelValues("accepted").Inc()
	data, err := consensus.EncodeMessage(&consensus.Message{Type: consensus.MsgBallot, Ballot: ballot})
	if err != nil {
		return err
	}
	n.seen.Add(string(ethereum.HashRaw(data)), struct{}{})
	if err := n.net.Broadcast(ctx, data); err != nil {
		log.Warnw("cannot gossip ballot", "error", err)
	}
	return nil
}

// readLoop sorts network messages: ballots go to the mempool, everything
// else to consensus.
func (n *Node) readLoop(ctx context.Context) {
	for {
		var data []byte
		var ok bool
		select {
		case <-ctx.Done():
			return
		case data, ok = <-n.net.Messages():
			if !ok {
				return
			}
		}
		msg, err := consensus.DecodeMessage(data)
		if err != nil {
			log.Debugw("dropping network message", "error", err)
			continue
		}
		if msg.Type != consensus.MsgBallot {
			if err := n.engine.Deliver(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Debugw("dropping consensus message", "error", err)
			}
			continue
		}
		key := string(ethereum.HashRaw(data))
		if n.seen.Contains(key) {
			continue
		}
		n.seen.Add(key, struct{}{})
		if err := n.mempool.Enqueue(msg.Ballot); err != nil {
			NodeBallots.WithLabelValues("dropped").Inc()
			log.Warnw("dropping gossiped ballot", "error", ErrMempoolFull, "mempool", n.mempool.GetLen())
		}
	}
}

// ingressLoop feeds gossiped ballots to the builder, one at a time.
func (n *Node) ingressLoop(ctx context.Context) {
	for {
		item, err := n.mempool.DequeueOrWaitForNextElementContext(ctx)
		if err != nil {
			return
		}
		ballot := item.(*types.Ballot)
		if err := n.builder.Submit(ballot); err != nil {
			countRejected(err)
			continue
		}
		NodeBallots.WithLabelValues("accepted").Inc()
	}
}

func countRejected(err error) {
	switch {
	case errors.Is(err, spentset.ErrAlreadySpent):
		NodeBallots.WithLabelValues("duplicate").Inc()
		log.Debugw("ballot rejected", "error", err)
	default:
		NodeBallots.WithLabelValues("rejected").Inc()
		log.Debugw("ballot rejected", "error", err)
	}
}

func (n *Node) infoLoop(ctx context.Context) {
	ticker := time.NewTicker(infoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n.updateMetrics()
		log.Infof("[node info] height:%d round:%d pending:%d mempool:%d spent:%d evidence:%d",
			n.ledger.Height(), n.engine.Round(), n.builder.Pending(), n.mempool.GetLen(),
			n.spent.Len(), len(n.engine.Evidence()))
	}
}

func (n *Node) updateMetrics() {
	NodeLedgerHeight.Set(float64(n.ledger.Height()))
	NodePendingBallots.Set(float64(n.builder.Pending()))
	NodeMempoolSize.Set(float64(n.mempool.GetLen()))
}

// Election returns the election this node records.
func (n *Node) Election() *types.Election { return n.cfg.Election }

// Ledger returns the finalized chain.
func (n *Node) Ledger() *ledger.Store { return n.ledger }

// Engine returns the consensus engine.
func (n *Node) Engine() *consensus.Engine { return n.engine }

// Builder returns the block builder.
func (n *Node) Builder() *builder.Builder { return n.builder }

// Validators returns the validator set.
func (n *Node) Validators() *consensus.ValidatorSet { return n.vals }

// Address returns the node signing address.
func (n *Node) Address() ethcommon.Address { return n.key.Address() }

// Tally recomputes the results from the ledger.
func (n *Node) Tally() (*tally.Result, error) {
	return tally.ComputeTally(n.cfg.Election, n.ledger)
}
