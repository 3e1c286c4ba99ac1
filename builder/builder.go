// Package builder admits verified ballots and batches them into candidate
// blocks.
package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.vocdoni.io/ballotchain/anonymizer"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/spentset"
	"go.vocdoni.io/ballotchain/types"
)

var (
	// ErrNoBallots is returned by CutBlock when nothing is pending.
	ErrNoBallots = errors.New("no pending ballots")
	// ErrElectionClosed is returned for ballots submitted outside the
	// voting period, and by CutBlock once the ledger is closed.
	ErrElectionClosed = errors.New("election is closed")
	// ErrInvalidBlock is returned by ValidateBlock for a block that must not
	// be voted for.
	ErrInvalidBlock = errors.New("invalid block")
)

const (
	DefaultMaxBallots  = 100
	DefaultMaxInterval = 5 * time.Second
	DefaultCloseGrace  = 30 * time.Second
)

// Config sets the block cadence: a block is ready when MaxBallots ballots
// are pending, or when MaxInterval elapsed since the oldest pending ballot.
//
// Once the election ends a block is always ready. Ballots admitted before
// the end are still batched for CloseGrace; after that, or as soon as
// nothing is pending, the candidate is the final block that closes the
// ledger.
type Config struct {
	MaxBallots  int
	MaxInterval time.Duration
	CloseGrace  time.Duration
}

// Ledger is the view of the finalized chain the builder needs.
type Ledger interface {
	Head() *types.Block
	HasSerial(serial []byte) bool
	Frozen() bool
}

type pendingBallot struct {
	ballot *types.Ballot
	serial types.HexBytes
	added  time.Time
}

// Builder buffers admitted ballots in submission order until they are
// committed.
type Builder struct {
	cfg      Config
	verifier *anonymizer.Verifier
	spent    *spentset.SpentSet
	ledger   Ledger
	now      func() time.Time

	mu      sync.Mutex
	pending []*pendingBallot
	notify  chan struct{}
}

// New returns a Builder admitting ballots checked by verifier into spent.
func New(cfg Config, verifier *anonymizer.Verifier, spent *spentset.SpentSet, ledger Ledger) *Builder {
	if cfg.MaxBallots <= 0 {
		cfg.MaxBallots = DefaultMaxBallots
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultMaxInterval
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	return &Builder{
		cfg:      cfg,
		verifier: verifier,
		spent:    spent,
		ledger:   ledger,
		now:      time.Now,
		notify:   make(chan struct{}, 1),
	}
}

// Config returns the cadence in use.
func (b *Builder) Config() Config { return b.cfg }

// Submit verifies ballot and admits its serial. A nil error means the ballot
// is buffered for the next block.
func (b *Builder) Submit(ballot *types.Ballot) error {
	if b.ledger.Frozen() || !b.verifier.Election().IsOpen(b.now()) {
		return ErrElectionClosed
	}
	serial, err := b.verifier.Verify(ballot)
	if err != nil {
		return err
	}
	if b.ledger.HasSerial(serial) {
		return spentset.ErrAlreadySpent
	}
	if err := b.spent.TryAdmit(serial); err != nil {
		return err
	}
	b.mu.Lock()
	b.pending = append(b.pending, &pendingBallot{ballot: ballot, serial: serial, added: b.now()})
	b.mu.Unlock()
	b.signal()
	return nil
}

func (b *Builder) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of buffered ballots.
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// closed reports whether the voting period is over at now. An election
// without end time never closes.
func (b *Builder) closed(now time.Time) bool {
	end := b.verifier.Election().EndTime
	return !end.IsZero() && !now.Before(end)
}

// graceOver reports whether ballots admitted before the end may no longer
// delay the final block.
func (b *Builder) graceOver(now time.Time) bool {
	return !now.Before(b.verifier.Election().EndTime.Add(b.cfg.CloseGrace))
}

// ready returns whether a block can be cut, and otherwise how long until
// that changes. A zero wait with no readiness means only a new ballot can.
func (b *Builder) ready() (bool, time.Duration) {
	if b.ledger.Frozen() {
		return false, 0
	}
	now := b.now()
	if b.closed(now) {
		return true, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var wait time.Duration
	if end := b.verifier.Election().EndTime; !end.IsZero() {
		wait = end.Sub(now)
	}
	if len(b.pending) == 0 {
		return false, wait
	}
	if len(b.pending) >= b.cfg.MaxBallots {
		return true, 0
	}
	interval := b.cfg.MaxInterval - now.Sub(b.pending[0].added)
	if interval <= 0 {
		return true, 0
	}
	if wait == 0 || interval < wait {
		wait = interval
	}
	return false, wait
}

// WaitReady blocks until a block should be cut or ctx is done.
func (b *Builder) WaitReady(ctx context.Context) error {
	for {
		ok, wait := b.ready()
		if ok {
			return nil
		}
		var timer *time.Timer
		var timeout <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}
		select {
		case <-ctx.Done():
		case <-b.notify:
		case <-timeout:
		}
		if timer != nil {
			timer.Stop()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Ready reports whether WaitReady would return immediately.
func (b *Builder) Ready() bool {
	ok, _ := b.ready()
	return ok
}

// CutBlock returns a sealed candidate block on top of the ledger head with up
// to MaxBallots pending ballots, oldest first. The ballots stay pending until
// OnCommit sees them finalized. After the election end it returns the final
// block once nothing is pending or CloseGrace elapsed.
func (b *Builder) CutBlock() (*types.Block, error) {
	if b.ledger.Frozen() {
		return nil, ErrElectionClosed
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	head := b.ledger.Head()
	if b.closed(now) && b.graceOver(now) {
		return b.finalBlock(head)
	}
	kept := b.pending[:0]
	ballots := make([]*types.Ballot, 0, b.cfg.MaxBallots)
	for _, p := range b.pending {
		if b.ledger.HasSerial(p.serial) {
			continue
		}
		kept = append(kept, p)
		if len(ballots) < b.cfg.MaxBallots {
			ballots = append(ballots, p.ballot)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
	if len(ballots) == 0 {
		if b.closed(now) {
			return b.finalBlock(head)
		}
		return nil, ErrNoBallots
	}
	block := &types.Block{
		Index:    head.Index + 1,
		PrevHash: head.Hash,
		Ballots:  ballots,
	}
	if err := block.Seal(); err != nil {
		return nil, err
	}
	BuilderBlocksCut.Inc()
	BuilderBlockBallots.Observe(float64(len(ballots)))
	log.Debugw("block cut", "height", block.Index, "ballots", len(ballots), "pending", len(kept))
	return block, nil
}

func (b *Builder) finalBlock(head *types.Block) (*types.Block, error) {
	block := &types.Block{
		Index:    head.Index + 1,
		PrevHash: head.Hash,
		Final:    true,
	}
	if err := block.Seal(); err != nil {
		return nil, err
	}
	BuilderBlocksCut.Inc()
	log.Infow("final block cut", "height", block.Index, "dropped", len(b.pending))
	return block, nil
}

// OnCommit drops the ballots finalized in block from the buffer and marks
// their serials spent, which also covers ballots this node never received.
// Pending ballots sharing a serial with a committed one are dropped too.
func (b *Builder) OnCommit(block *types.Block) {
	committed := make(map[string]bool, len(block.Ballots))
	for _, ballot := range block.Ballots {
		serial, err := anonymizer.SerialOf(ballot)
		if err != nil {
			log.Warnw("committed ballot without serial", "height", block.Index, "error", err)
			continue
		}
		committed[string(serial)] = true
		if err := b.spent.TryAdmit(serial); err != nil && !errors.Is(err, spentset.ErrAlreadySpent) {
			log.Warnw("cannot mark serial spent", "serial", serial.String(), "error", err)
		}
	}
	b.mu.Lock()
	kept := b.pending[:0]
	for _, p := range b.pending {
		if !committed[string(p.serial)] {
			kept = append(kept, p)
		}
	}
	clear(b.pending[len(kept):])
	b.pending = kept
	b.mu.Unlock()
	b.signal()
}

// ValidateBlock checks a proposed block can extend the ledger: it must sit
// on top of the head, its hash must recompute, it must hold between one and
// MaxBallots valid ballots, and no serial may repeat in the block or in the
// ledger. A final block holds no ballots and is only accepted after the
// election end, once this node has nothing pending or CloseGrace elapsed.
func (b *Builder) ValidateBlock(block *types.Block) error {
	err := b.validateBlock(block)
	if err != nil {
		BuilderInvalidBlocks.Inc()
	}
	return err
}

func (b *Builder) validateBlock(block *types.Block) error {
	head := b.ledger.Head()
	switch {
	case block == nil:
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	case block.Index != head.Index+1:
		return fmt.Errorf("%w: index %d on top of height %d", ErrInvalidBlock, block.Index, head.Index)
	case !bytes.Equal(block.PrevHash, head.Hash):
		return fmt.Errorf("%w: previous hash %x is not the head", ErrInvalidBlock, block.PrevHash)
	case !block.CheckHash():
		return fmt.Errorf("%w: hash does not match contents", ErrInvalidBlock)
	case block.Final:
		return b.validateFinal(block)
	case len(block.Ballots) == 0:
		return fmt.Errorf("%w: empty block", ErrInvalidBlock)
	case len(block.Ballots) > b.cfg.MaxBallots:
		return fmt.Errorf("%w: %d ballots, limit is %d", ErrInvalidBlock, len(block.Ballots), b.cfg.MaxBallots)
	}
	seen := make(map[string]bool, len(block.Ballots))
	for i, ballot := range block.Ballots {
		serial, err := b.verifier.Verify(ballot)
		if err != nil {
			return fmt.Errorf("%w: ballot %d: %w", ErrInvalidBlock, i, err)
		}
		if seen[string(serial)] || b.ledger.HasSerial(serial) {
			return fmt.Errorf("%w: ballot %d: %w", ErrInvalidBlock, i, spentset.ErrAlreadySpent)
		}
		seen[string(serial)] = true
	}
	return nil
}

func (b *Builder) validateFinal(block *types.Block) error {
	now := b.now()
	if len(block.Ballots) > 0 {
		return fmt.Errorf("%w: final block with %d ballots", ErrInvalidBlock, len(block.Ballots))
	}
	if !b.closed(now) {
		return fmt.Errorf("%w: final block before the election end", ErrInvalidBlock)
	}
	if b.graceOver(now) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pending {
		if !b.ledger.HasSerial(p.serial) {
			return fmt.Errorf("%w: final block with ballots still pending", ErrInvalidBlock)
		}
	}
	return nil
}
