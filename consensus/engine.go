// Package consensus implements the BFT agreement on the next ledger block.
//
// It follows the Tendermint round structure: in every round the designated
// proposer broadcasts a block, validators prevote for it (or nil), and a
// prevote majority of more than two thirds leads to precommits. A precommit
// majority commits the block. Validators lock on a block once they
// precommit it, so two different blocks can never gather a precommit
// majority at the same height while at most f of n = 3f+1 validators are
// faulty.
package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"go.vocdoni.io/ballotchain/crypto/ethereum"
	"go.vocdoni.io/ballotchain/ledger"
	"go.vocdoni.io/ballotchain/log"
	"go.vocdoni.io/ballotchain/types"
)

const (
	DefaultTimeoutPropose    = 3 * time.Second
	DefaultTimeoutPrevote    = time.Second
	DefaultTimeoutPrecommit  = time.Second
	DefaultTimeoutDelta      = 500 * time.Millisecond
	DefaultMaxFutureMessages = 1024
	// MaxSyncBlocks is the most blocks sent in answer to a SyncRequest.
	MaxSyncBlocks = 64
	// MaxRoundsAhead bounds how far past the current round proposals and
	// votes are tracked. Anything further is dropped.
	MaxRoundsAhead = 64
)

// Config holds the phase timeouts. Each grows by TimeoutDelta per round.
type Config struct {
	TimeoutPropose    time.Duration
	TimeoutPrevote    time.Duration
	TimeoutPrecommit  time.Duration
	TimeoutDelta      time.Duration
	MaxFutureMessages int
}

func (c *Config) setDefaults() {
	if c.TimeoutPropose <= 0 {
		c.TimeoutPropose = DefaultTimeoutPropose
	}
	if c.TimeoutPrevote <= 0 {
		c.TimeoutPrevote = DefaultTimeoutPrevote
	}
	if c.TimeoutPrecommit <= 0 {
		c.TimeoutPrecommit = DefaultTimeoutPrecommit
	}
	if c.TimeoutDelta <= 0 {
		c.TimeoutDelta = DefaultTimeoutDelta
	}
	if c.MaxFutureMessages <= 0 {
		c.MaxFutureMessages = DefaultMaxFutureMessages
	}
}

func (c *Config) timeout(step Step, round uint32) time.Duration {
	base := c.TimeoutPrecommit
	switch step {
	case StepPropose:
		base = c.TimeoutPropose
	case StepPrevote:
		base = c.TimeoutPrevote
	}
	return base + time.Duration(round)*c.TimeoutDelta
}

// Step is the phase of the current round.
type Step uint8

const (
	// StepWait means the height has not started: nothing to propose and no
	// message seen for it yet.
	StepWait Step = iota
	StepPropose
	StepPrevote
	StepPrecommit
)

func (s Step) String() string {
	switch s {
	case StepWait:
		return "wait"
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	default:
		return fmt.Sprintf("Step(%d)", uint8(s))
	}
}

// BlockSource produces and checks candidate blocks. It is implemented by the
// block builder.
type BlockSource interface {
	// Ready reports whether there is something to propose.
	Ready() bool
	// WaitReady blocks until Ready or ctx is done.
	WaitReady(ctx context.Context) error
	CutBlock() (*types.Block, error)
	ValidateBlock(block *types.Block) error
	// OnCommit is called after a block is appended to the ledger.
	OnCommit(block *types.Block)
}

// Ledger is the finalized chain the engine extends.
type Ledger interface {
	Head() *types.Block
	Height() uint64
	Get(index uint64) (*types.Block, error)
	Append(block *types.Block) error
}

// Broadcaster sends messages to all other validators.
type Broadcaster interface {
	Broadcast(ctx context.Context, data []byte) error
}

type timeoutInfo struct {
	height uint64
	round  uint32
	step   Step
}

type roundState struct {
	proposal   *Proposal
	prevotes   *VoteSet
	precommits *VoteSet
	// senders of any proposal or vote in this round
	senders map[ethcommon.Address]bool

	polkaSeen           bool
	prevoteTimeoutSet   bool
	precommitTimeoutSet bool
	// own proposal and votes, resent when a phase times out
	sent []*Message
}

// Engine runs consensus for one validator. All round state is owned by the
// Run goroutine; other goroutines only use Deliver and the read accessors.
type Engine struct {
	cfg    Config
	key    *ethereum.SignKeys
	self   ethcommon.Address
	vals   *ValidatorSet
	ledger Ledger
	source BlockSource
	net    Broadcaster

	inbox    chan *Message
	timeouts chan timeoutInfo
	readyCh  chan uint64

	// state of the Run goroutine
	height      uint64
	round       uint32
	step        Step
	halted      bool
	lockedBlock *types.Block
	lockedRound int32
	validBlock  *types.Block
	validRound  int32
	rounds      map[uint32]*roundState
	blocks      map[string]*types.Block
	validity    map[string]error
	future      []*Message
	cancelWait  context.CancelFunc
	lastSync    time.Time
	lastHelp    map[uint64]time.Time

	heightAtomic atomic.Uint64
	roundAtomic  atomic.Uint32

	evidenceMu sync.Mutex
	evidence   []*DuplicateVoteEvidence
}

// New returns an Engine signing with key. If key is not in vals the engine
// follows the chain without voting.
func New(cfg Config, key *ethereum.SignKeys, vals *ValidatorSet, l Ledger, source BlockSource,
	net Broadcaster,
) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:      cfg,
		key:      key,
		self:     key.Address(),
		vals:     vals,
		ledger:   l,
		source:   source,
		net:      net,
		inbox:    make(chan *Message, 1024),
		timeouts: make(chan timeoutInfo, 64),
		readyCh:  make(chan uint64, 1),
		lastHelp: make(map[uint64]time.Time),
	}
}

// Deliver queues a message received from the network. Malformed messages
// are rejected with ErrInvalidMessage.
func (e *Engine) Deliver(ctx context.Context, msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	select {
	case e.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Height returns the height being decided.
func (e *Engine) Height() uint64 { return e.heightAtomic.Load() }

// Round returns the current round.
func (e *Engine) Round() uint32 { return e.roundAtomic.Load() }

// Evidence returns the equivocations observed so far.
func (e *Engine) Evidence() []*DuplicateVoteEvidence {
	e.evidenceMu.Lock()
	defer e.evidenceMu.Unlock()
	return append([]*DuplicateVoteEvidence(nil), e.evidence...)
}

func (e *Engine) isValidator() bool { return e.vals.Contains(e.self) }

// Run drives consensus until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	log.Infow("consensus started", "validator", e.self.String(), "validators", e.vals.Size(),
		"voting", e.isValidator(), "head", e.ledger.Height())
	e.enterHeight(ctx)
	defer func() {
		if e.cancelWait != nil {
			e.cancelWait()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-e.inbox:
			e.handle(ctx, msg)
		case ti := <-e.timeouts:
			e.handleTimeout(ctx, ti)
		case h := <-e.readyCh:
			if h == e.height {
				e.startIfWaiting(ctx)
			}
		}
		e.process(ctx)
	}
}

// enterHeight resets the round state for the block on top of the ledger head
// and replays buffered messages for it.
func (e *Engine) enterHeight(ctx context.Context) {
	e.height = e.ledger.Height() + 1
	e.round = 0
	e.step = StepWait
	e.lockedBlock, e.lockedRound = nil, -1
	e.validBlock, e.validRound = nil, -1
	e.rounds = make(map[uint32]*roundState)
	e.blocks = make(map[string]*types.Block)
	e.validity = make(map[string]error)
	e.heightAtomic.Store(e.height)
	e.roundAtomic.Store(0)
	ConsensusHeight.Set(float64(e.height))
	ConsensusRound.Set(0)
	for h := range e.lastHelp {
		if h+MaxSyncBlocks < e.height {
			delete(e.lastHelp, h)
		}
	}

	if e.cancelWait != nil {
		e.cancelWait()
	}
	if head := e.ledger.Head(); head.Final {
		if !e.halted {
			log.Infow("election closed, consensus halted", "height", head.Index, "hash", head.Hash.String())
		}
		e.halted = true
		e.future = nil
		return
	}
	waitCtx, cancel := context.WithCancel(ctx)
	e.cancelWait = cancel
	height := e.height
	go func() {
		if err := e.source.WaitReady(waitCtx); err != nil {
			return
		}
		select {
		case e.readyCh <- height:
		case <-waitCtx.Done():
		}
	}()

	pending := e.future
	e.future = nil
	for _, msg := range pending {
		e.handle(ctx, msg)
	}
}

func (e *Engine) startIfWaiting(ctx context.Context) {
	if e.step == StepWait && !e.halted {
		e.startRound(ctx, 0)
	}
}

// tracked reports whether messages for round r may allocate round state.
func (e *Engine) tracked(r uint32) bool {
	return uint64(r) <= uint64(e.round)+MaxRoundsAhead
}

func (e *Engine) roundState(r uint32) *roundState {
	rs, ok := e.rounds[r]
	if !ok {
		rs = &roundState{
			prevotes:   NewVoteSet(),
			precommits: NewVoteSet(),
			senders:    make(map[ethcommon.Address]bool),
		}
		e.rounds[r] = rs
	}
	return rs
}

func (e *Engine) startRound(ctx context.Context, r uint32) {
	e.round = r
	e.step = StepPropose
	e.roundAtomic.Store(r)
	ConsensusRound.Set(float64(r))
	log.Debugw("round started", "height", e.height, "round", r,
		"proposer", e.vals.Proposer(e.height, r).String())
	if e.isValidator() && e.vals.Proposer(e.height, r) == e.self {
		e.propose(ctx)
	}
	e.scheduleTimeout(ctx, StepPropose)
}

func (e *Engine) propose(ctx context.Context) {
	block, pol := e.validBlock, e.validRound
	if block == nil {
		var err error
		if block, err = e.source.CutBlock(); err != nil {
			log.Debugw("nothing to propose", "height", e.height, "round", e.round, "error", err)
			return
		}
		block.Proposer = e.self.Bytes()
		block.Timestamp = time.Now().Unix()
	}
	p := &Proposal{Height: e.height, Round: e.round, POLRound: pol, Block: block}
	if err := SignProposal(e.key, p); err != nil {
		log.Errorw(err, "cannot sign proposal")
		return
	}
	log.Infow("proposing block", "height", e.height, "round", e.round,
		"hash", block.Hash.String(), "ballots", len(block.Ballots), "polRound", pol)
	e.handleProposal(ctx, p)
	e.send(ctx, &Message{Type: MsgPropose, Proposal: p})
}

func (e *Engine) castVote(ctx context.Context, t types.VoteType, hash types.HexBytes) {
	if !e.isValidator() {
		return
	}
	v := &types.Vote{Type: t, Height: e.height, Round: e.round, BlockHash: hash}
	if err := SignVote(e.key, v); err != nil {
		log.Errorw(err, "cannot sign vote")
		return
	}
	e.handleVote(ctx, v)
	e.send(ctx, VoteMessage(v))
}

// send broadcasts a message originated by this validator and remembers it for
// retransmission.
func (e *Engine) send(ctx context.Context, msg *Message) {
	rs := e.roundState(e.round)
	rs.sent = append(rs.sent, msg)
	e.broadcast(ctx, msg)
}

func (e *Engine) broadcast(ctx context.Context, msg *Message) {
	data, err := EncodeMessage(msg)
	if err != nil {
		log.Errorw(err, "cannot encode consensus message")
		return
	}
	if err := e.net.Broadcast(ctx, data); err != nil {
		log.Warnw("cannot broadcast consensus message", "type", msg.Type.String(), "error", err)
	}
}

func (e *Engine) scheduleTimeout(ctx context.Context, step Step) {
	ti := timeoutInfo{height: e.height, round: e.round, step: step}
	time.AfterFunc(e.cfg.timeout(step, e.round), func() {
		select {
		case e.timeouts <- ti:
		case <-ctx.Done():
		}
	})
}

// handle dispatches a network message.
func (e *Engine) handle(ctx context.Context, msg *Message) {
	switch msg.Type {
	case MsgPropose:
		e.handleProposal(ctx, msg.Proposal)
	case MsgPrevote, MsgPrecommit:
		e.handleVote(ctx, msg.Vote)
	case MsgCommit:
		e.handleCommit(ctx, msg.Block)
	case MsgSyncRequest:
		e.handleSyncRequest(ctx, msg.Sync)
	case MsgBallot:
		// ballots go to the builder, never to the engine
		log.Debugw("ignoring ballot message in consensus")
	default:
		log.Debugw("ignoring unknown consensus message", "type", msg.Type.String())
	}
}

// admitHeight sorts a message by height: stale messages are answered with the
// committed block, future ones are buffered. It reports whether the message
// belongs to the current height.
func (e *Engine) admitHeight(ctx context.Context, msg *Message, height uint64) bool {
	switch {
	case height == e.height:
		return true
	case height < e.height:
		e.helpLaggard(ctx, height)
		return false
	default:
		if len(e.future) < e.cfg.MaxFutureMessages {
			e.future = append(e.future, msg)
		}
		e.requestSync(ctx)
		return false
	}
}

func (e *Engine) handleProposal(ctx context.Context, p *Proposal) {
	if !e.admitHeight(ctx, &Message{Type: MsgPropose, Proposal: p}, p.Height) {
		return
	}
	if !e.tracked(p.Round) {
		log.Debugw("dropping proposal too far ahead", "height", p.Height, "round", p.Round, "current", e.round)
		return
	}
	if err := VerifyProposal(p, e.vals); err != nil {
		log.Debugw("dropping proposal", "height", p.Height, "round", p.Round, "error", err)
		return
	}
	rs := e.roundState(p.Round)
	if rs.proposal != nil {
		if !bytes.Equal(rs.proposal.Block.Hash, p.Block.Hash) {
			log.Warnw("conflicting proposal ignored", "height", p.Height, "round", p.Round,
				"proposer", ethcommon.BytesToAddress(p.Proposer).String())
		}
		return
	}
	rs.proposal = p
	rs.senders[ethcommon.BytesToAddress(p.Proposer)] = true
	e.blocks[string(p.Block.Hash)] = p.Block
	e.startIfWaiting(ctx)
}

func (e *Engine) handleVote(ctx context.Context, v *types.Vote) {
	if !e.admitHeight(ctx, VoteMessage(v), v.Height) {
		return
	}
	if !e.tracked(v.Round) {
		log.Debugw("dropping vote too far ahead", "height", v.Height, "round", v.Round, "current", e.round)
		return
	}
	addr, err := VerifyVote(v, e.vals)
	if err != nil {
		log.Debugw("dropping vote", "height", v.Height, "round", v.Round, "error", err)
		return
	}
	rs := e.roundState(v.Round)
	set := rs.prevotes
	if v.Type == types.VotePrecommit {
		set = rs.precommits
	}
	added, ev := set.Add(v)
	if ev != nil {
		e.recordEvidence(ev)
		return
	}
	if added {
		rs.senders[addr] = true
		e.startIfWaiting(ctx)
	}
}

func (e *Engine) recordEvidence(ev *DuplicateVoteEvidence) {
	log.Warnw("duplicate vote", "validator", ev.Validator().String(), "height", ev.VoteA.Height,
		"round", ev.VoteA.Round, "type", ev.VoteA.Type.String())
	ConsensusEquivocations.Inc()
	e.evidenceMu.Lock()
	defer e.evidenceMu.Unlock()
	e.evidence = append(e.evidence, ev)
}

func (e *Engine) handleTimeout(ctx context.Context, ti timeoutInfo) {
	if ti.height != e.height || ti.round != e.round || e.step == StepWait {
		return
	}
	log.Debugw("phase expired", "error", ErrConsensusTimeout, "height", ti.height, "round", ti.round,
		"step", ti.step.String())
	ConsensusTimeouts.WithLabelValues(ti.step.String()).Inc()
	// peers may have lost what we sent in this round
	for _, msg := range e.roundState(e.round).sent {
		e.broadcast(ctx, msg)
	}
	switch ti.step {
	case StepPropose:
		if e.step == StepPropose {
			e.enterPrevote(ctx, nil)
		}
	case StepPrevote:
		if e.step == StepPrevote {
			e.enterPrecommit(ctx, nil)
		}
	case StepPrecommit:
		e.startRound(ctx, e.round+1)
	}
}

func (e *Engine) enterPrevote(ctx context.Context, hash types.HexBytes) {
	e.step = StepPrevote
	e.castVote(ctx, types.VotePrevote, hash)
	// nil votes are always safe, so leaving a stalled prevote phase is too
	e.scheduleTimeout(ctx, StepPrevote)
}

func (e *Engine) enterPrecommit(ctx context.Context, hash types.HexBytes) {
	e.step = StepPrecommit
	e.castVote(ctx, types.VotePrecommit, hash)
	e.scheduleTimeout(ctx, StepPrecommit)
}

// valid caches the builder verdict on a block for this height. The verdict
// on a final block depends on the clock and is never cached.
func (e *Engine) valid(block *types.Block) bool {
	if block.Final {
		if err := e.source.ValidateBlock(block); err != nil {
			log.Debugw("rejecting final block", "height", block.Index, "round", e.round, "error", err)
			return false
		}
		return true
	}
	key := string(block.Hash)
	err, ok := e.validity[key]
	if !ok {
		err = e.source.ValidateBlock(block)
		e.validity[key] = err
		if err != nil {
			log.Infow("rejecting proposed block", "height", block.Index, "hash", block.Hash.String(), "error", err)
		}
	}
	return err == nil
}

func (e *Engine) lockedOn(hash []byte) bool {
	return e.lockedBlock != nil && bytes.Equal(e.lockedBlock.Hash, hash)
}

// process applies the state transition rules until none fires.
func (e *Engine) process(ctx context.Context) {
	for !e.halted && e.step != StepWait && e.applyRules(ctx) {
	}
}

func (e *Engine) applyRules(ctx context.Context) bool {
	if e.tryCommit(ctx) {
		return true
	}
	if e.trySkipRound(ctx) {
		return true
	}
	rs := e.roundState(e.round)
	if e.step == StepPropose && e.tryPrevote(ctx, rs) {
		return true
	}
	if e.step >= StepPrevote && !rs.polkaSeen && rs.proposal != nil &&
		e.vals.HasQuorum(rs.prevotes.Count(rs.proposal.Block.Hash)) && e.valid(rs.proposal.Block) {
		rs.polkaSeen = true
		block := rs.proposal.Block
		if e.step == StepPrevote {
			e.lockedBlock, e.lockedRound = block, int32(e.round)
			e.enterPrecommit(ctx, block.Hash)
		}
		e.validBlock, e.validRound = block, int32(e.round)
		return true
	}
	if e.step == StepPrevote && e.vals.HasQuorum(rs.prevotes.Count(nil)) {
		e.enterPrecommit(ctx, nil)
		return true
	}
	if e.step == StepPrevote && !rs.prevoteTimeoutSet && rs.prevotes.HasQuorumAny(e.vals) {
		rs.prevoteTimeoutSet = true
		e.scheduleTimeout(ctx, StepPrevote)
	}
	if !rs.precommitTimeoutSet && rs.precommits.HasQuorumAny(e.vals) {
		rs.precommitTimeoutSet = true
		e.scheduleTimeout(ctx, StepPrecommit)
	}
	return false
}

// tryPrevote handles the proposal of the current round.
func (e *Engine) tryPrevote(ctx context.Context, rs *roundState) bool {
	p := rs.proposal
	if p == nil {
		return false
	}
	hash := p.Block.Hash
	if p.POLRound < 0 {
		if e.valid(p.Block) && (e.lockedRound < 0 || e.lockedOn(hash)) {
			e.enterPrevote(ctx, hash)
		} else {
			e.enterPrevote(ctx, nil)
		}
		return true
	}
	// a re-proposal needs the prevote majority it claims
	polka, ok := e.rounds[uint32(p.POLRound)]
	if !ok || !e.vals.HasQuorum(polka.prevotes.Count(hash)) {
		return false
	}
	if e.valid(p.Block) && (e.lockedRound <= p.POLRound || e.lockedOn(hash)) {
		e.enterPrevote(ctx, hash)
	} else {
		e.enterPrevote(ctx, nil)
	}
	return true
}

// trySkipRound moves to a later round once f+1 validators are active in it.
func (e *Engine) trySkipRound(ctx context.Context) bool {
	target := e.round
	for r, rs := range e.rounds {
		if r > target && len(rs.senders) > e.vals.MaxFaulty() {
			target = r
		}
	}
	if target == e.round {
		return false
	}
	log.Debugw("skipping to round", "height", e.height, "from", e.round, "to", target)
	e.startRound(ctx, target)
	return true
}

// tryCommit commits a block with a precommit majority in any round.
func (e *Engine) tryCommit(ctx context.Context) bool {
	for r, rs := range e.rounds {
		hash, ok := rs.precommits.Majority(e.vals)
		if !ok || len(hash) == 0 {
			continue
		}
		block := e.blocks[string(hash)]
		if block == nil {
			// decided, but the proposal never reached us
			e.requestSync(ctx)
			continue
		}
		if !e.valid(block) {
			log.Errorw(ErrInvalidCertificate, "precommit majority for a block this node rejects",
				"height", e.height, "hash", hash.String())
			continue
		}
		return e.commit(ctx, block, r, rs)
	}
	return false
}

func (e *Engine) commit(ctx context.Context, block *types.Block, round uint32, rs *roundState) bool {
	committed := *block
	committed.Round = round
	committed.Certificate = NewCertificate(&committed, round, rs.precommits)
	if err := e.ledger.Append(&committed); err != nil {
		if errors.Is(err, ledger.ErrFrozen) {
			log.Infow("ledger frozen, consensus halted", "height", e.height)
			e.halted = true
			return false
		}
		log.Errorw(err, "cannot append committed block", "height", committed.Index)
		e.requestSync(ctx)
		return false
	}
	ConsensusCommits.WithLabelValues("consensus").Inc()
	log.Infow("block committed", "height", committed.Index, "round", round,
		"hash", committed.Hash.String(), "ballots", len(committed.Ballots),
		"precommits", len(committed.Certificate.Precommits))
	e.source.OnCommit(&committed)
	e.broadcast(ctx, &Message{Type: MsgCommit, Block: &committed})
	e.enterHeight(ctx)
	return true
}

// handleCommit appends a block decided by others, if it is the next one and
// its certificate is valid.
func (e *Engine) handleCommit(ctx context.Context, block *types.Block) {
	head := e.ledger.Height()
	switch {
	case block.Index <= head:
		return
	case block.Index > head+1:
		e.requestSync(ctx)
		return
	}
	if err := VerifyCertificate(block, e.vals); err != nil {
		log.Warnw("dropping committed block", "height", block.Index, "error", err)
		return
	}
	if err := e.ledger.Append(block); err != nil {
		if errors.Is(err, ledger.ErrFrozen) {
			e.halted = true
		}
		log.Warnw("cannot append synced block", "height", block.Index, "error", err)
		return
	}
	ConsensusCommits.WithLabelValues("sync").Inc()
	log.Infow("block synced", "height", block.Index, "hash", block.Hash.String(),
		"ballots", len(block.Ballots))
	e.source.OnCommit(block)
	e.enterHeight(ctx)
}

func (e *Engine) requestSync(ctx context.Context) {
	if time.Since(e.lastSync) < e.cfg.TimeoutPropose {
		return
	}
	e.lastSync = time.Now()
	from := e.ledger.Height() + 1
	log.Debugw("requesting blocks", "from", from)
	e.broadcast(ctx, &Message{Type: MsgSyncRequest, Sync: &SyncRequest{From: from}})
}

func (e *Engine) handleSyncRequest(ctx context.Context, req *SyncRequest) {
	head := e.ledger.Height()
	if req.From == 0 || req.From > head {
		return
	}
	last := min(head, req.From+MaxSyncBlocks-1)
	for i := req.From; i <= last; i++ {
		e.sendCommitted(ctx, i)
	}
}

// helpLaggard resends the committed block at height to a validator still
// voting on it.
func (e *Engine) helpLaggard(ctx context.Context, height uint64) {
	if time.Since(e.lastHelp[height]) < e.cfg.TimeoutPropose {
		return
	}
	e.lastHelp[height] = time.Now()
	e.sendCommitted(ctx, height)
}

func (e *Engine) sendCommitted(ctx context.Context, index uint64) {
	block, err := e.ledger.Get(index)
	if err != nil || block.Certificate == nil {
		return
	}
	e.broadcast(ctx, &Message{Type: MsgCommit, Block: block})
}
