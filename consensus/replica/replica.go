// Package replica implements the chained-HotStuff core (§4.3): proposing,
// voting, QC aggregation, the three-chain commit rule, and the safety
// rules that gate every vote, wired to the pacemaker, the message
// window, the mempool and the execution engine.
package replica

import (
	"github.com/rs/zerolog"

	"github.com/suprabook/chainbook/config"
	"github.com/suprabook/chainbook/consensus/pacemaker"
	"github.com/suprabook/chainbook/consensus/window"
	"github.com/suprabook/chainbook/crypto"
	"github.com/suprabook/chainbook/execution"
	"github.com/suprabook/chainbook/mempool"
	"github.com/suprabook/chainbook/model/chain"
	"github.com/suprabook/chainbook/model/flow"
	"github.com/suprabook/chainbook/model/ledger"
	"github.com/suprabook/chainbook/module"
	"github.com/suprabook/chainbook/module/metrics"
	"github.com/suprabook/chainbook/network"
)

// DrainBudget bounds how many transactions a proposal pulls from the
// mempool per block (§5 "mempool drain-budget caps per-block work").
const DrainBudget = 256

// windowSafetyView is the fixed safety window behind the highest
// committed view below which the message window is pruned (§4.2, §5
// "pruned below highest_committed_view - safety_window"). The window's
// own LRU capacity is a second, coarser backstop against misconfiguration.
const windowSafetyView = 64

// CommitObserver is notified once a block's transactions have been
// applied. The RPC engine implements this to resolve pending client
// requests against the block that finally committed them.
type CommitObserver interface {
	OnCommitted(block *chain.Block, results []execution.TxResult)
}

// genesisBlock is the deterministic, unsigned block every replica
// constructs identically at boot (§6.5); it is never proposed or voted
// on, only referenced as the root of the block tree (§9).
func genesisBlock() *chain.Block {
	return &chain.Block{ParentID: flow.ZeroID, View: 0, Height: 0}
}

// genesisQC is a trusted bootstrap certificate for the genesis block: it
// carries no signatures because no view was ever run for it. Every
// replica accepts it by construction (see qcValid) instead of running
// QuorumCertificate.Verify against it.
func genesisQC(id flow.Identifier) *chain.QuorumCertificate {
	return &chain.QuorumCertificate{BlockID: id, View: 0}
}

// Replica is one validator's consensus engine. Its mutable state
// (highQC, lockedQC, lastVotedView, the block tree) is only ever touched
// from inside unit.Do, matching the single-threaded replica-logic event
// loop required by §5.
type Replica struct {
	*module.Unit

	log    zerolog.Logger
	cfg    *config.Config
	local  module.Local
	pm     *pacemaker.Pacemaker
	win    *window.Window
	pool   *mempool.Mempool
	exec   *execution.State
	mc     *metrics.Collector
	commit CommitObserver

	conduit network.Conduit

	genesis       *chain.Block
	blocks        map[flow.Identifier]*chain.Block
	highQC        *chain.QuorumCertificate
	lockedQC      *chain.QuorumCertificate
	lastVotedView chain.View
	lastQCView    chain.View
	committedID   flow.Identifier
}

// New constructs a replica core. Register must be called to plug it
// into a network.Network before Start.
func New(log zerolog.Logger, cfg *config.Config, local module.Local, pool *mempool.Mempool, exec *execution.State, mc *metrics.Collector, commit CommitObserver) *Replica {
	gen := genesisBlock()
	return &Replica{
		Unit:        module.NewUnit(),
		log:         log.With().Str("component", "replica").Uint32("self", uint32(local.ID())).Logger(),
		cfg:         cfg,
		local:       local,
		pm:          pacemaker.New(log, cfg.TickDuration, cfg.MultiplicativeFactor, cfg.NumValidators),
		win:         window.New(log, 256),
		pool:        pool,
		exec:        exec,
		mc:          mc,
		commit:      commit,
		genesis:     gen,
		blocks:      map[flow.Identifier]*chain.Block{gen.ID(): gen},
		highQC:      genesisQC(gen.ID()),
		committedID: gen.ID(),
	}
}

// SetCommitObserver wires a commit observer after construction, for
// wiring graphs where the observer itself depends on the replica (e.g.
// rpc.Engine needs a Submitter, which the replica satisfies) — the same
// two-step "construct then cross-wire" pattern the teacher's cmd/consensus
// uses (`comp.WithSynchronization(sync).WithConsensus(hot)`). Returns r
// for chaining.
func (r *Replica) SetCommitObserver(o CommitObserver) *Replica {
	r.commit = o
	return r
}

// Register plugs the replica into net under the consensus channel.
func (r *Replica) Register(net network.Network) error {
	conduit, err := net.Register(network.ChannelConsensus, r)
	if err != nil {
		return err
	}
	r.conduit = conduit
	return nil
}

// Start arms the pacemaker and launches the timeout-handling loop.
func (r *Replica) Start() {
	r.Launch(func() {
		r.pm.Start()
		r.MarkReady()
		for {
			select {
			case v := <-r.pm.Timeouts():
				_ = r.Do(func() error {
					r.onTimeout(v)
					return nil
				})
			case <-r.Quit():
				return
			}
		}
	})
}

// Process dispatches an inbound message by its dynamic type, delivered
// off the network.Engine interface. Every handler runs inside Do, so
// state mutation never interleaves with a Launch'd goroutine's work.
func (r *Replica) Process(originID chain.ValidatorID, msg interface{}) error {
	return r.Do(func() error {
		switch m := msg.(type) {
		case *chain.Block:
			r.onProposal(originID, m)
		case *chain.Vote:
			r.onVote(originID, m)
		case *chain.NewView:
			r.onNewView(originID, m)
		case *chain.QuorumCertificate:
			r.onQCAnnounce(m)
		case *ledger.Transaction:
			r.pool.Admit(m, r.exec)
		}
		return nil
	})
}

// SubmitTx admits a client transaction locally and gossips it to every
// peer so their mempools stay in sync (§6.1 ClientTx, §4.5).
func (r *Replica) SubmitTx(tx *ledger.Transaction) mempool.AdmitResult {
	var res mempool.AdmitResult
	_ = r.Do(func() error {
		res = r.pool.Admit(tx, r.exec)
		return nil
	})
	if res.Status != mempool.Rejected {
		_ = r.conduit.Publish(tx)
	}
	return res
}

func (r *Replica) pubKey(id chain.ValidatorID) (crypto.PublicKey, bool) {
	if uint32(id) >= r.cfg.NumValidators {
		return crypto.PublicKey{}, false
	}
	return r.cfg.ValidatorPublicKeys[id], true
}

func (r *Replica) keysByID() map[chain.ValidatorID]crypto.PublicKey {
	out := make(map[chain.ValidatorID]crypto.PublicKey, len(r.cfg.ValidatorPublicKeys))
	for i, pk := range r.cfg.ValidatorPublicKeys {
		out[chain.ValidatorID(i)] = pk
	}
	return out
}

// qcValid reports whether qc is acceptable: either the trusted bootstrap
// certificate for genesis, or a real quorum of signatures (§3, §9).
func (r *Replica) qcValid(qc *chain.QuorumCertificate) bool {
	if qc == nil {
		return false
	}
	if qc.BlockID == r.genesis.ID() && qc.View == 0 {
		return true
	}
	return qc.Verify(r.cfg.Quorum(), r.keysByID())
}

// extendsFrom reports whether block (or one of its ancestors) is
// ancestorID, walking the block tree toward genesis. Height strictly
// decreases each step so this always terminates.
func (r *Replica) extendsFrom(block *chain.Block, ancestorID flow.Identifier) bool {
	cur := block
	for {
		if cur.ID() == ancestorID {
			return true
		}
		if cur.ParentID.IsZero() {
			return false
		}
		parent, ok := r.blocks[cur.ParentID]
		if !ok {
			return false
		}
		cur = parent
	}
}

// onTimeout runs when the pacemaker's view timer fires without a QC
// (§4.1, §7 liveness-event). It advances the pacemaker, broadcasts a
// NewView carrying our highQC to the next leader, and proposes
// immediately if we are that leader and already hold the previous
// view's QC.
func (r *Replica) onTimeout(view chain.View) {
	r.pm.OnTimeoutFires(view)
	if r.mc != nil {
		r.mc.ViewTimeouts.Inc()
	}
	r.broadcastNewView(r.pm.CurrentView())
}

// broadcastNewView builds and sends this replica's NewView for view to
// the leader of view (§4.1). If we are that leader, it is processed
// locally instead of round-tripping through the network.
func (r *Replica) broadcastNewView(view chain.View) {
	nv := signNewView(r.local, view, r.highQC)
	leader := r.pm.LeaderOf(view)
	if leader == r.local.ID() {
		r.onNewView(leader, nv)
		return
	}
	_ = r.conduit.Unicast(nv, leader)
}

func signNewView(local module.Local, view chain.View, highQC *chain.QuorumCertificate) *chain.NewView {
	msg := chain.NewViewSigningMessage(view)
	return &chain.NewView{View: view, HighQC: highQC, SignerID: local.ID(), Sig: local.Sign(msg)}
}

func (r *Replica) onNewView(originID chain.ValidatorID, nv *chain.NewView) {
	pk, ok := r.pubKey(originID)
	if !ok || nv.SignerID != originID || !nv.VerifySignature(pk) {
		return // protocol-violation: drop
	}
	r.pm.OnHigherViewObserved(nv.View)
	if nv.HighQC != nil && r.qcValid(nv.HighQC) && nv.HighQC.View > r.highQC.View {
		r.highQC = nv.HighQC
	}
	added := r.win.RecordNewView(nv)
	if !added {
		return
	}
	if r.pm.LeaderOf(nv.View) != r.local.ID() {
		return
	}
	if r.highQC.View+1 == nv.View || len(r.win.NewViews(nv.View)) >= r.cfg.Quorum() {
		r.propose(nv.View)
	}
}

// propose builds and broadcasts this replica's block for view, as the
// leader, drawing its parent from the highest QC known (§4.3 steps 2-4).
func (r *Replica) propose(view chain.View) {
	parent, ok := r.blocks[r.highQC.BlockID]
	if !ok {
		return
	}
	txPtrs := r.pool.Drain(DrainBudget)
	txs := make([]ledger.Transaction, len(txPtrs))
	for i, tx := range txPtrs {
		txs[i] = *tx
	}

	block := &chain.Block{
		ParentID: parent.ID(),
		View:     view,
		Height:   parent.Height + 1,
		QC:       r.highQC,
		Txs:      txs,
	}
	block.ProposerID = r.local.ID()
	block.Signature = r.local.Sign(block.SigningBytes())
	r.blocks[block.ID()] = block
	r.win.RecordProposal(block)

	_ = r.conduit.Publish(block)
	r.tryVote(r.local.ID(), block)
}

func (r *Replica) onProposal(originID chain.ValidatorID, block *chain.Block) {
	expectedLeader := r.pm.LeaderOf(block.View)
	if originID != expectedLeader || block.ProposerID != originID {
		return // protocol-violation: not this view's leader
	}

	pk, pkKnown := r.pubKey(originID)
	parent := r.blocks[block.ParentID]
	if err := chain.ValidateBlock(block, parent, expectedLeader, pk, pkKnown, r.qcValid(block.QC)); err != nil {
		r.log.Warn().Err(err).
			Uint32("origin", uint32(originID)).
			Uint64("view", uint64(block.View)).
			Msg("rejecting malformed proposal")
		return
	}

	accepted, equivocation := r.win.RecordProposal(block)
	if equivocation != nil {
		return // second distinct proposal from this leader at this view: ignored
	}
	if !accepted {
		return // duplicate delivery of a proposal we already have
	}
	r.blocks[block.ID()] = block

	r.pm.OnHigherViewObserved(block.View)
	r.onQCAnnounce(block.QC)
	r.tryVote(originID, block)
}

// tryVote applies the voting rule (§4.3) and, if satisfied, votes and
// advances lastVotedView.
func (r *Replica) tryVote(proposerID chain.ValidatorID, block *chain.Block) {
	v := block.View
	if v != r.pm.CurrentView() || v <= r.lastVotedView {
		return
	}
	if r.pm.LeaderOf(v) != proposerID {
		return
	}
	extendsLocked := r.lockedQC == nil || r.extendsFrom(block, r.lockedQC.BlockID)
	livenessOverride := block.QC != nil && r.lockedQC != nil && block.QC.View > r.lockedQC.View
	if !extendsLocked && !livenessOverride {
		return
	}

	r.lastVotedView = v
	vote := &chain.Vote{
		BlockID:  block.ID(),
		View:     v,
		SignerID: r.local.ID(),
		Sig:      r.local.Sign(chain.VoteSigningMessage(block.ID(), v)),
	}
	leader := r.pm.LeaderOf(v + 1)
	if leader == r.local.ID() {
		r.onVote(r.local.ID(), vote)
		return
	}
	_ = r.conduit.Unicast(vote, leader)
}

func (r *Replica) onVote(originID chain.ValidatorID, vote *chain.Vote) {
	pk, ok := r.pubKey(originID)
	if !ok || vote.SignerID != originID || !vote.VerifySignature(pk) {
		return
	}
	added, conflicting := r.win.RecordVote(vote)
	if conflicting != nil {
		r.log.Warn().Uint32("signer", uint32(originID)).Msg("equivocating vote discarded")
	}
	if !added {
		return
	}
	qc, ok := r.win.QuorumFor(vote.View, vote.BlockID, r.cfg.Quorum())
	if !ok {
		return
	}
	r.onQCAnnounce(qc)
}

// onQCAnnounce processes a freshly observed QC: updates highQC, applies
// the safety-anchoring and three-chain commit rules, and proposes the
// next block if we are its leader and already hold the chain (§4.3).
func (r *Replica) onQCAnnounce(qc *chain.QuorumCertificate) {
	if qc == nil || qc.View <= r.lastQCView && qc.View != 0 {
		return
	}
	if !r.qcValid(qc) {
		return
	}
	r.lastQCView = qc.View
	r.pm.OnQCFor(qc.View)
	if qc.View > r.highQC.View {
		r.highQC = qc
	}

	b3, ok := r.blocks[qc.BlockID]
	if !ok {
		return
	}
	b2, ok2 := r.blocks[b3.ParentID]
	if ok2 && b3.QC != nil && b3.QC.View == b2.View && qc.View == b2.View+1 {
		// two-link chain b2<-b3 forms at consecutive views: anchor safety.
		r.lockedQC = b3.QC
		b1, ok1 := r.blocks[b2.ParentID]
		if ok1 && b2.QC != nil && b2.QC.View == b1.View && b3.QC.View == b1.View+1 {
			r.commitChain(b1)
		}
	}

	nextLeader := r.pm.LeaderOf(qc.View + 1)
	if nextLeader == r.local.ID() {
		r.propose(qc.View + 1)
	}
}

// commitChain commits b1 and every ancestor back to (but excluding) the
// last committed block, applying each in height-ascending order (§4.3).
func (r *Replica) commitChain(b1 *chain.Block) {
	if b1.ID() == r.committedID {
		return
	}
	var toCommit []*chain.Block
	cur := b1
	for cur.ID() != r.committedID {
		toCommit = append(toCommit, cur)
		parent, ok := r.blocks[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	for i, j := 0, len(toCommit)-1; i < j; i, j = i+1, j-1 {
		toCommit[i], toCommit[j] = toCommit[j], toCommit[i]
	}

	for _, b := range toCommit {
		results := r.exec.ApplyBlock(uint64(b.Height), b.Txs)
		txPtrs := make([]*ledger.Transaction, len(b.Txs))
		for i := range b.Txs {
			txPtrs[i] = &b.Txs[i]
		}
		r.pool.OnCommit(txPtrs)
		if r.commit != nil {
			r.commit.OnCommitted(b, results)
		}
	}
	r.committedID = b1.ID()

	if b1.View > windowSafetyView {
		r.win.PruneBelow(b1.View - windowSafetyView)
	}
}
