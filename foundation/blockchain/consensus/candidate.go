package consensus

import (
	"errors"
	"hash/fnv"

	"github.com/hybridledger/dlt/foundation/blockchain/database"
)

// ReceiveBlock processes a block shared by a peer. Blocks for the next
// height drive the candidate state machine. A block ahead of the chain is
// held as the candidate when the slot is free, otherwise parked until the
// gap is filled. Blocks already in the chain can refresh the signatures
// stored for them.
func (e *Engine) ReceiveBlock(block database.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haltErr != nil {
		return ErrHalted
	}

	if block.BlockChecksum != block.CalculateChecksum() {
		return errors.New("block checksum does not match its contents")
	}

	block = block.ValidSignatures()
	tip := e.chain.Height()

	switch {
	case block.Number <= tip:
		return e.receiveHistorical(block)

	case block.Number > tip+1:
		e.receiveAhead(block)
		e.requestBlock(tip + 1)
		return nil
	}

	e.receiveNext(block)
	return nil
}

// receiveNext runs the candidate state machine for a block at tip+1.
func (e *Engine) receiveNext(block database.Block) {
	rebroadcast := false

	// Only the first block for the next height after a sync gets the
	// special adoption rule, whichever way it's handled.
	afterSync := e.firstAfterSync
	e.firstAfterSync = false

	switch {
	case e.candidate == nil || e.candidate.Number != block.Number:
		if e.candidate != nil && e.candidate.Number > block.Number {
			e.park(*e.candidate)
		}
		e.adopt(block)
		rebroadcast = true

	case e.candidate.BlockChecksum == block.BlockChecksum:
		if e.candidate.AddSignaturesFrom(block) > 0 {
			rebroadcast = true
		}
		if block.UniqueSignatureCount() < e.candidate.UniqueSignatureCount() {
			rebroadcast = true
		}

	default:
		if !e.preferIncoming(block, afterSync) {
			e.evHandler("consensus: ReceiveBlock: keeping %s over %s", e.candidate, block)
			e.broadcaster.BroadcastNewBlock(e.candidate.Clone())
			return
		}

		e.evHandler("consensus: ReceiveBlock: replacing %s with %s", e.candidate, block)
		e.adopt(block)
		rebroadcast = true
	}

	if !e.candidate.HasSignatureFrom(e.address) {
		v, err := e.verify(*e.candidate)
		e.metrics.verdicts.WithLabelValues(v.String()).Inc()

		switch v {
		case Valid:
			added, err := e.candidate.ApplySignature(e.key)
			if err != nil {
				e.evHandler("consensus: ReceiveBlock: signing %s: ERROR: %s", e.candidate, err)
				break
			}
			if added {
				e.evHandler("consensus: ReceiveBlock: signed %s", e.candidate)
				rebroadcast = true
			}

		default:
			e.evHandler("consensus: ReceiveBlock: not signing %s: %s: %v", e.candidate, v, err)
		}
	}

	e.metrics.candidateSignatures.Set(float64(e.candidate.UniqueSignatureCount()))

	if rebroadcast {
		e.broadcaster.BroadcastNewBlock(e.candidate.Clone())
	}
}

// receiveAhead handles a block beyond the next height. It's never signed
// since it can't be checked against the ledger yet.
func (e *Engine) receiveAhead(block database.Block) {
	switch {
	case e.candidate == nil:
		e.adopt(block)

	case e.candidate.BlockChecksum == block.BlockChecksum:
		e.candidate.AddSignaturesFrom(block)

	default:
		e.park(block)
	}
}

// preferIncoming decides whether a different block for the candidate height
// replaces the local candidate. Signer count comes first, then the elected
// proposer's signature, and the first block seen after a sync is always
// taken.
func (e *Engine) preferIncoming(block database.Block, afterSync bool) bool {
	if afterSync {
		return true
	}

	required := e.requiredConsensus()
	incoming := block.UniqueSignatureCount()
	local := e.candidate.UniqueSignatureCount()

	if incoming >= required {
		if local < required || incoming > local {
			return true
		}
	}

	if elected := e.electedProposer(block.Number); elected != "" {
		if block.HasSignatureFrom(elected) && !e.candidate.HasSignatureFrom(elected) {
			return true
		}
	}

	return false
}

// adopt makes the block the candidate.
func (e *Engine) adopt(block database.Block) {
	nb := block.Clone()
	e.candidate = &nb
	e.lastAdoption = e.now()
	e.lastRebroadcast = e.lastAdoption
	delete(e.parked, block.Number)
}

// receiveHistorical handles a copy of a block already in the chain. Blocks
// still inside the freeze window collect the new signatures. Older blocks
// only take the copy's signatures when they are the set a later block froze.
func (e *Engine) receiveHistorical(block database.Block) error {
	stored, err := e.chain.GetBlock(block.Number)
	if err != nil {
		return err
	}

	if stored.BlockChecksum != block.BlockChecksum {
		return nil
	}

	if want, exists := e.wantedFreeze(block.Number); exists {
		if block.SignatureChecksum() == want && stored.SignatureChecksum() != want {
			e.evHandler("consensus: ReceiveBlock: replacing frozen signatures of %s", block)
			return e.chain.ReplaceSignatures(block.Number, block.Signatures)
		}
		return nil
	}

	if block.Number+database.FreezeOffset <= e.chain.Height() {
		return nil
	}

	if stored.AddSignaturesFrom(block) == 0 {
		return nil
	}

	e.evHandler("consensus: ReceiveBlock: refreshed signatures of %s", stored)
	return e.chain.ReplaceSignatures(stored.Number, stored.Signatures)
}

// park holds a block that is ahead of the chain.
func (e *Engine) park(block database.Block) {
	if _, exists := e.parked[block.Number]; !exists && len(e.parked) >= maxParkedBlocks {
		var highest uint64
		for num := range e.parked {
			highest = max(highest, num)
		}
		if block.Number > highest {
			return
		}
		delete(e.parked, highest)
	}

	e.parked[block.Number] = block.Clone()
}

// unpark moves the parked block for the next height into the candidate
// slot when the slot is free and drops what the chain has passed.
func (e *Engine) unpark() {
	tip := e.chain.Height()

	for num := range e.parked {
		if num <= tip {
			delete(e.parked, num)
		}
	}

	if e.candidate != nil {
		return
	}

	if block, exists := e.parked[tip+1]; exists {
		e.receiveNext(block)
	}
}

// =============================================================================

// RequiredConsensus returns the number of distinct signers a block needs
// before it can be accepted.
func (e *Engine) RequiredConsensus() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.requiredConsensus()
}

// requiredConsensus computes the threshold from the signer count of the
// tip. The caller must hold the lock.
func (e *Engine) requiredConsensus() int {
	minimum := max(e.genesis.MinimumSignatures, 1)

	tip := e.chain.Tip()
	if tip.Number == 0 {
		return minimum
	}

	signers := tip.UniqueSignatureCount()
	required := (signers*e.genesis.ConsensusPercent + 99) / 100

	return max(required, minimum)
}

// ElectedProposer returns the address of the signer elected to propose the
// block at the height, or an empty string when there is none.
func (e *Engine) ElectedProposer(height uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.electedProposer(height)
}

// electedProposer selects one of the signers of the previous block using a
// hash of that block's checksum. The caller must hold the lock.
func (e *Engine) electedProposer(height uint64) string {
	if height < 2 {
		return ""
	}

	prev, err := e.chain.GetBlock(height - 1)
	if err != nil {
		return ""
	}

	signers := prev.SignerAddresses()
	if len(signers) == 0 {
		return ""
	}

	h := fnv.New32a()
	h.Write([]byte(prev.BlockChecksum))

	return signers[h.Sum32()%uint32(len(signers))]
}

// =============================================================================

// EnterSyncMode marks the node as catching up to the network height.
// Staking rewards are then resolved from the network like every other
// transaction.
func (e *Engine) EnterSyncMode(target uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.syncMode = true
	e.syncTarget = max(e.syncTarget, target)
	e.evHandler("consensus: EnterSyncMode: target[%d]", e.syncTarget)
}

// ExitSyncMode returns the node to normal operation. The next block seen for
// the candidate height is adopted without the usual rules.
func (e *Engine) ExitSyncMode() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.exitSyncMode()
}

func (e *Engine) exitSyncMode() {
	if !e.syncMode {
		return
	}

	e.syncMode = false
	e.syncTarget = 0
	e.firstAfterSync = true
	e.evHandler("consensus: ExitSyncMode: height[%d]", e.chain.Height())
}

// IsSynchronizing reports whether the node is in sync mode.
func (e *Engine) IsSynchronizing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.syncMode
}
