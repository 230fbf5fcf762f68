package chain

import (
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/suprabook/chainbook/crypto"
)

// ValidateBlock checks every independent well-formedness condition a
// proposal must satisfy (§4.3) and aggregates every violation into a
// single error via multierror, so a replica logs one line describing
// everything wrong with a bad or buggy proposal instead of only the
// first check that happened to fail. QC acceptance is passed in as
// qcValid rather than recomputed here, since the caller alone knows
// the genesis-QC special case (§9) and the current validator roster.
func ValidateBlock(block *Block, parent *Block, expectedLeader ValidatorID, proposerKey crypto.PublicKey, proposerKeyKnown bool, qcValid bool) error {
	var result *multierror.Error

	if block.ProposerID != expectedLeader {
		result = multierror.Append(result, errors.Errorf(
			"proposer %d is not the expected leader %d for view %d", block.ProposerID, expectedLeader, block.View))
	}
	if !proposerKeyKnown || !block.VerifySignature(proposerKey) {
		result = multierror.Append(result, errors.New("block signature does not verify under the proposer's key"))
	}
	if parent == nil {
		result = multierror.Append(result, errors.Errorf("unknown parent block %s", block.ParentID))
	} else if block.Height != parent.Height+1 {
		result = multierror.Append(result, errors.Errorf(
			"block height %d does not follow parent height %d", block.Height, parent.Height))
	}
	if !qcValid {
		result = multierror.Append(result, errors.New("block QC is not a valid quorum certificate"))
	}

	return result.ErrorOrNil()
}
