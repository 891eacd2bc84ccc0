package multisig

import (
	"context"

	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/ledger"
	"github.com/stake-plus/polkadot-grant-pay/src/quorum"
)

// ReviewResult combines the quorum outcome with the chain vote a merged
// workflow performed alongside it.
type ReviewResult struct {
	Outcome *quorum.Outcome
	Vote    *VoteResult
}

// SubmitMilestoneReview routes a reviewer's milestone action per the
// committee workflow. Merged committees treat an approve vote as a chain
// signature too: the chain call runs first and the ledger vote is only
// committed once the chain acknowledged, so a false "approved" state with
// no matching signature cannot arise. Separated committees record the vote
// alone; chain signing is an independent action with its own checks.
func (m *Manager) SubmitMilestoneReview(ctx context.Context, milestoneID uint64, reviewer string, choice types.VoteChoice, feedback string, ref *ChainRef) (*ReviewResult, error) {
	_, com, err := m.committeeFor(milestoneID)
	if err != nil {
		return nil, err
	}

	result := &ReviewResult{}
	if com.Workflow == types.WorkflowMerged && choice == types.VoteApprove {
		if approval, err := activeApproval(m.db, milestoneID); err != nil {
			return nil, err
		} else if approval != nil {
			// Duplicate-vote check up front so a reviewer repeating the
			// action does not burn a chain call before failing.
			if voted, err := ledger.HasVoted(m.db, types.TargetMilestone, milestoneID, reviewer); err != nil {
				return nil, err
			} else if voted {
				return nil, quorum.ErrDuplicateVote
			}
			vote, err := m.CastVote(ctx, approval.ID, reviewer, types.SignatureSigned, ref)
			if err != nil {
				return nil, err
			}
			result.Vote = vote
		}
	}

	result.Outcome, err = quorum.RecordVote(m.db, com, types.TargetMilestone, milestoneID, reviewer, choice, feedback)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SubmitSubmissionReview records a submission-level vote. Submission votes
// never touch the chain regardless of workflow.
func (m *Manager) SubmitSubmissionReview(submissionID uint64, reviewer string, choice types.VoteChoice, feedback string) (*quorum.Outcome, error) {
	var sub types.Submission
	if err := m.db.First(&sub, submissionID).Error; err != nil {
		return nil, quorum.ErrUnknownTarget
	}
	var com types.Committee
	if err := m.db.Preload("Members").First(&com, sub.CommitteeID).Error; err != nil {
		return nil, err
	}
	return quorum.RecordVote(m.db, &com, types.TargetSubmission, submissionID, reviewer, choice, feedback)
}
