// Package quorum turns individual review votes into a binding
// submission/milestone status once enough of the committee has voted.
package quorum

import (
	"errors"
	"math"
	"time"

	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/ledger"
	"gorm.io/gorm"
)

var (
	ErrDuplicateVote = errors.New("reviewer already voted on this target")
	ErrNotReviewer   = errors.New("address is not an active committee member")
	ErrUnknownTarget = errors.New("review target not found")
)

// Outcome reports the aggregate after a vote was recorded.
type Outcome struct {
	Status        types.ReviewStatus
	Votes         ledger.VoteCount
	RequiredVotes int
	QuorumReached bool
}

// RecordVote inserts the reviewer's ballot and recomputes the quorum for
// the target inside one transaction. The status write is monotonic: a
// target whose status already left pending/in-review is never changed.
func RecordVote(db *gorm.DB, committee *types.Committee, kind types.TargetKind, targetID uint64, reviewer string, choice types.VoteChoice, feedback string) (*Outcome, error) {
	if !isActiveMember(committee, reviewer) {
		return nil, ErrNotReviewer
	}

	var out *Outcome
	err := db.Transaction(func(tx *gorm.DB) error {
		voted, err := ledger.HasVoted(tx, kind, targetID, reviewer)
		if err != nil {
			return err
		}
		if voted {
			return ErrDuplicateVote
		}

		vote := types.ReviewVote{
			TargetKind: kind,
			TargetID:   targetID,
			Reviewer:   reviewer,
			Choice:     choice,
			Feedback:   feedback,
			CreatedAt:  time.Now(),
		}
		if err := tx.Create(&vote).Error; err != nil {
			return err
		}

		out, err = Recompute(tx, committee, kind, targetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recompute re-evaluates the quorum rule for the target and applies the
// outcome. Below quorum the outcome is pending and the stored status is not
// touched. Running it twice on an unchanged vote set yields the same
// result; late abstains after a decision never un-approve a target.
func Recompute(tx *gorm.DB, committee *types.Committee, kind types.TargetKind, targetID uint64) (*Outcome, error) {
	votes, err := ledger.Votes(tx, kind, targetID)
	if err != nil {
		return nil, err
	}

	required := requiredVotes(committee)
	out := &Outcome{Votes: votes, RequiredVotes: required}

	if votes.Total < required {
		out.Status = types.StatusPending
		return out, nil
	}

	out.QuorumReached = true
	ratio := float64(votes.Approve) / float64(votes.Total)
	switch {
	case ratio >= committee.RequiredApprovalPercentage:
		out.Status = types.StatusApproved
	case votes.Reject > votes.Approve:
		out.Status = types.StatusRejected
	default:
		out.Status = types.StatusChangesRequested
	}
	return out, applyStatus(tx, kind, targetID, out.Status)
}

func requiredVotes(committee *types.Committee) int {
	active := 0
	for _, m := range committee.Members {
		if m.Active {
			active++
		}
	}
	return int(math.Ceil(float64(active) * committee.VotingThreshold))
}

func isActiveMember(committee *types.Committee, addr string) bool {
	for _, m := range committee.Members {
		if m.Active && m.Address == addr {
			return true
		}
	}
	return false
}

// applyStatus performs the guarded one-way transition on the target row.
func applyStatus(tx *gorm.DB, kind types.TargetKind, targetID uint64, status types.ReviewStatus) error {
	switch kind {
	case types.TargetSubmission:
		var sub types.Submission
		if err := tx.First(&sub, targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTarget
			}
			return err
		}
		if sub.Status.Decided() || sub.Status == status {
			return nil
		}
		return tx.Model(&sub).Updates(map[string]interface{}{
			"status": status, "updated_at": time.Now(),
		}).Error
	case types.TargetMilestone:
		var ms types.Milestone
		if err := tx.First(&ms, targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownTarget
			}
			return err
		}
		if ms.Status.Decided() || ms.Status == status {
			return nil
		}
		return tx.Model(&ms).Updates(map[string]interface{}{
			"status": status, "updated_at": time.Now(),
		}).Error
	}
	return ErrUnknownTarget
}
