// Package ledger is the shared read model over vote and signature rows.
// Every function takes the caller's *gorm.DB so reads happen inside the
// same transaction boundary as the writes they guard.
package ledger

import (
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"gorm.io/gorm"
)

type VoteCount struct {
	Total   int
	Approve int
	Reject  int
	Abstain int
}

func Votes(db *gorm.DB, kind types.TargetKind, targetID uint64) (VoteCount, error) {
	type agg struct {
		Choice types.VoteChoice
		Count  int
	}
	var rows []agg
	err := db.Model(&types.ReviewVote{}).
		Select("choice, count(*) as count").
		Where("target_kind = ? AND target_id = ?", kind, targetID).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		return VoteCount{}, err
	}

	var out VoteCount
	for _, r := range rows {
		out.Total += r.Count
		switch r.Choice {
		case types.VoteApprove:
			out.Approve = r.Count
		case types.VoteReject:
			out.Reject = r.Count
		case types.VoteAbstain:
			out.Abstain = r.Count
		}
	}
	return out, nil
}

func HasVoted(db *gorm.DB, kind types.TargetKind, targetID uint64, reviewer string) (bool, error) {
	var n int64
	err := db.Model(&types.ReviewVote{}).
		Where("target_kind = ? AND target_id = ? AND reviewer = ?", kind, targetID, reviewer).
		Count(&n).Error
	return n > 0, err
}

type SignatureCount struct {
	Total       int
	Signed      int
	BySignatory map[string]types.SignatureKind
}

func Signatures(db *gorm.DB, approvalID uint64) (SignatureCount, error) {
	var sigs []types.ApprovalSignature
	if err := db.Where("approval_id = ?", approvalID).Find(&sigs).Error; err != nil {
		return SignatureCount{}, err
	}
	out := SignatureCount{BySignatory: make(map[string]types.SignatureKind, len(sigs))}
	for _, s := range sigs {
		out.Total++
		if s.Kind == types.SignatureSigned {
			out.Signed++
		}
		out.BySignatory[s.Signatory] = s.Kind
	}
	return out, nil
}

func HasSigned(db *gorm.DB, approvalID uint64, addr string) (bool, error) {
	var n int64
	err := db.Model(&types.ApprovalSignature{}).
		Where("approval_id = ? AND signatory = ?", approvalID, addr).
		Count(&n).Error
	return n > 0, err
}
