package webserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
)

type Reviews struct {
	mgr       *multisig.Manager
	sanitizer *bluemonday.Policy
}

func NewReviews(mgr *multisig.Manager) Reviews {
	return Reviews{mgr: mgr, sanitizer: bluemonday.StrictPolicy()}
}

// Submit records one reviewer vote. A milestone id scopes the vote to that
// milestone's pool; otherwise it counts toward the submission quorum.
func (h Reviews) Submit(c *gin.Context) {
	var req struct {
		SubmissionID uint64 `json:"submissionId" binding:"required"`
		MilestoneID  uint64 `json:"milestoneId"`
		Vote         string `json:"vote" binding:"required,oneof=approve reject abstain"`
		Feedback     string `json:"feedback"`
		ChainTxHash  string `json:"chainTxHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	reviewer := c.GetString("addr")
	feedback := h.sanitizer.Sanitize(req.Feedback)
	choice := types.VoteChoice(req.Vote)

	if req.MilestoneID != 0 {
		var ref *multisig.ChainRef
		if req.ChainTxHash != "" {
			ref = &multisig.ChainRef{TxHash: req.ChainTxHash}
		}
		result, err := h.mgr.SubmitMilestoneReview(c.Request.Context(), req.MilestoneID, reviewer, choice, feedback, ref)
		if err != nil {
			writeError(c, err)
			return
		}
		resp := gin.H{
			"outcome":        result.Outcome.Status,
			"votes":          result.Outcome.Votes,
			"required_votes": result.Outcome.RequiredVotes,
		}
		if result.Vote != nil {
			resp["threshold_met"] = result.Vote.ThresholdMet
			resp["executed"] = result.Vote.Executed
		}
		c.JSON(http.StatusCreated, resp)
		return
	}

	outcome, err := h.mgr.SubmitSubmissionReview(req.SubmissionID, reviewer, choice, feedback)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"outcome":        outcome.Status,
		"votes":          outcome.Votes,
		"required_votes": outcome.RequiredVotes,
	})
}
