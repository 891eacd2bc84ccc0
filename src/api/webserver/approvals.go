package webserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
)

type Approvals struct {
	mgr *multisig.Manager
}

func NewApprovals(mgr *multisig.Manager) Approvals {
	return Approvals{mgr: mgr}
}

type chainRefBody struct {
	ChainTxHash     string `json:"chainTxHash"`
	CallHash        string `json:"callHash"`
	CallData        string `json:"callData"`
	TimepointHeight uint32 `json:"timepointHeight"`
	TimepointIndex  uint32 `json:"timepointIndex"`
}

func (b chainRefBody) ref() *multisig.ChainRef {
	if b.ChainTxHash == "" {
		return nil
	}
	return &multisig.ChainRef{
		TxHash:   b.ChainTxHash,
		CallHash: b.CallHash,
		CallData: b.CallData,
		Timepoint: chain.Timepoint{
			Height: b.TimepointHeight,
			Index:  b.TimepointIndex,
		},
	}
}

func (h Approvals) Initiate(c *gin.Context) {
	var req struct {
		MilestoneID uint64 `json:"milestoneId" binding:"required"`
		chainRefBody
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}

	approval, err := h.mgr.Initiate(c.Request.Context(), req.MilestoneID, c.GetString("addr"), req.ref())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"approval_id": approval.ID,
		"status":      approval.Status,
		"call_hash":   approval.CallHash,
		"timepoint": gin.H{
			"height": approval.TimepointHeight,
			"index":  approval.TimepointIndex,
		},
	})
}

func (h Approvals) CastVote(c *gin.Context) {
	approvalID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	var req struct {
		Type string `json:"type" binding:"omitempty,oneof=signed rejected"`
		chainRefBody
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	kind := types.SignatureSigned
	if req.Type == "rejected" {
		kind = types.SignatureRejected
	}

	result, err := h.mgr.CastVote(c.Request.Context(), approvalID, c.GetString("addr"), kind, req.ref())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"threshold_met":   result.ThresholdMet,
		"votes_remaining": result.VotesRemaining,
		"executed":        result.Executed,
		"tx_hash":         result.TxHash,
	})
}

func (h Approvals) Finalize(c *gin.Context) {
	approvalID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	var req struct {
		ExecutionTxHash string `json:"executionTxHash"`
		BlockNumber     uint64 `json:"blockNumber"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
		return
	}
	var ref *multisig.ChainRef
	if req.ExecutionTxHash != "" {
		ref = &multisig.ChainRef{TxHash: req.ExecutionTxHash}
	}

	approval, err := h.mgr.Finalize(c.Request.Context(), approvalID, c.GetString("addr"), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": approval.Status == types.ApprovalExecuted,
		"status":  approval.Status,
		"tx_hash": approval.ExecutedTxHash,
	})
}

func (h Approvals) Status(c *gin.Context) {
	milestoneID, _ := strconv.ParseUint(c.Param("id"), 10, 64)
	report, err := h.mgr.Status(milestoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
