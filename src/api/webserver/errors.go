package webserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
	"github.com/stake-plus/polkadot-grant-pay/src/multisig"
	"github.com/stake-plus/polkadot-grant-pay/src/quorum"
)

// writeError maps the coordinator error taxonomy onto HTTP statuses. Every
// mutating operation answers with either a success payload or one
// structured error; there is no partial-success shape.
func writeError(c *gin.Context, err error) {
	var ce *chain.Error
	switch {
	case errors.Is(err, multisig.ErrNotSignatory), errors.Is(err, quorum.ErrNotReviewer):
		c.JSON(http.StatusForbidden, gin.H{"err": err.Error()})
	case errors.Is(err, quorum.ErrDuplicateVote), errors.Is(err, multisig.ErrDuplicateSignature):
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
	case errors.Is(err, multisig.ErrApprovalActive), errors.Is(err, multisig.ErrApprovalNotActive):
		c.JSON(http.StatusConflict, gin.H{"err": err.Error()})
	case errors.Is(err, multisig.ErrUnknownApproval), errors.Is(err, multisig.ErrUnknownMilestone),
		errors.Is(err, quorum.ErrUnknownTarget):
		c.JSON(http.StatusNotFound, gin.H{"err": err.Error()})
	case errors.Is(err, multisig.ErrBadTimepoint):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"err": err.Error()})
	case errors.Is(err, multisig.ErrNoSigner):
		c.JSON(http.StatusBadRequest, gin.H{"err": err.Error()})
	case errors.As(err, &ce):
		c.JSON(http.StatusBadGateway, gin.H{
			"err":       ce.Error(),
			"retryable": ce.Retryable,
			"network":   ce.Network,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"err": err.Error()})
	}
}
