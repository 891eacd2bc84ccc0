package chain

import (
	"fmt"
	"strings"
)

// Error wraps a failed chain submission with enough context for the caller
// to decide whether a retry is worthwhile.
type Error struct {
	Op        string
	Network   string
	Address   string
	Threshold uint16
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("chain %s (%s, signer %s, threshold %d): %v",
		e.Op, e.Network, e.Address, e.Threshold, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a chain error worth retrying.
func IsRetryable(err error) bool {
	ce, ok := err.(*Error)
	return ok && ce.Retryable
}

// retryable classifies raw RPC failures. Timeouts, dropped connections and
// transaction-pool transients can be retried; everything else is permanent.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout", "deadline exceeded", "connection", "eof",
		"temporarily", "priority is too low", "transaction is outdated",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// AlreadyApproved reports whether the pallet rejected the call because this
// signatory already approved the still-pending multisig. The signature is on
// chain but the local row may be missing (crash between chain ack and ledger
// write); callers backfill the row and let the recount drive status.
func AlreadyApproved(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "alreadyapproved")
}

// AlreadyExecuted reports whether the chain no longer holds a pending entry
// for the call, the signal left behind once a multisig was fully witnessed
// and dispatched. It is a hint only: callers must confirm against the pallet
// storage before reconciling local status to executed, since NotFound also
// covers a call that was never initiated.
func AlreadyExecuted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "notfound") && strings.Contains(msg, "multisig")
}
