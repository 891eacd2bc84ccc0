package multisig

import "errors"

var (
	// Authorization failures surface verbatim and are never retried.
	ErrNotSignatory = errors.New("address is not a configured signatory for this committee")

	// Duplicate action; the caller should refresh status.
	ErrDuplicateSignature = errors.New("signatory already signed this approval")

	// Stale state; the caller must refetch before retrying.
	ErrApprovalNotActive = errors.New("approval is not active")
	ErrApprovalActive    = errors.New("an active approval already exists for this milestone")
	ErrUnknownApproval   = errors.New("approval not found")
	ErrUnknownMilestone  = errors.New("milestone not found")

	// The stored approval lost its chain anchor; abandon and re-initiate.
	ErrBadTimepoint = errors.New("approval has no valid chain timepoint")

	// No server-side wallet for the acting address and no wallet-side
	// artifacts reported.
	ErrNoSigner = errors.New("no signer available for address")
)
