// Package multisig owns the on-chain approval lifecycle for milestone
// payouts: pending -> threshold_met -> executed, or pending -> cancelled.
package multisig

import (
	"context"
	"errors"
	"log"
	"math/big"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
	"github.com/stake-plus/polkadot-grant-pay/src/ledger"
	"gorm.io/gorm"
)

// Caller is the chain capability the manager consumes. Implemented by
// chain.Client; tests substitute a fake.
type Caller interface {
	BuildTransferCall(beneficiary string, planck *big.Int) ([]byte, string, error)
	BuildInitialCall(ctx context.Context, threshold uint16, signatories []string, innerCall []byte, kp signature.KeyringPair) (*chain.CallRef, error)
	AddApproval(ctx context.Context, callHash string, tp chain.Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (string, error)
	ExecuteCall(ctx context.Context, callData string, tp chain.Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (*chain.ExecRef, error)
	PendingFor(signatories []string, threshold uint16, callHash string) (*chain.PendingCall, error)
	Network() string
}

// Pricer captures a conversion-rate snapshot at initiation.
type Pricer interface {
	Snapshot(ctx context.Context) (rate float64, source string, at time.Time, err error)
}

// Notifier dispatches best-effort downstream events.
type Notifier interface {
	Publish(ctx context.Context, kind, subscriber string, fields map[string]interface{})
}

// ChainRef carries chain artifacts produced by wallet-side signing. When a
// caller submits the extrinsic from their own wallet the coordinator only
// records the result; otherwise it drives the chain itself via Caller.
type ChainRef struct {
	TxHash    string
	CallHash  string
	CallData  string
	Timepoint chain.Timepoint
}

type Manager struct {
	db       *gorm.DB
	caller   Caller
	keyring  *chain.Keyring
	pricer   Pricer
	notifier Notifier
	decimals int
}

func NewManager(db *gorm.DB, caller Caller, keyring *chain.Keyring, pricer Pricer, notifier Notifier) *Manager {
	return &Manager{
		db:       db,
		caller:   caller,
		keyring:  keyring,
		pricer:   pricer,
		notifier: notifier,
		decimals: 10,
	}
}

// committeeFor re-reads the committee configuration; signatory set changes
// must be honored per call, so nothing is cached.
func (m *Manager) committeeFor(milestoneID uint64) (*types.Milestone, *types.Committee, error) {
	var ms types.Milestone
	if err := m.db.First(&ms, milestoneID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUnknownMilestone
		}
		return nil, nil, err
	}
	var sub types.Submission
	if err := m.db.First(&sub, ms.SubmissionID).Error; err != nil {
		return nil, nil, err
	}
	var com types.Committee
	if err := m.db.Preload("Members").First(&com, sub.CommitteeID).Error; err != nil {
		return nil, nil, err
	}
	return &ms, &com, nil
}

func signatories(com *types.Committee) []string {
	out := make([]string, 0, len(com.Members))
	for _, mem := range com.Members {
		if mem.Active {
			out = append(out, mem.Address)
		}
	}
	return out
}

func isSignatory(com *types.Committee, addr string) bool {
	for _, mem := range com.Members {
		if mem.Active && mem.Address == addr {
			return true
		}
	}
	return false
}

// activeApproval returns the milestone's approval still accepting
// signatures, if any.
func activeApproval(tx *gorm.DB, milestoneID uint64) (*types.MilestoneApproval, error) {
	var ap types.MilestoneApproval
	err := tx.Where("milestone_id = ? AND status IN ?", milestoneID,
		[]types.ApprovalStatus{types.ApprovalPending, types.ApprovalThresholdMet}).
		First(&ap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ap, nil
}

// Initiate opens a new multisig approval for the milestone payout. The
// initiator's signature counts toward the threshold.
func (m *Manager) Initiate(ctx context.Context, milestoneID uint64, initiator string, ref *ChainRef) (*types.MilestoneApproval, error) {
	ms, com, err := m.committeeFor(milestoneID)
	if err != nil {
		return nil, err
	}
	if !isSignatory(com, initiator) {
		return nil, ErrNotSignatory
	}
	if existing, err := activeApproval(m.db, milestoneID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrApprovalActive
	}

	// Chain first: the approval row is only written once the chain has
	// acknowledged the initiating call and assigned a timepoint.
	callRef, err := m.initialCallRef(ctx, com, ms, initiator, ref)
	if err != nil {
		return nil, err
	}
	if callRef.Timepoint.Zero() {
		return nil, ErrBadTimepoint
	}

	approval := &types.MilestoneApproval{
		MilestoneID:     milestoneID,
		Status:          types.ApprovalPending,
		Workflow:        com.Workflow,
		CallHash:        callRef.CallHash,
		CallData:        callRef.CallData,
		Initiator:       initiator,
		TimepointHeight: callRef.Timepoint.Height,
		TimepointIndex:  callRef.Timepoint.Index,
		Amount:          ms.Amount,
		Beneficiary:     ms.Beneficiary,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	m.snapshotPrice(ctx, approval)

	err = m.db.Transaction(func(tx *gorm.DB) error {
		// Re-verify inside the write path; a concurrent initiator may
		// have won the race since the check above.
		if existing, err := activeApproval(tx, milestoneID); err != nil {
			return err
		} else if existing != nil {
			return ErrApprovalActive
		}
		if err := tx.Create(approval).Error; err != nil {
			return err
		}
		sig := types.ApprovalSignature{
			ApprovalID:  approval.ID,
			Signatory:   initiator,
			Kind:        types.SignatureSigned,
			TxHash:      callRef.TxHash,
			IsInitiator: true,
			SignedAt:    time.Now(),
		}
		if err := tx.Create(&sig).Error; err != nil {
			return err
		}
		if int(com.Threshold) <= 1 {
			approval.Status = types.ApprovalThresholdMet
			return tx.Model(approval).Update("status", approval.Status).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, "approval.initiated", com, map[string]interface{}{
		"approval_id":  approval.ID,
		"milestone_id": milestoneID,
		"initiator":    initiator,
		"call_hash":    approval.CallHash,
	})
	return approval, nil
}

func (m *Manager) initialCallRef(ctx context.Context, com *types.Committee, ms *types.Milestone, initiator string, ref *ChainRef) (*chain.CallRef, error) {
	if ref != nil && ref.TxHash != "" {
		out := &chain.CallRef{
			CallHash:  ref.CallHash,
			CallData:  ref.CallData,
			TxHash:    ref.TxHash,
			Timepoint: ref.Timepoint,
		}
		if out.Timepoint.Zero() {
			// The wallet did not report where its call landed; the pallet's
			// pending entry carries the timepoint.
			if pending, err := m.caller.PendingFor(signatories(com), com.Threshold, ref.CallHash); err == nil && pending != nil {
				out.Timepoint = pending.When
			}
		}
		return out, nil
	}
	kp, ok := m.keyring.For(initiator)
	if !ok {
		return nil, ErrNoSigner
	}
	inner, _, err := m.caller.BuildTransferCall(ms.Beneficiary, chain.PlanckFromUnit(ms.Amount, m.decimals))
	if err != nil {
		return nil, err
	}
	return m.caller.BuildInitialCall(ctx, com.Threshold, signatories(com), inner, kp)
}

// VoteResult reports the aggregate after a signatory action.
type VoteResult struct {
	ThresholdMet   bool
	VotesRemaining int
	Executed       bool
	TxHash         string
}

// CastVote records one signatory's chain signature on the approval. When
// the vote completes the threshold the executing call is submitted in the
// same step; there is no separate "please execute" action left for the
// last signer.
func (m *Manager) CastVote(ctx context.Context, approvalID uint64, signatory string, kind types.SignatureKind, ref *ChainRef) (*VoteResult, error) {
	var approval types.MilestoneApproval
	if err := m.db.First(&approval, approvalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownApproval
		}
		return nil, err
	}
	if !approval.Status.Active() {
		return nil, ErrApprovalNotActive
	}
	_, com, err := m.committeeFor(approval.MilestoneID)
	if err != nil {
		return nil, err
	}
	if !isSignatory(com, signatory) {
		return nil, ErrNotSignatory
	}
	if signed, err := ledger.HasSigned(m.db, approvalID, signatory); err != nil {
		return nil, err
	} else if signed {
		return nil, ErrDuplicateSignature
	}
	if _, err := m.timepointFor(&approval, com); err != nil {
		return nil, err
	}

	// The completing vote must be decided before the chain call: the
	// approve-only and approve-and-execute payloads differ in shape.
	counts, err := ledger.Signatures(m.db, approvalID)
	if err != nil {
		return nil, err
	}
	willComplete := kind == types.SignatureSigned && counts.Signed+1 >= int(com.Threshold)

	txHash, exec, err := m.submitVote(ctx, &approval, com, signatory, kind, willComplete, ref)
	executed := exec != nil
	if err != nil {
		switch {
		case chain.AlreadyApproved(err):
			// The signature landed in an earlier attempt that crashed before
			// the ledger write. Backfill the row; the recount drives status.
		case chain.AlreadyExecuted(err) && m.executionConfirmed(com, approval.CallHash):
			// Another signer's execution landed first (or a crashed flow
			// completed on chain). The pending entry is gone, so the chain
			// has dispatched: reconcile as success.
			executed = true
		default:
			return nil, err
		}
	}

	result := &VoteResult{TxHash: txHash}
	err = m.db.Transaction(func(tx *gorm.DB) error {
		sig := types.ApprovalSignature{
			ApprovalID: approvalID,
			Signatory:  signatory,
			Kind:       kind,
			TxHash:     txHash,
			IsFinal:    willComplete,
			SignedAt:   time.Now(),
		}
		if err := tx.Create(&sig).Error; err != nil {
			return err
		}

		// Post-insert recount already reflects any concurrent writer.
		counts, err := ledger.Signatures(tx, approvalID)
		if err != nil {
			return err
		}
		result.ThresholdMet = counts.Signed >= int(com.Threshold)
		result.VotesRemaining = int(com.Threshold) - counts.Signed
		if result.VotesRemaining < 0 {
			result.VotesRemaining = 0
		}

		if result.ThresholdMet && approval.Status == types.ApprovalPending {
			if err := tx.Model(&approval).Update("status", types.ApprovalThresholdMet).Error; err != nil {
				return err
			}
			approval.Status = types.ApprovalThresholdMet
		}
		if executed {
			result.Executed = true
			return markExecuted(tx, &approval, exec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, "approval.vote", com, map[string]interface{}{
		"approval_id":   approvalID,
		"signatory":     signatory,
		"threshold_met": result.ThresholdMet,
		"executed":      result.Executed,
	})
	return result, nil
}

func (m *Manager) submitVote(ctx context.Context, approval *types.MilestoneApproval, com *types.Committee, signatory string, kind types.SignatureKind, willComplete bool, ref *ChainRef) (string, *chain.ExecRef, error) {
	if kind == types.SignatureRejected {
		// A rejection is recorded in the ledger only; withdrawing the
		// pending chain call is the depositor's cancel, out of scope here.
		if ref != nil {
			return ref.TxHash, nil, nil
		}
		return "", nil, nil
	}
	if ref != nil && ref.TxHash != "" {
		if willComplete {
			return ref.TxHash, &chain.ExecRef{TxHash: ref.TxHash}, nil
		}
		return ref.TxHash, nil, nil
	}
	kp, ok := m.keyring.For(signatory)
	if !ok {
		return "", nil, ErrNoSigner
	}
	tp := chain.Timepoint{Height: approval.TimepointHeight, Index: approval.TimepointIndex}
	if willComplete {
		exec, err := m.caller.ExecuteCall(ctx, approval.CallData, tp, com.Threshold, signatories(com), kp)
		if err != nil {
			return "", nil, err
		}
		return exec.TxHash, exec, nil
	}
	txHash, err := m.caller.AddApproval(ctx, approval.CallHash, tp, com.Threshold, signatories(com), kp)
	return txHash, nil, err
}

// timepointFor returns the approval's chain anchor, recovering it from the
// pallet's pending entry when the stored one was lost (crash between chain
// submission and persist). An anchor that cannot be recovered means the
// approval must be abandoned and re-initiated.
func (m *Manager) timepointFor(approval *types.MilestoneApproval, com *types.Committee) (chain.Timepoint, error) {
	tp := chain.Timepoint{Height: approval.TimepointHeight, Index: approval.TimepointIndex}
	if !tp.Zero() {
		return tp, nil
	}
	pending, err := m.caller.PendingFor(signatories(com), com.Threshold, approval.CallHash)
	if err != nil || pending == nil || pending.When.Zero() {
		return tp, ErrBadTimepoint
	}
	approval.TimepointHeight = pending.When.Height
	approval.TimepointIndex = pending.When.Index
	if err := m.db.Model(&types.MilestoneApproval{}).Where("id = ?", approval.ID).
		Updates(map[string]interface{}{
			"timepoint_height": pending.When.Height,
			"timepoint_index":  pending.When.Index,
		}).Error; err != nil {
		return tp, err
	}
	return pending.When, nil
}

// executionConfirmed double-checks a NotFound answer against the pallet
// storage. The pending entry being gone is the only durable evidence the
// multisig was dispatched; a still-present entry means the error had some
// other cause and must surface.
func (m *Manager) executionConfirmed(com *types.Committee, callHash string) bool {
	pending, err := m.caller.PendingFor(signatories(com), com.Threshold, callHash)
	return err == nil && pending == nil
}

// Finalize executes an approval whose threshold is already met. Used by
// separated-workflow committees where the executing step is an explicit
// caller action, and to retry after a failed execution.
func (m *Manager) Finalize(ctx context.Context, approvalID uint64, signatory string, ref *ChainRef) (*types.MilestoneApproval, error) {
	var approval types.MilestoneApproval
	if err := m.db.First(&approval, approvalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownApproval
		}
		return nil, err
	}
	if approval.Status == types.ApprovalExecuted {
		// Local evidence of success; never initiate a second execution.
		return &approval, nil
	}
	if approval.Status != types.ApprovalThresholdMet {
		return nil, ErrApprovalNotActive
	}
	_, com, err := m.committeeFor(approval.MilestoneID)
	if err != nil {
		return nil, err
	}
	if !isSignatory(com, signatory) {
		return nil, ErrNotSignatory
	}
	tp, err := m.timepointFor(&approval, com)
	if err != nil {
		return nil, err
	}

	var exec *chain.ExecRef
	if ref != nil && ref.TxHash != "" {
		exec = &chain.ExecRef{TxHash: ref.TxHash}
	} else {
		kp, ok := m.keyring.For(signatory)
		if !ok {
			return nil, ErrNoSigner
		}
		exec, err = m.caller.ExecuteCall(ctx, approval.CallData, tp, com.Threshold, signatories(com), kp)
		if err != nil {
			if !(chain.AlreadyExecuted(err) && m.executionConfirmed(com, approval.CallHash)) {
				// Approval stays threshold_met so the caller may retry.
				return nil, err
			}
			exec = nil
		}
	}

	err = m.db.Transaction(func(tx *gorm.DB) error {
		return markExecuted(tx, &approval, exec)
	})
	if err != nil {
		return nil, err
	}

	m.publish(ctx, "approval.executed", com, map[string]interface{}{
		"approval_id":  approval.ID,
		"milestone_id": approval.MilestoneID,
		"tx_hash":      approval.ExecutedTxHash,
	})
	return &approval, nil
}

// markExecuted flips the approval to executed and records the payout.
// Idempotent: a second writer observing an already-executed row is a no-op,
// so at most one payout row ever exists per approval.
func markExecuted(tx *gorm.DB, approval *types.MilestoneApproval, exec *chain.ExecRef) error {
	var current types.MilestoneApproval
	if err := tx.First(&current, approval.ID).Error; err != nil {
		return err
	}
	if current.Status == types.ApprovalExecuted {
		approval.Status = types.ApprovalExecuted
		return nil
	}

	updates := map[string]interface{}{
		"status":     types.ApprovalExecuted,
		"updated_at": time.Now(),
	}
	if exec != nil {
		updates["executed_tx_hash"] = exec.TxHash
		updates["executed_block"] = exec.BlockNumber
		approval.ExecutedTxHash = exec.TxHash
		approval.ExecutedBlock = exec.BlockNumber
	}
	if err := tx.Model(&types.MilestoneApproval{}).Where("id = ?", approval.ID).Updates(updates).Error; err != nil {
		return err
	}
	approval.Status = types.ApprovalExecuted

	payout := types.Payout{
		MilestoneID: approval.MilestoneID,
		ApprovalID:  approval.ID,
		Amount:      approval.Amount,
		Beneficiary: approval.Beneficiary,
		TxHash:      approval.ExecutedTxHash,
		BlockNumber: approval.ExecutedBlock,
		CreatedAt:   time.Now(),
	}
	if err := tx.Create(&payout).Error; err != nil {
		return err
	}
	return tx.Model(&types.Milestone{}).Where("id = ?", approval.MilestoneID).
		Updates(map[string]interface{}{"status": types.StatusCompleted, "updated_at": time.Now()}).Error
}

func (m *Manager) snapshotPrice(ctx context.Context, approval *types.MilestoneApproval) {
	if m.pricer == nil {
		return
	}
	rate, source, at, err := m.pricer.Snapshot(ctx)
	if err != nil {
		log.Printf("price snapshot failed (approval proceeds without): %v", err)
		return
	}
	approval.PriceRate = rate
	approval.PriceSource = source
	approval.PriceAt = &at
}

// publish is best-effort; a failed dispatch never fails the operation.
func (m *Manager) publish(ctx context.Context, kind string, com *types.Committee, fields map[string]interface{}) {
	if m.notifier == nil {
		return
	}
	for _, addr := range signatories(com) {
		m.notifier.Publish(ctx, kind, addr, fields)
	}
}
