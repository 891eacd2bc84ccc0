package multisig

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/glebarez/sqlite"
	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCaller stands in for the chain. It hands out fixed artifacts and
// counts executions so the exactly-once property can be asserted.
type fakeCaller struct {
	addErr       error
	execErr      error
	addCount     int
	execCount    int
	initCount    int
	pendingCount int
	execResult   chain.ExecRef
	pending      *chain.PendingCall
	pendingErr   error
}

func (f *fakeCaller) BuildTransferCall(beneficiary string, planck *big.Int) ([]byte, string, error) {
	return []byte("transfer"), "0xcallhash", nil
}

func (f *fakeCaller) BuildInitialCall(ctx context.Context, threshold uint16, signatories []string, innerCall []byte, kp signature.KeyringPair) (*chain.CallRef, error) {
	f.initCount++
	return &chain.CallRef{
		CallHash:  "0xcallhash",
		CallData:  "0xcalldata",
		TxHash:    fmt.Sprintf("0xinit%d", f.initCount),
		Timepoint: chain.Timepoint{Height: 100, Index: 2},
	}, nil
}

func (f *fakeCaller) AddApproval(ctx context.Context, callHash string, tp chain.Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (string, error) {
	f.addCount++
	if f.addErr != nil {
		return "", f.addErr
	}
	return fmt.Sprintf("0xadd%d", f.addCount), nil
}

func (f *fakeCaller) ExecuteCall(ctx context.Context, callData string, tp chain.Timepoint, threshold uint16, signatories []string, kp signature.KeyringPair) (*chain.ExecRef, error) {
	f.execCount++
	if f.execErr != nil {
		return nil, f.execErr
	}
	out := f.execResult
	if out.TxHash == "" {
		out = chain.ExecRef{TxHash: "0xexec", BlockNumber: 123}
	}
	return &out, nil
}

func (f *fakeCaller) PendingFor(signatories []string, threshold uint16, callHash string) (*chain.PendingCall, error) {
	f.pendingCount++
	return f.pending, f.pendingErr
}

func (f *fakeCaller) Network() string { return "testnet" }

type fakePricer struct{}

func (fakePricer) Snapshot(ctx context.Context) (float64, string, time.Time, error) {
	return 4.2, "test-oracle", time.Now(), nil
}

type fixture struct {
	db        *gorm.DB
	mgr       *Manager
	caller    *fakeCaller
	committee *types.Committee
	milestone *types.Milestone
}

func newFixture(t *testing.T, threshold uint16, members int, workflow types.Workflow) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Committee{}, &types.CommitteeMember{},
		&types.Submission{}, &types.Milestone{}, &types.ReviewVote{},
		&types.MilestoneApproval{}, &types.ApprovalSignature{}, &types.Payout{},
	))

	com := &types.Committee{
		Name:                       "Treasury",
		Network:                    "testnet",
		Threshold:                  threshold,
		VotingThreshold:            0.5,
		RequiredApprovalPercentage: 0.6,
		Workflow:                   workflow,
	}
	require.NoError(t, db.Create(com).Error)

	keyring, err := chain.NewKeyring("none", 42)
	require.NoError(t, err)
	for i := 0; i < members; i++ {
		addr := fmt.Sprintf("member-%d", i)
		require.NoError(t, db.Create(&types.CommitteeMember{
			CommitteeID: com.ID, Address: addr, Active: true,
		}).Error)
		keyring.Add(signature.KeyringPair{Address: addr})
	}

	sub := &types.Submission{CommitteeID: com.ID, Applicant: "applicant", Amount: 500, Status: types.StatusApproved}
	require.NoError(t, db.Create(sub).Error)
	ms := &types.Milestone{
		SubmissionID: sub.ID, Ordinal: 1, Amount: 250,
		Beneficiary: "beneficiary-addr", Status: types.StatusApproved,
	}
	require.NoError(t, db.Create(ms).Error)

	caller := &fakeCaller{}
	mgr := NewManager(db, caller, keyring, fakePricer{}, nil)
	return &fixture{db: db, mgr: mgr, caller: caller, committee: com, milestone: ms}
}

func TestInitiateRoundTrip(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)

	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalPending, approval.Status)
	assert.EqualValues(t, 100, approval.TimepointHeight)
	assert.Equal(t, 4.2, approval.PriceRate)

	report, err := fx.mgr.Status(fx.milestone.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Approvals)
	assert.False(t, report.ThresholdMet)
	assert.Equal(t, 2, report.Threshold)
}

func TestInitiateThresholdOne(t *testing.T) {
	fx := newFixture(t, 1, 2, types.WorkflowSeparated)

	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalThresholdMet, approval.Status)

	report, err := fx.mgr.Status(fx.milestone.ID)
	require.NoError(t, err)
	assert.True(t, report.ThresholdMet)
}

func TestInitiateRequiresSignatory(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	_, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "stranger", nil)
	assert.ErrorIs(t, err, ErrNotSignatory)
}

func TestInitiateRejectsSecondActive(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	_, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	_, err = fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-1", nil)
	assert.ErrorIs(t, err, ErrApprovalActive)
}

func TestThresholdCrossingExecutesOnce(t *testing.T) {
	// Scenario: threshold 2, three signatories. The second signature must
	// both meet the threshold and execute in the same step.
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	result, err := fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)
	assert.True(t, result.ThresholdMet)
	assert.True(t, result.Executed)
	assert.Equal(t, 0, result.VotesRemaining)
	assert.Equal(t, 1, fx.caller.execCount)
	assert.Equal(t, 0, fx.caller.addCount)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalExecuted, stored.Status)
	assert.Equal(t, "0xexec", stored.ExecutedTxHash)

	var payouts []types.Payout
	require.NoError(t, fx.db.Find(&payouts).Error)
	require.Len(t, payouts, 1)
	assert.Equal(t, fx.milestone.Amount, payouts[0].Amount)
	assert.Equal(t, "beneficiary-addr", payouts[0].Beneficiary)

	var ms types.Milestone
	require.NoError(t, fx.db.First(&ms, fx.milestone.ID).Error)
	assert.Equal(t, types.StatusCompleted, ms.Status)
}

func TestNonCompletingVoteAddsApproval(t *testing.T) {
	fx := newFixture(t, 3, 4, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	result, err := fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)
	assert.False(t, result.ThresholdMet)
	assert.Equal(t, 1, result.VotesRemaining)
	assert.False(t, result.Executed)
	assert.Equal(t, 1, fx.caller.addCount)
	assert.Equal(t, 0, fx.caller.execCount)
}

func TestDuplicateSignatureRejected(t *testing.T) {
	fx := newFixture(t, 3, 4, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-0", types.SignatureSigned, nil)
	assert.ErrorIs(t, err, ErrDuplicateSignature)
}

func TestNonSignatoryLeavesNoRow(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "stranger", types.SignatureSigned, nil)
	assert.ErrorIs(t, err, ErrNotSignatory)

	var count int64
	fx.db.Model(&types.ApprovalSignature{}).Where("approval_id = ?", approval.ID).Count(&count)
	assert.EqualValues(t, 1, count) // only the initiator's
}

func TestVoteOnTerminalApproval(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)

	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-2", types.SignatureSigned, nil)
	assert.ErrorIs(t, err, ErrApprovalNotActive)
}

func TestChainFailureRecordsNothing(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	fx.caller.execErr = &chain.Error{Op: "as_multi", Network: "testnet", Retryable: true, Err: errors.New("timeout waiting for inclusion")}
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.Error(t, err)
	assert.True(t, chain.IsRetryable(err))

	// The ledger never records a signature the chain did not acknowledge.
	var count int64
	fx.db.Model(&types.ApprovalSignature{}).Where("approval_id = ?", approval.ID).Count(&count)
	assert.EqualValues(t, 1, count)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalPending, stored.Status)
}

func TestAlreadyApprovedBackfillsSignatureOnly(t *testing.T) {
	// A crash between the chain ack and the ledger write leaves the
	// signature on chain only. The retry gets AlreadyApproved from the
	// pallet; the row is backfilled and status stays count-driven, with no
	// execution and no payout while the threshold is short.
	fx := newFixture(t, 3, 4, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	fx.caller.addErr = errors.New("Multisig: AlreadyApproved")
	fx.caller.pending = &chain.PendingCall{When: chain.Timepoint{Height: 100, Index: 2}}
	result, err := fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)
	assert.False(t, result.Executed)
	assert.False(t, result.ThresholdMet)

	var sigs int64
	fx.db.Model(&types.ApprovalSignature{}).Where("approval_id = ?", approval.ID).Count(&sigs)
	assert.EqualValues(t, 2, sigs)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalPending, stored.Status)

	var payouts int64
	fx.db.Model(&types.Payout{}).Count(&payouts)
	assert.EqualValues(t, 0, payouts)

	var ms types.Milestone
	require.NoError(t, fx.db.First(&ms, fx.milestone.ID).Error)
	assert.Equal(t, types.StatusApproved, ms.Status)
}

func TestExecutedElsewhereReconciledAsSuccess(t *testing.T) {
	// A faster concurrent signer (or a crashed flow) already dispatched the
	// multisig: the pallet answers NotFound and the pending entry is gone.
	// The vote reconciles as success instead of erroring.
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	fx.caller.execErr = errors.New("Multisig: NotFound")
	result, err := fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)
	assert.True(t, result.Executed)
	assert.GreaterOrEqual(t, fx.caller.pendingCount, 1)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalExecuted, stored.Status)

	var payouts int64
	fx.db.Model(&types.Payout{}).Count(&payouts)
	assert.EqualValues(t, 1, payouts)
}

func TestNotFoundWithPendingEntrySurfaces(t *testing.T) {
	// NotFound while the pallet still holds the pending entry is not an
	// execution signal; the error surfaces and nothing is recorded.
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)

	fx.caller.execErr = errors.New("Multisig: NotFound")
	fx.caller.pending = &chain.PendingCall{When: chain.Timepoint{Height: 100, Index: 2}}
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.Error(t, err)

	var sigs int64
	fx.db.Model(&types.ApprovalSignature{}).Where("approval_id = ?", approval.ID).Count(&sigs)
	assert.EqualValues(t, 1, sigs)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalPending, stored.Status)
}

func TestTimepointRecoveredFromPendingEntry(t *testing.T) {
	// A lost anchor is recovered from the pallet's pending entry instead of
	// forcing re-initiation.
	fx := newFixture(t, 3, 4, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	require.NoError(t, fx.db.Model(&types.MilestoneApproval{}).Where("id = ?", approval.ID).
		Updates(map[string]interface{}{"timepoint_height": 0, "timepoint_index": 0}).Error)

	fx.caller.pending = &chain.PendingCall{When: chain.Timepoint{Height: 77, Index: 4}}
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.EqualValues(t, 77, stored.TimepointHeight)
	assert.EqualValues(t, 4, stored.TimepointIndex)
}

func TestFinalizeRetryAfterFailure(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	// Second signature reported from a wallet-side approve-only call, so
	// the approval reaches threshold_met without executing.
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureRejected, nil)
	require.NoError(t, err)
	require.NoError(t, fx.db.Model(&types.MilestoneApproval{}).Where("id = ?", approval.ID).
		Update("status", types.ApprovalThresholdMet).Error)

	fx.caller.execErr = errors.New("connection reset")
	_, err = fx.mgr.Finalize(context.Background(), approval.ID, "member-2", nil)
	require.Error(t, err)

	var stored types.MilestoneApproval
	require.NoError(t, fx.db.First(&stored, approval.ID).Error)
	assert.Equal(t, types.ApprovalThresholdMet, stored.Status)

	fx.caller.execErr = nil
	done, err := fx.mgr.Finalize(context.Background(), approval.ID, "member-2", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalExecuted, done.Status)
}

func TestFinalizeIdempotent(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", nil)
	require.NoError(t, err)
	_, err = fx.mgr.CastVote(context.Background(), approval.ID, "member-1", types.SignatureSigned, nil)
	require.NoError(t, err)
	require.Equal(t, 1, fx.caller.execCount)

	// Local evidence of success: a second finalize must not touch the
	// chain or create a second payout.
	done, err := fx.mgr.Finalize(context.Background(), approval.ID, "member-2", nil)
	require.NoError(t, err)
	assert.Equal(t, types.ApprovalExecuted, done.Status)
	assert.Equal(t, 1, fx.caller.execCount)

	var payouts int64
	fx.db.Model(&types.Payout{}).Count(&payouts)
	assert.EqualValues(t, 1, payouts)
}

func TestMissingTimepointAbandonsApproval(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	ref := &ChainRef{TxHash: "0xabc", CallHash: "0xcallhash", CallData: "0xcalldata"}
	_, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", ref)
	assert.ErrorIs(t, err, ErrBadTimepoint)
}

func TestWalletInitiateRecoversTimepoint(t *testing.T) {
	// Wallet-side initiations often lack the timepoint; it is read back
	// from the pallet's pending entry before the approval is persisted.
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	fx.caller.pending = &chain.PendingCall{When: chain.Timepoint{Height: 55, Index: 3}}

	ref := &ChainRef{TxHash: "0xwallet1", CallHash: "0xcallhash", CallData: "0xcalldata"}
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", ref)
	require.NoError(t, err)
	assert.EqualValues(t, 55, approval.TimepointHeight)
	assert.EqualValues(t, 3, approval.TimepointIndex)
}

func TestWalletSideArtifactsRecorded(t *testing.T) {
	fx := newFixture(t, 2, 3, types.WorkflowSeparated)
	ref := &ChainRef{
		TxHash:    "0xwallet1",
		CallHash:  "0xcallhash",
		CallData:  "0xcalldata",
		Timepoint: chain.Timepoint{Height: 55, Index: 3},
	}
	approval, err := fx.mgr.Initiate(context.Background(), fx.milestone.ID, "member-0", ref)
	require.NoError(t, err)
	assert.Equal(t, 0, fx.caller.initCount)
	assert.EqualValues(t, 55, approval.TimepointHeight)

	var sig types.ApprovalSignature
	require.NoError(t, fx.db.Where("approval_id = ?", approval.ID).First(&sig).Error)
	assert.Equal(t, "0xwallet1", sig.TxHash)
	assert.True(t, sig.IsInitiator)
}
