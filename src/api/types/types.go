package types

import "time"

// Submission/milestone status lifecycle. Transitions out of
// pending/in-review are one-way: once a quorum outcome is applied the
// status never returns.
type ReviewStatus string

const (
	StatusPending          ReviewStatus = "pending"
	StatusInReview         ReviewStatus = "in-review"
	StatusChangesRequested ReviewStatus = "changes-requested"
	StatusApproved         ReviewStatus = "approved"
	StatusCompleted        ReviewStatus = "completed"
	StatusRejected         ReviewStatus = "rejected"
)

// Decided reports whether a quorum outcome has already been applied.
func (s ReviewStatus) Decided() bool {
	return s != StatusPending && s != StatusInReview
}

type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

type TargetKind string

const (
	TargetSubmission TargetKind = "submission"
	TargetMilestone  TargetKind = "milestone"
)

// ApprovalStatus is the on-chain multisig lifecycle.
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalThresholdMet ApprovalStatus = "threshold_met"
	ApprovalExecuted     ApprovalStatus = "executed"
	ApprovalCancelled    ApprovalStatus = "cancelled"
)

// Active reports whether the approval can still accept signatures.
func (s ApprovalStatus) Active() bool {
	return s == ApprovalPending || s == ApprovalThresholdMet
}

type SignatureKind string

const (
	SignatureSigned   SignatureKind = "signed"
	SignatureRejected SignatureKind = "rejected"
)

// Workflow selects whether a reviewer's approve action is also a chain
// signature (merged) or the two are independent actions (separated).
type Workflow string

const (
	WorkflowMerged    Workflow = "merged"
	WorkflowSeparated Workflow = "separated"
)

// Committees
type Committee struct {
	ID                         uint64 `gorm:"primaryKey"`
	Name                       string `gorm:"size:128;not null"`
	Network                    string `gorm:"size:16;not null"` // polkadot|kusama
	MultisigAddress            string `gorm:"size:128"`
	Threshold                  uint16 `gorm:"not null"` // chain signatures required
	VotingThreshold            float64
	RequiredApprovalPercentage float64
	Workflow                   Workflow `gorm:"size:16;default:'separated'"`
	CreatedAt                  time.Time
	Members                    []CommitteeMember `gorm:"foreignKey:CommitteeID"`
}

type CommitteeMember struct {
	CommitteeID uint64 `gorm:"primaryKey"`
	Address     string `gorm:"primaryKey;size:128"`
	Name        string `gorm:"size:64"`
	Active      bool   `gorm:"default:true"`
}

// Funding submissions
type Submission struct {
	ID          uint64 `gorm:"primaryKey"`
	CommitteeID uint64 `gorm:"index;not null"`
	Applicant   string `gorm:"size:128;not null"`
	Title       string `gorm:"size:255"`
	Amount      float64
	Status      ReviewStatus `gorm:"size:32;default:'pending'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Committee   Committee   `gorm:"foreignKey:CommitteeID"`
	Milestones  []Milestone `gorm:"foreignKey:SubmissionID"`
}

// Milestones (funding tranches)
type Milestone struct {
	ID           uint64 `gorm:"primaryKey"`
	SubmissionID uint64 `gorm:"index;not null"`
	Ordinal      uint16 `gorm:"not null"`
	Title        string `gorm:"size:255"`
	Amount       float64
	Beneficiary  string       `gorm:"size:128"`
	Status       ReviewStatus `gorm:"size:32;default:'pending'"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Submission   Submission `gorm:"foreignKey:SubmissionID"`
}

// Review votes, one per (target, reviewer). Submission and milestone pools
// are disjoint: a milestone vote never counts toward the submission quorum.
type ReviewVote struct {
	ID         uint64     `gorm:"primaryKey"`
	TargetKind TargetKind `gorm:"size:16;not null;uniqueIndex:uniq_target_reviewer"`
	TargetID   uint64     `gorm:"not null;uniqueIndex:uniq_target_reviewer"`
	Reviewer   string     `gorm:"size:128;not null;uniqueIndex:uniq_target_reviewer"`
	Choice     VoteChoice `gorm:"size:16;not null"`
	Feedback   string     `gorm:"type:text"`
	CreatedAt  time.Time
}

// MilestoneApproval is the pending multisig call for a milestone payout.
// At most one approval in an active status may exist per milestone.
type MilestoneApproval struct {
	ID          uint64         `gorm:"primaryKey"`
	MilestoneID uint64         `gorm:"index;not null"`
	Status      ApprovalStatus `gorm:"size:16;default:'pending'"`
	Workflow    Workflow       `gorm:"size:16;not null"`

	CallHash  string `gorm:"size:128;not null"`
	CallData  string `gorm:"type:text"`
	Initiator string `gorm:"size:128;not null"`

	// Timepoint of the first on-chain signature; later signers must
	// reference it to join the same pending call.
	TimepointHeight uint32
	TimepointIndex  uint32

	Amount      float64
	Beneficiary string `gorm:"size:128;not null"`

	ExecutedTxHash string `gorm:"size:128"`
	ExecutedBlock  uint64

	// Price snapshot captured at initiation, for audit.
	PriceRate   float64
	PriceSource string `gorm:"size:64"`
	PriceAt     *time.Time

	CreatedAt  time.Time
	UpdatedAt  time.Time
	Milestone  Milestone           `gorm:"foreignKey:MilestoneID"`
	Signatures []ApprovalSignature `gorm:"foreignKey:ApprovalID"`
}

// ApprovalSignature, one per (approval, signatory). SignedAt ordering is
// advisory; correctness depends only on set membership.
type ApprovalSignature struct {
	ID          uint64        `gorm:"primaryKey"`
	ApprovalID  uint64        `gorm:"not null;uniqueIndex:uniq_approval_signatory"`
	Signatory   string        `gorm:"size:128;not null;uniqueIndex:uniq_approval_signatory"`
	Kind        SignatureKind `gorm:"size:16;not null"`
	TxHash      string        `gorm:"size:128"`
	IsInitiator bool
	IsFinal     bool
	SignedAt    time.Time
}

// Payouts recorded after a successful execution.
type Payout struct {
	ID          uint64 `gorm:"primaryKey"`
	MilestoneID uint64 `gorm:"index;not null"`
	ApprovalID  uint64 `gorm:"index;not null"`
	Amount      float64
	Beneficiary string `gorm:"size:128;not null"`
	TxHash      string `gorm:"size:128;not null"`
	BlockNumber uint64
	CreatedAt   time.Time
}
