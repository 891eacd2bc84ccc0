package multisig

import (
	"errors"

	"github.com/stake-plus/polkadot-grant-pay/src/api/types"
	"github.com/stake-plus/polkadot-grant-pay/src/ledger"
	"gorm.io/gorm"
)

// SignatoryStatus is one committee signatory's standing on an approval.
type SignatoryStatus struct {
	Address     string              `json:"address"`
	Signed      bool                `json:"signed"`
	Kind        types.SignatureKind `json:"kind,omitempty"`
	IsInitiator bool                `json:"is_initiator"`
}

// StatusReport is the public, read-only view of a milestone's approval.
type StatusReport struct {
	ApprovalID   uint64               `json:"approval_id"`
	Status       types.ApprovalStatus `json:"status"`
	Workflow     types.Workflow       `json:"workflow"`
	CallHash     string               `json:"call_hash"`
	Threshold    int                  `json:"threshold"`
	Approvals    int                  `json:"approvals"`
	Rejections   int                  `json:"rejections"`
	ThresholdMet bool                 `json:"threshold_met"`
	ExecutedTx   string               `json:"executed_tx,omitempty"`
	Signatories  []SignatoryStatus    `json:"signatories"`
}

// Status reports the latest approval for a milestone; no authentication is
// required, the view is public for transparency.
func (m *Manager) Status(milestoneID uint64) (*StatusReport, error) {
	var approval types.MilestoneApproval
	err := m.db.Where("milestone_id = ?", milestoneID).
		Order("id desc").First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownApproval
	}
	if err != nil {
		return nil, err
	}

	_, com, err := m.committeeFor(milestoneID)
	if err != nil {
		return nil, err
	}
	counts, err := ledger.Signatures(m.db, approval.ID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		ApprovalID:   approval.ID,
		Status:       approval.Status,
		Workflow:     approval.Workflow,
		CallHash:     approval.CallHash,
		Threshold:    int(com.Threshold),
		Approvals:    counts.Signed,
		Rejections:   counts.Total - counts.Signed,
		ThresholdMet: counts.Signed >= int(com.Threshold),
		ExecutedTx:   approval.ExecutedTxHash,
	}
	for _, addr := range signatories(com) {
		st := SignatoryStatus{Address: addr, IsInitiator: addr == approval.Initiator}
		if kind, ok := counts.BySignatory[addr]; ok {
			st.Signed = kind == types.SignatureSigned
			st.Kind = kind
		}
		report.Signatories = append(report.Signatories, st)
	}
	return report, nil
}
