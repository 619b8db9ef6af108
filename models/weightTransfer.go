package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WeightTransfer struct {
	ID                         int                      `gorm:"primary_key" json:"id"`
	TransferGroupId            string                   `gorm:"size:36;index;not null" json:"transfer_group_id"`
	OrderId                    int                      `gorm:"index;not null" json:"order_id"`
	OrderMaterialId            int                      `gorm:"index;not null" json:"order_material_id"`
	OrderProcessingId          *int                     `gorm:"index" json:"order_processing_id"`
	SourceWarehouseId          int                      `gorm:"index;not null" json:"source_warehouse_id"`
	DestinationWarehouseId     int                      `gorm:"index;not null" json:"destination_warehouse_id"`
	DestinationStage           Stage                    `gorm:"size:32" json:"destination_stage"`
	WeightTransferred          decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"weight_transferred"`
	TransferCategory           string                   `gorm:"size:40;not null" json:"transfer_category"`
	RequiresSequentialApproval bool                     `gorm:"not null;default:false" json:"requires_sequential_approval"`
	Status                     TransferStatus           `gorm:"size:20;not null;index" json:"status"`
	RequestedBy                int                      `gorm:"not null" json:"requested_by"`
	RejectionReason            string                   `gorm:"type:text" json:"rejection_reason"`
	CompletedAt                *time.Time               `json:"completed_at"`
	Approvals                  []WeightTransferApproval `gorm:"foreignKey:WeightTransferId" json:"approvals,omitempty"`
	InventoryRequests          []InventoryRequest       `gorm:"foreignKey:WeightTransferId" json:"inventory_requests,omitempty"`
	CreatedAt                  time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWeightTransfer struct {
	OrderProcessingId      int             `json:"order_processing_id" validate:"required,gt=0"`
	DestinationWarehouseId int             `json:"destination_warehouse_id" validate:"required,gt=0"`
	TransferCategory       string          `json:"transfer_category" validate:"required,max=40"`
	WeightTransferred      decimal.Decimal `json:"weight_transferred" validate:"gte=0"`
}

// WeightTransferApproval is one step of the approval chain. A step at sequence k can only
// be decided once every step below k is approved.
type WeightTransferApproval struct {
	ID                int            `gorm:"primary_key" json:"id"`
	WeightTransferId  int            `gorm:"index:idx_transfer_sequence,unique;not null" json:"weight_transfer_id"`
	ApprovalSequence  int            `gorm:"index:idx_transfer_sequence,unique;not null" json:"approval_sequence"`
	ApproverRoleLevel string         `gorm:"size:60;not null" json:"approver_role_level"`
	WarehouseId       int            `gorm:"index" json:"warehouse_id"`
	ApproverId        *int           `gorm:"index" json:"approver_id"`
	ApprovalStatus    ApprovalStatus `gorm:"size:20;not null" json:"approval_status"`
	DecidedBy         *int           `json:"decided_by"`
	DecidedAt         *time.Time     `json:"decided_at"`
	Comment           string         `gorm:"type:text" json:"comment"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsUnassigned is true when no approver could be resolved for the step.
func (a WeightTransferApproval) IsUnassigned() bool {
	return a.ApproverId == nil
}

type InventoryRequest struct {
	ID               int                    `gorm:"primary_key" json:"id"`
	WeightTransferId int                    `gorm:"index:idx_transfer_side,unique;not null" json:"weight_transfer_id"`
	TransferGroupId  string                 `gorm:"size:36;index" json:"transfer_group_id"`
	Side             InventoryRequestSide   `gorm:"size:20;index:idx_transfer_side,unique;not null" json:"side"`
	WarehouseId      int                    `gorm:"index;not null" json:"warehouse_id"`
	Quantity         decimal.Decimal        `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Status           InventoryRequestStatus `gorm:"size:20;not null" json:"status"`
	CompletedAt      *time.Time             `json:"completed_at"`
	CreatedAt        time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApprovalHistory rows are insert-only.
type ApprovalHistory struct {
	ID               int       `gorm:"primary_key" json:"id"`
	WeightTransferId int       `gorm:"index;not null" json:"weight_transfer_id"`
	Action           string    `gorm:"size:20;not null" json:"action"`
	ActorId          int       `gorm:"not null" json:"actor_id"`
	Snapshot         string    `gorm:"type:text" json:"snapshot"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	ApprovalHistoryActionApproved  = "approved"
	ApprovalHistoryActionRejected  = "rejected"
	ApprovalHistoryActionCompleted = "completed"
)

// IsFullyApproved is true when the chain has at least one step and every step is approved.
func (t WeightTransfer) IsFullyApproved() bool {
	if len(t.Approvals) == 0 {
		return false
	}
	for _, a := range t.Approvals {
		if a.ApprovalStatus != ApprovalStatusApproved {
			return false
		}
	}
	return true
}

// CurrentApproval returns the pending step with the lowest sequence and whether every
// step below it is approved. nil means no step is pending.
func (t WeightTransfer) CurrentApproval() (current *WeightTransferApproval, priorApproved bool) {
	priorApproved = true
	for i := range t.Approvals {
		a := &t.Approvals[i]
		if a.ApprovalStatus == ApprovalStatusPending {
			if current == nil || a.ApprovalSequence < current.ApprovalSequence {
				current = a
			}
		}
	}
	if current == nil {
		return nil, false
	}
	for _, a := range t.Approvals {
		if a.ApprovalSequence < current.ApprovalSequence && a.ApprovalStatus != ApprovalStatusApproved {
			priorApproved = false
		}
	}
	return current, priorApproved
}
