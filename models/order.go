package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Order struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	OrderNumber         string          `gorm:"size:64;not null;uniqueIndex" json:"order_number"`
	Status              OrderStatus     `gorm:"size:20;not null;index" json:"status"`
	CurrentStage        Stage           `gorm:"size:32;not null;index" json:"current_stage"`
	ProductId           int             `gorm:"index" json:"product_id"`
	RequiredWeight      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"required_weight"`
	MaterialWarehouseId *int            `gorm:"index" json:"material_warehouse_id"`
	AssignedTo          *int            `gorm:"index" json:"assigned_to"`
	CreatedBy           int             `gorm:"index;not null" json:"created_by"`
	IsUrgent            bool            `gorm:"not null;default:false" json:"is_urgent"`
	RequiredDate        *time.Time      `json:"required_date"`
	SelectedMaterials   bool            `gorm:"not null;default:false" json:"selected_materials"`
	PricingCalculated   bool            `gorm:"not null;default:false" json:"pricing_calculated"`
	CancelReason        string          `gorm:"type:text" json:"cancel_reason"`
	CancelledAt         *time.Time      `json:"cancelled_at"`
	Stages              []OrderStage    `gorm:"foreignKey:OrderId" json:"stages,omitempty"`
	Materials           []OrderMaterial `gorm:"foreignKey:OrderId" json:"materials,omitempty"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrder struct {
	OrderNumber         string          `json:"order_number" validate:"required,max=64"`
	ProductId           int             `json:"product_id" validate:"gte=0"`
	RequiredWeight      decimal.Decimal `json:"required_weight" validate:"gte=0"`
	MaterialWarehouseId *int            `json:"material_warehouse_id"`
	AssignedTo          *int            `json:"assigned_to"`
	IsUrgent            bool            `json:"is_urgent"`
	RequiredDate        *time.Time      `json:"required_date"`
}

// OrderStage is the per-order record of one stage. Rows are created when the order
// first reaches the stage and are not edited after completion except for notes.
type OrderStage struct {
	ID               int             `gorm:"primary_key" json:"id"`
	OrderId          int             `gorm:"index:idx_order_stage,unique;not null" json:"order_id"`
	StageName        Stage           `gorm:"size:32;index:idx_order_stage,unique;not null" json:"stage_name"`
	StageOrder       int             `gorm:"not null" json:"stage_order"`
	Status           StageStatus     `gorm:"size:20;not null" json:"status"`
	StartedAt        *time.Time      `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	AssignedTo       *int            `json:"assigned_to"`
	RequiresApproval bool            `gorm:"not null;default:false" json:"requires_approval"`
	ApprovalStatus   ApprovalStatus  `gorm:"size:20" json:"approval_status"`
	ApprovedBy       *int            `json:"approved_by"`
	WeightInput      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"weight_input"`
	WeightOutput     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"weight_output"`
	WasteWeight      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"waste_weight"`
	Notes            string          `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// AppendNote keeps earlier notes; completed stages only ever receive notes this way.
func (s *OrderStage) AppendNote(note string) {
	if note == "" {
		return
	}
	if s.Notes == "" {
		s.Notes = note
		return
	}
	s.Notes = s.Notes + "\n" + note
}
