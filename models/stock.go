package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock is the on-hand quantity of a product batch in one warehouse.
// Invariant: 0 <= ReservedQuantity <= Quantity.
type Stock struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ProductId        int             `gorm:"index:idx_stock_key,unique;not null" json:"product_id"`
	WarehouseId      int             `gorm:"index:idx_stock_key,unique;not null" json:"warehouse_id"`
	BatchNumber      string          `gorm:"size:100;index:idx_stock_key,unique" json:"batch_number"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	ReservedQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"reserved_quantity"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ExpiryDate       *time.Time      `json:"expiry_date"`
	IsActive         *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStock struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	WarehouseId int             `json:"warehouse_id" validate:"required,gt=0"`
	BatchNumber string          `json:"batch_number" validate:"max=100"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gte=0"`
	UnitCost    decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

// AvailableQuantity is the only place availability is derived. It never goes below zero.
func (s Stock) AvailableQuantity() decimal.Decimal {
	available := s.Quantity.Sub(s.ReservedQuantity)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

func (s Stock) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// IsExpired is true when the expiry date is at or before now.
func (s Stock) IsExpired(now time.Time) bool {
	return s.ExpiryDate != nil && !s.ExpiryDate.After(now)
}

// CheckInvariant reports whether the reservation bounds hold.
func (s Stock) CheckInvariant() bool {
	return !s.ReservedQuantity.IsNegative() && s.ReservedQuantity.LessThanOrEqual(s.Quantity)
}

// StockMovement is the append-only audit trail of every ledger mutation.
type StockMovement struct {
	ID            int               `gorm:"primary_key" json:"id"`
	StockId       int               `gorm:"index;not null" json:"stock_id"`
	Kind          StockMovementKind `gorm:"size:20;not null" json:"kind"`
	Quantity      decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	ReferenceType string            `gorm:"size:40" json:"reference_type"`
	ReferenceId   int               `gorm:"index" json:"reference_id"`
	ActorId       int               `json:"actor_id"`
	CreatedAt     time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

type Waste struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	OrderId         int             `gorm:"index" json:"order_id"`
	OrderMaterialId int             `gorm:"index" json:"order_material_id"`
	Stage           Stage           `gorm:"size:32;not null" json:"stage"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Reason          string          `gorm:"type:text" json:"reason"`
	ReportedBy      int             `gorm:"not null" json:"reported_by"`
	ResolvedAt      *time.Time      `json:"resolved_at"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
