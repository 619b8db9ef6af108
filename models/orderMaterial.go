package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MaterialSpecifications are the structured attributes of an allocated lot.
type MaterialSpecifications struct {
	Grammage     *decimal.Decimal `json:"grammage,omitempty"`
	Width        *decimal.Decimal `json:"width,omitempty"`
	Length       *decimal.Decimal `json:"length,omitempty"`
	QualityGrade string           `json:"quality_grade,omitempty"`
}

func (m MaterialSpecifications) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MaterialSpecifications) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*m = MaterialSpecifications{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("material specifications must be json text")
	}
	if len(raw) == 0 {
		*m = MaterialSpecifications{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

type OrderMaterial struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	OrderId         int                    `gorm:"index;not null" json:"order_id"`
	StockId         int                    `gorm:"index;not null" json:"stock_id"`
	AllocatedWeight decimal.Decimal        `gorm:"type:decimal(20,4);default:0" json:"allocated_weight"`
	Specifications  MaterialSpecifications `gorm:"type:text" json:"specifications"`
	Status          OrderMaterialStatus    `gorm:"size:20;not null;index" json:"status"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewOrderMaterial struct {
	StockId         int                    `json:"stock_id" validate:"required,gt=0"`
	AllocatedWeight decimal.Decimal        `json:"allocated_weight" validate:"gt=0"`
	Specifications  MaterialSpecifications `json:"specifications"`
}

// OrderProcessing is one unit of sorting or cutting work on an allocated lot.
type OrderProcessing struct {
	ID              int              `gorm:"primary_key" json:"id"`
	OrderId         int              `gorm:"index;not null" json:"order_id"`
	OrderMaterialId int              `gorm:"index:idx_processing_unit,unique;not null" json:"order_material_id"`
	Stage           Stage            `gorm:"size:32;index:idx_processing_unit,unique;not null" json:"stage"`
	OriginalWeight  decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"original_weight"`
	Roll1Weight     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"roll1_weight"`
	Roll2Weight     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"roll2_weight"`
	WasteWeight     decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"waste_weight"`
	Status          ProcessingStatus `gorm:"size:24;not null" json:"status"`
	ProcessedBy     *int             `json:"processed_by"`
	ProcessedAt     *time.Time       `json:"processed_at"`
	CreatedAt       time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// OutputWeight is the useful weight produced by the unit.
func (p OrderProcessing) OutputWeight() decimal.Decimal {
	return p.Roll1Weight.Add(p.Roll2Weight)
}

func (p OrderProcessing) IsRecorded() bool {
	return p.Status != ProcessingStatusPending
}
