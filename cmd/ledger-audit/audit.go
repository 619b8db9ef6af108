package main

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type violationKind string

const (
	violationNegativeQuantity   violationKind = "negative_quantity"
	violationNegativeReserved   violationKind = "negative_reserved"
	violationOverReserved       violationKind = "reserved_exceeds_quantity"
	violationAllocationMismatch violationKind = "allocation_mismatch"
)

// violation is one broken ledger rule on one stock row.
type violation struct {
	StockId     int
	ProductId   int
	WarehouseId int
	BatchNumber string
	Quantity    decimal.Decimal
	Reserved    decimal.Decimal
	Allocated   decimal.Decimal
	Kind        violationKind
}

type auditOptions struct {
	WarehouseId int
	// SkipAllocations turns off the comparison against order allocations,
	// for ledgers that also carry manual reservations.
	SkipAllocations bool
}

// auditLedger checks every stock row against 0 <= reserved <= quantity and, unless skipped,
// against the sum of reserved order allocations pointing at it.
func auditLedger(ctx context.Context, db *gorm.DB, opts auditOptions) ([]violation, error) {
	query := db.WithContext(ctx).Model(&models.Stock{})
	if opts.WarehouseId > 0 {
		query = query.Where("warehouse_id = ?", opts.WarehouseId)
	}
	var stocks []models.Stock
	if err := query.Order("id").Find(&stocks).Error; err != nil {
		return nil, err
	}

	allocated := map[int]decimal.Decimal{}
	if !opts.SkipAllocations {
		var materials []models.OrderMaterial
		err := db.WithContext(ctx).
			Where("status = ?", models.OrderMaterialStatusReserved).
			Find(&materials).Error
		if err != nil {
			return nil, err
		}
		for _, m := range materials {
			allocated[m.StockId] = allocated[m.StockId].Add(m.AllocatedWeight)
		}
	}

	var out []violation
	for _, s := range stocks {
		base := violation{
			StockId:     s.ID,
			ProductId:   s.ProductId,
			WarehouseId: s.WarehouseId,
			BatchNumber: s.BatchNumber,
			Quantity:    s.Quantity,
			Reserved:    s.ReservedQuantity,
			Allocated:   allocated[s.ID],
		}
		add := func(kind violationKind) {
			v := base
			v.Kind = kind
			out = append(out, v)
		}
		if s.Quantity.IsNegative() {
			add(violationNegativeQuantity)
		}
		if s.ReservedQuantity.IsNegative() {
			add(violationNegativeReserved)
		}
		if s.ReservedQuantity.GreaterThan(s.Quantity) {
			add(violationOverReserved)
		}
		if !opts.SkipAllocations && !s.ReservedQuantity.Equal(allocated[s.ID]) {
			add(violationAllocationMismatch)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StockId < out[j].StockId })
	return out, nil
}
