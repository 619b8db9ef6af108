package workflow

import (
	"context"
	"sort"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SelectMaterialsInput is either AutoSelect or an explicit list of lots.
type SelectMaterialsInput struct {
	AutoSelect bool                      `json:"auto_select"`
	Materials  []models.NewOrderMaterial `json:"materials" validate:"dive"`
}

// MaterialSelector allocates stock lots to an order and reserves them on the ledger.
type MaterialSelector struct {
	c      *core
	ledger *StockLedger
}

func (s *MaterialSelector) ListOrderMaterials(ctx context.Context, orderId int) ([]models.OrderMaterial, error) {
	var materials []models.OrderMaterial
	if err := s.c.db.WithContext(ctx).Where("order_id = ?", orderId).Order("id").Find(&materials).Error; err != nil {
		return nil, storageError(err, "order materials")
	}
	return materials, nil
}

// SelectMaterials reserves material for an order sitting at the material reservation stage.
// Either every lot is reserved or none is.
func (s *MaterialSelector) SelectMaterials(ctx context.Context, orderId int, actorId int, input SelectMaterialsInput) (materials []models.OrderMaterial, err error) {
	ctx, span := tracer.Start(ctx, "MaterialSelector.SelectMaterials")
	span.SetAttributes(attribute.Int("order.id", orderId), attribute.Bool("auto_select", input.AutoSelect))
	defer func() { endSpan(span, err) }()

	role := s.c.cfg.RoleForStage(models.StageMaterialReservation)
	if !s.c.hasRole(ctx, actorId, role) {
		return nil, newError(CodeUnauthorized, "user %d lacks role %s", actorId, role)
	}
	if !input.AutoSelect && len(input.Materials) == 0 {
		return nil, newError(CodeInvalidInput, "either auto_select or materials is required")
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error()}
	}

	err = s.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		order, err := lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		materials, err = s.selectTx(tx, ob, order, actorId, input)
		return err
	})
	if err != nil {
		s.c.logRejected("SelectMaterials", err, logrus.Fields{"order_id": orderId})
		return nil, err
	}
	s.c.logger.WithFields(logrus.Fields{
		"field":    "SelectMaterials",
		"order_id": orderId,
		"lots":     len(materials),
		"auto":     input.AutoSelect,
	}).Info("materials reserved")
	return materials, nil
}

func (s *MaterialSelector) selectTx(tx *gorm.DB, ob *outbox, order *models.Order, actorId int, input SelectMaterialsInput) ([]models.OrderMaterial, error) {
	if order.Status.IsClosed() {
		return nil, newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
	}
	if order.CurrentStage != models.StageMaterialReservation {
		return nil, newError(CodeInvalidState, "order %d is at stage %s, materials are selected at %s", order.ID, order.CurrentStage, models.StageMaterialReservation)
	}
	if order.SelectedMaterials {
		return nil, newError(CodeInvalidState, "order %d already has materials selected", order.ID)
	}

	var lines []models.NewOrderMaterial
	if input.AutoSelect {
		var err error
		lines, err = s.planAutoSelection(tx, order)
		if err != nil {
			return nil, err
		}
	} else {
		lines = input.Materials
		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(line.AllocatedWeight)
		}
		if order.RequiredWeight.IsPositive() && total.LessThan(order.RequiredWeight) {
			return nil, newError(CodeInsufficientMaterial, "order %d requires %s, %s allocated", order.ID, order.RequiredWeight, total)
		}
	}

	materials := make([]models.OrderMaterial, 0, len(lines))
	for _, line := range lines {
		material := models.OrderMaterial{
			OrderId:         order.ID,
			StockId:         line.StockId,
			AllocatedWeight: line.AllocatedWeight,
			Specifications:  line.Specifications,
			Status:          models.OrderMaterialStatusReserved,
		}
		if err := tx.Create(&material).Error; err != nil {
			config.LogError(s.c.logger, "materialSelector.go", "selectTx", "CreateOrderMaterial", material, err)
			return nil, storageError(err, "create order material")
		}
		ref := Reference{Type: models.ReferenceTypeOrderMaterial, Id: material.ID, ActorId: actorId}
		if _, err := s.ledger.reserveTx(tx, ob, line.StockId, line.AllocatedWeight, ref); err != nil {
			// the surrounding transaction rolls back reservations already made in this call
			if CodeOf(err) == CodeInsufficientStock {
				return nil, &Error{Code: CodeInsufficientMaterial, Message: err.Error(), Err: err}
			}
			return nil, err
		}
		materials = append(materials, material)
	}

	order.SelectedMaterials = true
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("selected_materials", true).Error; err != nil {
		config.LogError(s.c.logger, "materialSelector.go", "selectTx", "UpdateOrder", order.ID, err)
		return nil, storageError(err, "update order")
	}
	return materials, nil
}

// planAutoSelection picks lots first-fit: soonest expiry, then lowest unit cost, then stock id.
// Candidate rows are locked in id order before any reservation is made.
func (s *MaterialSelector) planAutoSelection(tx *gorm.DB, order *models.Order) ([]models.NewOrderMaterial, error) {
	if !order.RequiredWeight.IsPositive() {
		return nil, newError(CodeInvalidInput, "order %d has no required weight to auto select", order.ID)
	}
	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND is_active = ?", order.ProductId, true)
	if order.MaterialWarehouseId != nil {
		query = query.Where("warehouse_id = ?", *order.MaterialWarehouseId)
	}
	var candidates []models.Stock
	if err := query.Order("id").Find(&candidates).Error; err != nil {
		config.LogError(s.c.logger, "materialSelector.go", "planAutoSelection", "FindStocks", order.ProductId, err)
		return nil, storageError(err, "candidate stocks")
	}

	now := s.c.now()
	eligible := candidates[:0]
	for _, stock := range candidates {
		if !stock.Active() || stock.IsExpired(now) || !stock.AvailableQuantity().IsPositive() {
			continue
		}
		eligible = append(eligible, stock)
	}
	sortCandidates(eligible)

	total := decimal.Zero
	for _, stock := range eligible {
		total = total.Add(stock.AvailableQuantity())
	}
	if total.LessThan(order.RequiredWeight) {
		return nil, newError(CodeInsufficientMaterial, "order %d requires %s of product %d, %s available", order.ID, order.RequiredWeight, order.ProductId, total)
	}

	remaining := order.RequiredWeight
	var lines []models.NewOrderMaterial
	for _, stock := range eligible {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(stock.AvailableQuantity(), remaining)
		lines = append(lines, models.NewOrderMaterial{StockId: stock.ID, AllocatedWeight: take})
		remaining = remaining.Sub(take)
	}
	return lines, nil
}

func sortCandidates(stocks []models.Stock) {
	sort.SliceStable(stocks, func(i, j int) bool {
		a, b := stocks[i], stocks[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		}
		if !a.UnitCost.Equal(b.UnitCost) {
			return a.UnitCost.LessThan(b.UnitCost)
		}
		return a.ID < b.ID
	})
}

// releaseOrderTx releases every reserved lot of the order and returns the total released.
func (s *MaterialSelector) releaseOrderTx(tx *gorm.DB, orderId int, actorId int) (decimal.Decimal, error) {
	var materials []models.OrderMaterial
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderId, models.OrderMaterialStatusReserved).
		Order("id").Find(&materials).Error
	if err != nil {
		return decimal.Zero, storageError(err, "order materials")
	}
	released := decimal.Zero
	for _, m := range materials {
		if m.AllocatedWeight.IsPositive() {
			ref := Reference{Type: models.ReferenceTypeOrder, Id: orderId, ActorId: actorId}
			if _, err := s.ledger.releaseTx(tx, m.StockId, m.AllocatedWeight, ref); err != nil {
				return decimal.Zero, err
			}
			released = released.Add(m.AllocatedWeight)
		}
		if err := tx.Model(&models.OrderMaterial{}).Where("id = ?", m.ID).Update("status", models.OrderMaterialStatusReleased).Error; err != nil {
			return decimal.Zero, storageError(err, "update order material")
		}
	}
	return released, nil
}

// consumeOrderTx takes every remaining reservation of the order off the books, as on delivery.
func (s *MaterialSelector) consumeOrderTx(tx *gorm.DB, orderId int, actorId int) error {
	var materials []models.OrderMaterial
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND status = ?", orderId, models.OrderMaterialStatusReserved).
		Order("id").Find(&materials).Error
	if err != nil {
		return storageError(err, "order materials")
	}
	for _, m := range materials {
		if m.AllocatedWeight.IsPositive() {
			ref := Reference{Type: models.ReferenceTypeOrder, Id: orderId, ActorId: actorId}
			if _, err := s.ledger.consumeTx(tx, m.StockId, m.AllocatedWeight, ref); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.OrderMaterial{}).Where("id = ?", m.ID).Update("status", models.OrderMaterialStatusConsumed).Error; err != nil {
			return storageError(err, "update order material")
		}
	}
	return nil
}

func lockOrder(tx *gorm.DB, orderId int) (*models.Order, error) {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderId).Error; err != nil {
		return nil, storageError(err, "order")
	}
	return &order, nil
}
