package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessingInput is the weighed result of one sorting or cutting unit.
type ProcessingInput struct {
	OriginalWeight decimal.Decimal `json:"original_weight" validate:"gt=0"`
	Roll1Weight    decimal.Decimal `json:"roll1_weight" validate:"gte=0"`
	Roll2Weight    decimal.Decimal `json:"roll2_weight" validate:"gte=0"`
	WasteWeight    decimal.Decimal `json:"waste_weight" validate:"gte=0"`
	Reason         string          `json:"reason" validate:"max=500"`
}

// ValidateWeightBalance checks roll1 + roll2 + waste against original within tolerancePercent.
// A mismatch is rejected, never clamped.
func ValidateWeightBalance(original, roll1, roll2, waste, tolerancePercent decimal.Decimal) error {
	if !original.IsPositive() {
		return newError(CodeInvalidInput, "original weight must be positive, got %s", original)
	}
	if roll1.IsNegative() || roll2.IsNegative() || waste.IsNegative() {
		return newError(CodeInvalidInput, "weights must not be negative")
	}
	total := utils.SumDecimals(roll1, roll2, waste)
	if !utils.WithinTolerance(original, total, tolerancePercent) {
		return newError(CodeWeightBalanceMismatch, "roll1 %s + roll2 %s + waste %s = %s, original %s (tolerance %s%%)",
			roll1, roll2, waste, total, original, tolerancePercent)
	}
	return nil
}

// SortingProcessor records the physical transformation of allocated lots during sorting and cutting.
type SortingProcessor struct {
	c      *core
	ledger *StockLedger
}

func (p *SortingProcessor) GetUnit(ctx context.Context, unitId int) (*models.OrderProcessing, error) {
	var unit models.OrderProcessing
	if err := p.c.db.WithContext(ctx).First(&unit, unitId).Error; err != nil {
		return nil, storageError(err, "processing unit")
	}
	return &unit, nil
}

func (p *SortingProcessor) ListUnits(ctx context.Context, orderId int, stage models.Stage) ([]models.OrderProcessing, error) {
	query := p.c.db.WithContext(ctx).Where("order_id = ?", orderId)
	if stage != "" {
		query = query.Where("stage = ?", stage)
	}
	var units []models.OrderProcessing
	if err := query.Order("id").Find(&units).Error; err != nil {
		return nil, storageError(err, "processing units")
	}
	return units, nil
}

func (p *SortingProcessor) ListWaste(ctx context.Context, orderId int) ([]models.Waste, error) {
	var waste []models.Waste
	if err := p.c.db.WithContext(ctx).Where("order_id = ?", orderId).Order("id").Find(&waste).Error; err != nil {
		return nil, storageError(err, "waste")
	}
	return waste, nil
}

// prepareTx creates one pending unit per reserved lot of the order for stage.
func (p *SortingProcessor) prepareTx(tx *gorm.DB, orderId int, stage models.Stage) error {
	var materials []models.OrderMaterial
	err := tx.Where("order_id = ? AND status = ?", orderId, models.OrderMaterialStatusReserved).Order("id").Find(&materials).Error
	if err != nil {
		return storageError(err, "order materials")
	}
	for _, m := range materials {
		unit := models.OrderProcessing{
			OrderId:         orderId,
			OrderMaterialId: m.ID,
			Stage:           stage,
			Status:          models.ProcessingStatusPending,
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&unit).Error
		if err != nil {
			config.LogError(p.c.logger, "sortingProcessor.go", "prepareTx", "CreateOrderProcessing", unit, err)
			return storageError(err, "create processing unit")
		}
	}
	return nil
}

// RecordProcessing validates the weight balance before touching storage, then records the
// unit, consumes its waste from the ledger and refreshes the stage weight totals.
func (p *SortingProcessor) RecordProcessing(ctx context.Context, unitId int, actorId int, input ProcessingInput) (unit *models.OrderProcessing, err error) {
	ctx, span := tracer.Start(ctx, "SortingProcessor.RecordProcessing")
	span.SetAttributes(attribute.Int("processing.id", unitId))
	defer func() { endSpan(span, err) }()

	if err := utils.ValidateStruct(input); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error()}
	}
	if err := ValidateWeightBalance(input.OriginalWeight, input.Roll1Weight, input.Roll2Weight, input.WasteWeight, p.c.cfg.WeightTolerancePercent); err != nil {
		p.c.logRejected("RecordProcessing", err, logrus.Fields{"processing_id": unitId})
		return nil, err
	}

	err = p.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var locked models.OrderProcessing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, unitId).Error; err != nil {
			return storageError(err, "processing unit")
		}
		role := p.c.cfg.RoleForStage(locked.Stage)
		if !p.c.hasRole(ctx, actorId, role) {
			return newError(CodeUnauthorized, "user %d lacks role %s", actorId, role)
		}
		if locked.IsRecorded() {
			return newError(CodeInvalidState, "processing unit %d is already recorded", unitId)
		}
		order, err := lockOrder(tx, locked.OrderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() || order.CurrentStage != locked.Stage {
			return newError(CodeInvalidState, "order %d is at stage %s, unit belongs to %s", order.ID, order.CurrentStage, locked.Stage)
		}
		var material models.OrderMaterial
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&material, locked.OrderMaterialId).Error; err != nil {
			return storageError(err, "order material")
		}
		if material.Status != models.OrderMaterialStatusReserved {
			return newError(CodeInvalidState, "order material %d is %s", material.ID, material.Status)
		}
		// an earlier stage's output has to arrive in this warehouse before it can be worked on
		var inbound int64
		err = tx.Model(&models.OrderProcessing{}).
			Where("order_material_id = ? AND stage <> ? AND status IN ?", material.ID, locked.Stage,
				[]models.ProcessingStatus{models.ProcessingStatusRecorded, models.ProcessingStatusTransferRequested}).
			Count(&inbound).Error
		if err != nil {
			return storageError(err, "processing units")
		}
		if inbound > 0 {
			return newError(CodeStagePreconditionNotMet, "order material %d is still waiting for its inbound transfer", material.ID)
		}
		if input.OriginalWeight.GreaterThan(material.AllocatedWeight) {
			return newError(CodeInvalidInput, "original weight %s exceeds allocated weight %s", input.OriginalWeight, material.AllocatedWeight)
		}
		if input.WasteWeight.GreaterThan(input.OriginalWeight) {
			return newError(CodeInvalidInput, "waste weight %s exceeds original weight %s", input.WasteWeight, input.OriginalWeight)
		}

		now := p.c.now()
		locked.OriginalWeight = input.OriginalWeight
		locked.Roll1Weight = input.Roll1Weight
		locked.Roll2Weight = input.Roll2Weight
		locked.WasteWeight = input.WasteWeight
		locked.Status = models.ProcessingStatusRecorded
		locked.ProcessedBy = &actorId
		locked.ProcessedAt = &now
		if err := tx.Save(&locked).Error; err != nil {
			config.LogError(p.c.logger, "sortingProcessor.go", "RecordProcessing", "SaveOrderProcessing", locked, err)
			return storageError(err, "save processing unit")
		}

		ref := Reference{Type: models.ReferenceTypeProcessing, Id: locked.ID, ActorId: actorId}
		allocated := material.AllocatedWeight
		// material that never went through processing goes back to availability
		if unprocessed := allocated.Sub(input.OriginalWeight); unprocessed.IsPositive() {
			if _, err := p.ledger.releaseTx(tx, material.StockId, unprocessed, ref); err != nil {
				return err
			}
			allocated = input.OriginalWeight
		}
		var wasteStock *models.Stock
		if input.WasteWeight.IsPositive() {
			wasteStock, err = p.ledger.consumeTx(tx, material.StockId, input.WasteWeight, ref)
			if err != nil {
				return err
			}
			allocated = allocated.Sub(input.WasteWeight)
		}
		if !allocated.Equal(material.AllocatedWeight) {
			material.AllocatedWeight = allocated
			if err := tx.Model(&models.OrderMaterial{}).Where("id = ?", material.ID).Update("allocated_weight", allocated).Error; err != nil {
				return storageError(err, "update order material")
			}
		}

		if wasteStock != nil {
			reason := input.Reason
			if reason == "" {
				reason = string(locked.Stage) + " waste"
			}
			waste := models.Waste{
				ProductId:       wasteStock.ProductId,
				OrderId:         order.ID,
				OrderMaterialId: material.ID,
				Stage:           locked.Stage,
				Quantity:        input.WasteWeight,
				Reason:          reason,
				ReportedBy:      actorId,
			}
			if err := tx.Create(&waste).Error; err != nil {
				config.LogError(p.c.logger, "sortingProcessor.go", "RecordProcessing", "CreateWaste", waste, err)
				return storageError(err, "create waste")
			}
		}

		if err := p.refreshStageTotalsTx(tx, order.ID, locked.Stage); err != nil {
			return err
		}
		unit = &locked
		return nil
	})
	if err != nil {
		p.c.logRejected("RecordProcessing", err, logrus.Fields{"processing_id": unitId})
		return nil, err
	}
	p.c.logger.WithFields(logrus.Fields{
		"field":         "RecordProcessing",
		"processing_id": unit.ID,
		"order_id":      unit.OrderId,
		"stage":         unit.Stage,
		"output":        unit.OutputWeight().String(),
		"waste":         unit.WasteWeight.String(),
	}).Info("processing recorded")
	return unit, nil
}

// refreshStageTotalsTx recomputes the stage weight totals from every recorded unit.
func (p *SortingProcessor) refreshStageTotalsTx(tx *gorm.DB, orderId int, stage models.Stage) error {
	var units []models.OrderProcessing
	if err := tx.Where("order_id = ? AND stage = ? AND status <> ?", orderId, stage, models.ProcessingStatusPending).Find(&units).Error; err != nil {
		return storageError(err, "processing units")
	}
	input, output, waste := decimal.Zero, decimal.Zero, decimal.Zero
	for _, u := range units {
		input = input.Add(u.OriginalWeight)
		output = output.Add(u.OutputWeight())
		waste = waste.Add(u.WasteWeight)
	}
	err := tx.Model(&models.OrderStage{}).
		Where("order_id = ? AND stage_name = ?", orderId, stage).
		Updates(map[string]interface{}{
			"weight_input":  input,
			"weight_output": output,
			"waste_weight":  waste,
		}).Error
	if err != nil {
		config.LogError(p.c.logger, "sortingProcessor.go", "refreshStageTotalsTx", "UpdateOrderStage", orderId, err)
		return storageError(err, "update order stage")
	}
	return nil
}

// unitsReadyTx reports whether stage has at least one unit and none is pending.
func (p *SortingProcessor) unitsReadyTx(tx *gorm.DB, orderId int, stage models.Stage) (bool, string, error) {
	var total, pending int64
	if err := tx.Model(&models.OrderProcessing{}).Where("order_id = ? AND stage = ?", orderId, stage).Count(&total).Error; err != nil {
		return false, "", storageError(err, "processing units")
	}
	if total == 0 {
		return false, "no material has been prepared for " + string(stage), nil
	}
	err := tx.Model(&models.OrderProcessing{}).
		Where("order_id = ? AND stage = ? AND status = ?", orderId, stage, models.ProcessingStatusPending).
		Count(&pending).Error
	if err != nil {
		return false, "", storageError(err, "processing units")
	}
	if pending > 0 {
		return false, "weight balance has not been recorded for every unit", nil
	}
	return true, "", nil
}
