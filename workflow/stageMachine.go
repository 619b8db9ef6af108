package workflow

import (
	"context"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageMachine moves orders through the ordered production stages and triggers the
// side effects of entering each stage.
type StageMachine struct {
	c         *core
	ledger    *StockLedger
	selector  *MaterialSelector
	processor *SortingProcessor
	transfers *ApprovalCoordinator
}

func (m *StageMachine) GetOrder(ctx context.Context, orderId int) (*models.Order, error) {
	var order models.Order
	err := m.c.db.WithContext(ctx).
		Preload("Stages", func(db *gorm.DB) *gorm.DB { return db.Order("stage_order") }).
		Preload("Materials", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&order, orderId).Error
	if err != nil {
		return nil, storageError(err, "order")
	}
	return &order, nil
}

// CreateOrder opens a draft order at the creation stage.
func (m *StageMachine) CreateOrder(ctx context.Context, actorId int, input *models.NewOrder) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.CreateOrder")
	defer func() { endSpan(span, err) }()

	if !m.c.hasPermission(ctx, actorId, models.PermissionCreateOrder) && !m.c.hasRole(ctx, actorId, m.c.cfg.RoleForStage(models.StageCreation)) {
		return nil, newError(CodeUnauthorized, "user %d cannot create orders", actorId)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error()}
	}
	input.OrderNumber = strings.TrimSpace(input.OrderNumber)
	if input.OrderNumber == "" {
		return nil, newError(CodeInvalidInput, "order_number is required")
	}

	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		order = &models.Order{
			OrderNumber:         input.OrderNumber,
			Status:              models.OrderStatusDraft,
			CurrentStage:        models.StageCreation,
			ProductId:           input.ProductId,
			RequiredWeight:      input.RequiredWeight,
			MaterialWarehouseId: input.MaterialWarehouseId,
			AssignedTo:          input.AssignedTo,
			CreatedBy:           actorId,
			IsUrgent:            input.IsUrgent,
			RequiredDate:        input.RequiredDate,
		}
		if err := tx.Omit("Stages", "Materials").Create(order).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return newError(CodeDuplicateOrderNumber, "order number %s already exists", input.OrderNumber)
			}
			config.LogError(m.c.logger, "stageMachine.go", "CreateOrder", "CreateOrder", input, err)
			return storageError(err, "create order")
		}
		stage, err := m.enterStageTx(tx, order, models.StageCreation)
		if err != nil {
			return err
		}
		order.Stages = []models.OrderStage{*stage}
		return nil
	})
	if err != nil {
		m.c.logRejected("CreateOrder", err, logrus.Fields{"order_number": input.OrderNumber})
		return nil, err
	}
	m.c.logger.WithFields(logrus.Fields{
		"field":        "CreateOrder",
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	}).Info("order created")
	return order, nil
}

// enterStageTx creates or reactivates the stage record for the order.
func (m *StageMachine) enterStageTx(tx *gorm.DB, order *models.Order, stage models.Stage) (*models.OrderStage, error) {
	sc, _ := m.c.cfg.StageConfigFor(stage)
	now := m.c.now()
	var row models.OrderStage
	err := tx.Where("order_id = ? AND stage_name = ?", order.ID, stage).First(&row).Error
	if err != nil && !utils.IsRecordNotFound(err) {
		return nil, storageError(err, "order stage")
	}
	if err == nil && row.Status.IsClosed() {
		return nil, newError(CodeInvalidState, "stage %s of order %d is already %s", stage, order.ID, row.Status)
	}
	row.OrderId = order.ID
	row.StageName = stage
	row.StageOrder = stage.Position()
	row.Status = models.StageStatusInProgress
	row.StartedAt = &now
	row.AssignedTo = order.AssignedTo
	row.RequiresApproval = sc.RequiresApproval
	if sc.RequiresApproval && row.ApprovalStatus == "" {
		row.ApprovalStatus = models.ApprovalStatusPending
	}
	if err := tx.Save(&row).Error; err != nil {
		config.LogError(m.c.logger, "stageMachine.go", "enterStageTx", "SaveOrderStage", row, err)
		return nil, storageError(err, "save order stage")
	}
	return &row, nil
}

func (m *StageMachine) lockStageRow(tx *gorm.DB, orderId int, stage models.Stage) (*models.OrderStage, error) {
	var row models.OrderStage
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ? AND stage_name = ?", orderId, stage).First(&row).Error
	if err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, newError(CodeStagePreconditionNotMet, "order %d has no record for stage %s", orderId, stage)
		}
		return nil, storageError(err, "order stage")
	}
	return &row, nil
}

// stageReadyTx returns StagePreconditionNotMet when the stage cannot be completed yet.
func (m *StageMachine) stageReadyTx(tx *gorm.DB, order *models.Order, row *models.OrderStage) error {
	if row.Status == models.StageStatusCompleted {
		return nil
	}
	if row.Status != models.StageStatusInProgress {
		return newError(CodeStagePreconditionNotMet, "stage %s of order %d is %s", row.StageName, order.ID, row.Status)
	}
	if row.RequiresApproval && row.ApprovalStatus != models.ApprovalStatusApproved {
		return newError(CodeStagePreconditionNotMet, "stage %s of order %d is waiting for approval (%s)", row.StageName, order.ID, row.ApprovalStatus)
	}
	if b, ok := m.c.cfg.BoundaryEntering(row.StageName); ok {
		var open int64
		err := tx.Model(&models.OrderProcessing{}).
			Where("order_id = ? AND stage = ? AND status IN ?", order.ID, b.Stage,
				[]models.ProcessingStatus{models.ProcessingStatusRecorded, models.ProcessingStatusTransferRequested}).
			Count(&open).Error
		if err != nil {
			return storageError(err, "processing units")
		}
		if open > 0 {
			return newError(CodeStagePreconditionNotMet, "order %d has %d inbound %s transfers not completed", order.ID, open, b.Category)
		}
	}
	switch {
	case row.StageName == models.StageMaterialReservation:
		if !order.SelectedMaterials {
			return newError(CodeStagePreconditionNotMet, "order %d has no materials reserved", order.ID)
		}
	case row.StageName.IsProcessing():
		ready, reason, err := m.processor.unitsReadyTx(tx, order.ID, row.StageName)
		if err != nil {
			return err
		}
		if !ready {
			return newError(CodeStagePreconditionNotMet, "stage %s of order %d: %s", row.StageName, order.ID, reason)
		}
	}
	return nil
}

func (m *StageMachine) completeStageRowTx(tx *gorm.DB, row *models.OrderStage, notes string) error {
	if row.Status == models.StageStatusCompleted {
		if notes == "" {
			return nil
		}
		row.AppendNote(notes)
		return m.saveNotes(tx, row)
	}
	now := m.c.now()
	row.Status = models.StageStatusCompleted
	row.CompletedAt = &now
	row.AppendNote(notes)
	err := tx.Model(&models.OrderStage{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
		"status":       row.Status,
		"completed_at": now,
		"notes":        row.Notes,
	}).Error
	if err != nil {
		config.LogError(m.c.logger, "stageMachine.go", "completeStageRowTx", "UpdateOrderStage", row.ID, err)
		return storageError(err, "update order stage")
	}
	return nil
}

func (m *StageMachine) saveNotes(tx *gorm.DB, row *models.OrderStage) error {
	if err := tx.Model(&models.OrderStage{}).Where("id = ?", row.ID).Update("notes", row.Notes).Error; err != nil {
		return storageError(err, "update order stage notes")
	}
	return nil
}

// CompleteStage marks the current stage completed once its preconditions hold.
func (m *StageMachine) CompleteStage(ctx context.Context, orderId int, actorId int, notes string) (stage *models.OrderStage, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.CompleteStage")
	span.SetAttributes(attribute.Int("order.id", orderId))
	defer func() { endSpan(span, err) }()

	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		order, err := lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() {
			return newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
		}
		role := m.c.cfg.RoleForStage(order.CurrentStage)
		if !m.c.hasRole(ctx, actorId, role) {
			return newError(CodeUnauthorized, "user %d lacks role %s", actorId, role)
		}
		row, err := m.lockStageRow(tx, order.ID, order.CurrentStage)
		if err != nil {
			return err
		}
		if err := m.stageReadyTx(tx, order, row); err != nil {
			return err
		}
		if err := m.completeStageRowTx(tx, row, notes); err != nil {
			return err
		}
		stage = row
		return nil
	})
	if err != nil {
		m.c.logRejected("CompleteStage", err, logrus.Fields{"order_id": orderId})
		return nil, err
	}
	return stage, nil
}

// DecideStageApproval records the approver's decision on an approval gated stage.
// A rejected stage can be approved later; it cannot be completed while rejected.
func (m *StageMachine) DecideStageApproval(ctx context.Context, orderId int, actorId int, approve bool, notes string) (stage *models.OrderStage, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.DecideStageApproval")
	span.SetAttributes(attribute.Int("order.id", orderId), attribute.Bool("approve", approve))
	defer func() { endSpan(span, err) }()

	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		order, err := lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() {
			return newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
		}
		row, err := m.lockStageRow(tx, order.ID, order.CurrentStage)
		if err != nil {
			return err
		}
		if !row.RequiresApproval {
			return newError(CodeInvalidState, "stage %s does not require approval", row.StageName)
		}
		if row.Status.IsClosed() {
			return newError(CodeInvalidState, "stage %s of order %d is already %s", row.StageName, order.ID, row.Status)
		}
		sc, _ := m.c.cfg.StageConfigFor(row.StageName)
		if !m.c.hasRole(ctx, actorId, sc.ApproverRole) {
			return newError(CodeUnauthorized, "user %d lacks role %s", actorId, sc.ApproverRole)
		}
		row.ApprovalStatus = models.ApprovalStatusRejected
		if approve {
			row.ApprovalStatus = models.ApprovalStatusApproved
		}
		row.ApprovedBy = &actorId
		row.AppendNote(notes)
		err = tx.Model(&models.OrderStage{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"approval_status": row.ApprovalStatus,
			"approved_by":     actorId,
			"notes":           row.Notes,
		}).Error
		if err != nil {
			return storageError(err, "update order stage")
		}
		stage = row
		return nil
	})
	if err != nil {
		m.c.logRejected("DecideStageApproval", err, logrus.Fields{"order_id": orderId})
		return nil, err
	}
	return stage, nil
}

// MoveToNextStage completes the current stage and enters the next one. Leaving the
// terminal stage closes the order.
func (m *StageMachine) MoveToNextStage(ctx context.Context, orderId int, actorId int) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.MoveToNextStage")
	span.SetAttributes(attribute.Int("order.id", orderId))
	defer func() { endSpan(span, err) }()

	var from models.Stage
	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		order, err = lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() {
			return newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
		}
		from = order.CurrentStage
		role := m.c.cfg.RoleForStage(from)
		if !m.c.hasRole(ctx, actorId, role) {
			return newError(CodeUnauthorized, "user %d lacks role %s for stage %s", actorId, role, from)
		}
		row, err := m.lockStageRow(tx, order.ID, from)
		if err != nil {
			return err
		}
		if err := m.stageReadyTx(tx, order, row); err != nil {
			return err
		}
		if err := m.completeStageRowTx(tx, row, ""); err != nil {
			return err
		}
		if from.IsTerminal() {
			return m.closeOrderTx(tx, ob, order, actorId)
		}
		return m.advanceTx(tx, ob, order, actorId, "")
	})
	if err != nil {
		m.c.logRejected("MoveToNextStage", err, logrus.Fields{"order_id": orderId, "stage": from})
		return nil, err
	}
	m.c.logger.WithFields(logrus.Fields{
		"field":    "MoveToNextStage",
		"order_id": order.ID,
		"from":     from,
		"to":       order.CurrentStage,
		"status":   order.Status,
	}).Info("order stage advanced")

	m.afterEnter(ctx, order, actorId)
	return m.GetOrder(ctx, order.ID)
}

// SkipStage leaves the current stage without its preconditions. The reason is kept on the
// stage record; the terminal stage cannot be skipped.
func (m *StageMachine) SkipStage(ctx context.Context, orderId int, actorId int, reason string) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.SkipStage")
	span.SetAttributes(attribute.Int("order.id", orderId))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(CodeInvalidInput, "a reason is required to skip a stage")
	}
	if !m.c.hasPermission(ctx, actorId, models.PermissionSkipStage) {
		return nil, newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionSkipStage)
	}

	var from models.Stage
	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		order, err = lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() {
			return newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
		}
		from = order.CurrentStage
		if from.IsTerminal() {
			return newError(CodeInvalidState, "the terminal stage %s cannot be skipped", from)
		}
		row, err := m.lockStageRow(tx, order.ID, from)
		if err != nil {
			return err
		}
		if row.Status.IsClosed() {
			return newError(CodeInvalidState, "stage %s of order %d is already %s", from, order.ID, row.Status)
		}
		now := m.c.now()
		row.Status = models.StageStatusSkipped
		row.CompletedAt = &now
		row.AppendNote("skipped by user " + strconv.Itoa(actorId) + ": " + reason)
		err = tx.Model(&models.OrderStage{}).Where("id = ?", row.ID).Updates(map[string]interface{}{
			"status":       row.Status,
			"completed_at": now,
			"notes":        row.Notes,
		}).Error
		if err != nil {
			return storageError(err, "update order stage")
		}
		ob.add(EventStageSkipped, StageEvent{OrderId: order.ID, From: from, ActorId: actorId, Reason: reason})
		return m.advanceTx(tx, ob, order, actorId, reason)
	})
	if err != nil {
		m.c.logRejected("SkipStage", err, logrus.Fields{"order_id": orderId})
		return nil, err
	}
	m.c.logger.WithFields(logrus.Fields{
		"field":    "SkipStage",
		"order_id": order.ID,
		"from":     from,
		"to":       order.CurrentStage,
		"reason":   reason,
	}).Warn("order stage skipped")

	m.afterEnter(ctx, order, actorId)
	return m.GetOrder(ctx, order.ID)
}

// advanceTx performs the boundary side effects of leaving the current stage and enters the next.
func (m *StageMachine) advanceTx(tx *gorm.DB, ob *outbox, order *models.Order, actorId int, reason string) error {
	from := order.CurrentStage
	next, ok := from.Next()
	if !ok {
		return newError(CodeInvalidState, "stage %s has no next stage", from)
	}

	if boundary, ok := m.c.cfg.BoundaryLeaving(from); ok {
		var units []models.OrderProcessing
		err := tx.Where("order_id = ? AND stage = ? AND status = ?", order.ID, from, models.ProcessingStatusRecorded).
			Order("id").Find(&units).Error
		if err != nil {
			return storageError(err, "processing units")
		}
		for i := range units {
			if !units[i].OutputWeight().IsPositive() {
				if err := m.closeEmptyUnitTx(tx, &units[i], actorId); err != nil {
					return err
				}
				continue
			}
			if _, err := m.transfers.createTransferTx(tx, ob, &units[i], boundary, units[i].OutputWeight(), actorId); err != nil {
				return err
			}
		}
	}

	if _, err := m.enterStageTx(tx, order, next); err != nil {
		return err
	}
	status := order.Status
	if status.CanAdvanceTo(next.EntryStatus()) {
		status = next.EntryStatus()
	}
	err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"current_stage": next,
		"status":        status,
	}).Error
	if err != nil {
		config.LogError(m.c.logger, "stageMachine.go", "advanceTx", "UpdateOrder", order.ID, err)
		return storageError(err, "update order")
	}
	order.CurrentStage = next
	order.Status = status

	if next.IsProcessing() {
		if err := m.processor.prepareTx(tx, order.ID, next); err != nil {
			return err
		}
	}
	ob.add(EventStageAdvanced, StageEvent{OrderId: order.ID, From: from, To: next, ActorId: actorId, Reason: reason})
	return nil
}

// closeEmptyUnitTx finishes a unit whose whole input became waste; nothing is left to move.
func (m *StageMachine) closeEmptyUnitTx(tx *gorm.DB, unit *models.OrderProcessing, actorId int) error {
	var material models.OrderMaterial
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&material, unit.OrderMaterialId).Error; err != nil {
		return storageError(err, "order material")
	}
	if material.Status == models.OrderMaterialStatusReserved && material.AllocatedWeight.IsPositive() {
		ref := Reference{Type: models.ReferenceTypeProcessing, Id: unit.ID, ActorId: actorId}
		if _, err := m.ledger.consumeTx(tx, material.StockId, material.AllocatedWeight, ref); err != nil {
			return err
		}
	}
	if err := tx.Model(&models.OrderMaterial{}).Where("id = ?", material.ID).Update("status", models.OrderMaterialStatusConsumed).Error; err != nil {
		return storageError(err, "update order material")
	}
	if err := tx.Model(&models.OrderProcessing{}).Where("id = ?", unit.ID).Update("status", models.ProcessingStatusTransferred).Error; err != nil {
		return storageError(err, "update processing unit")
	}
	return nil
}

func (m *StageMachine) closeOrderTx(tx *gorm.DB, ob *outbox, order *models.Order, actorId int) error {
	if err := m.selector.consumeOrderTx(tx, order.ID, actorId); err != nil {
		return err
	}
	order.Status = models.OrderStatusCompleted
	if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Update("status", order.Status).Error; err != nil {
		config.LogError(m.c.logger, "stageMachine.go", "closeOrderTx", "UpdateOrder", order.ID, err)
		return storageError(err, "update order")
	}
	ob.add(EventOrderCompleted, OrderEvent{OrderId: order.ID, Status: order.Status, ActorId: actorId})
	return nil
}

// afterEnter runs auto material selection once the move has committed. A shortage does not
// undo the move; it is noted on the stage and raised as an alert.
func (m *StageMachine) afterEnter(ctx context.Context, order *models.Order, actorId int) {
	if order.CurrentStage != models.StageMaterialReservation || !m.c.cfg.AutoSelectMaterials {
		return
	}
	if order.SelectedMaterials || !order.RequiredWeight.IsPositive() {
		return
	}
	err := m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		locked, err := lockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if _, err := m.selector.selectTx(tx, ob, locked, actorId, SelectMaterialsInput{AutoSelect: true}); err != nil {
			return err
		}
		order.SelectedMaterials = true
		return nil
	})
	if err == nil {
		return
	}
	if CodeOf(err) == CodeStorageError {
		config.LogError(m.c.logger, "stageMachine.go", "afterEnter", "AutoSelectMaterials", order.ID, err)
	}
	m.c.logRejected("afterEnter", err, logrus.Fields{"order_id": order.ID})
	note := "automatic material selection failed: " + NewResult(nil, err).Message
	noteErr := m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		row, err := m.lockStageRow(tx, order.ID, models.StageMaterialReservation)
		if err != nil {
			return err
		}
		row.AppendNote(note)
		return m.saveNotes(tx, row)
	})
	if noteErr != nil {
		config.LogError(m.c.logger, "stageMachine.go", "afterEnter", "SaveStageNote", order.ID, noteErr)
	}
	m.c.notifier.Notify(ctx, EventMaterialShortage, MaterialShortage{
		OrderId:   order.ID,
		ProductId: order.ProductId,
		Required:  order.RequiredWeight,
		Message:   note,
	})
}

// CancelOrder releases every outstanding reservation and cancels the order in one transaction.
func (m *StageMachine) CancelOrder(ctx context.Context, orderId int, actorId int, reason string) (order *models.Order, err error) {
	ctx, span := tracer.Start(ctx, "StageMachine.CancelOrder")
	span.SetAttributes(attribute.Int("order.id", orderId))
	defer func() { endSpan(span, err) }()

	if !m.c.hasPermission(ctx, actorId, models.PermissionCancelOrder) {
		return nil, newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionCancelOrder)
	}
	reason = strings.TrimSpace(reason)

	err = m.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		order, err = lockOrder(tx, orderId)
		if err != nil {
			return err
		}
		if !order.Status.IsCancellable() {
			return newError(CodeInvalidState, "order %d is %s and can no longer be cancelled", order.ID, order.Status)
		}
		released, err := m.selector.releaseOrderTx(tx, order.ID, actorId)
		if err != nil {
			return err
		}
		now := m.c.now()
		order.Status = models.OrderStatusCancelled
		order.CancelReason = reason
		order.CancelledAt = &now
		err = tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"status":        order.Status,
			"cancel_reason": reason,
			"cancelled_at":  now,
		}).Error
		if err != nil {
			config.LogError(m.c.logger, "stageMachine.go", "CancelOrder", "UpdateOrder", order.ID, err)
			return storageError(err, "update order")
		}
		ob.add(EventOrderCancelled, OrderEvent{OrderId: order.ID, Status: order.Status, ActorId: actorId, Released: released, Reason: reason})
		return nil
	})
	if err != nil {
		m.c.logRejected("CancelOrder", err, logrus.Fields{"order_id": orderId})
		return nil, err
	}
	m.c.logger.WithFields(logrus.Fields{
		"field":    "CancelOrder",
		"order_id": order.ID,
	}).Info("order cancelled")
	return m.GetOrder(ctx, order.ID)
}
