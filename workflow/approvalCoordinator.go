package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalCoordinator moves processed weight between warehouses behind a role gated approval chain.
type ApprovalCoordinator struct {
	c      *core
	ledger *StockLedger
}

func (a *ApprovalCoordinator) GetTransfer(ctx context.Context, transferId int) (*models.WeightTransfer, error) {
	return a.loadTransfer(a.c.db.WithContext(ctx), transferId, false)
}

func (a *ApprovalCoordinator) ListTransfers(ctx context.Context, orderId int) ([]models.WeightTransfer, error) {
	var transfers []models.WeightTransfer
	err := a.c.db.WithContext(ctx).
		Preload("Approvals", func(db *gorm.DB) *gorm.DB { return db.Order("approval_sequence") }).
		Preload("InventoryRequests").
		Where("order_id = ?", orderId).Order("id").Find(&transfers).Error
	if err != nil {
		return nil, storageError(err, "weight transfers")
	}
	return transfers, nil
}

func (a *ApprovalCoordinator) ListHistory(ctx context.Context, transferId int) ([]models.ApprovalHistory, error) {
	var history []models.ApprovalHistory
	if err := a.c.db.WithContext(ctx).Where("weight_transfer_id = ?", transferId).Order("id").Find(&history).Error; err != nil {
		return nil, storageError(err, "approval history")
	}
	return history, nil
}

func (a *ApprovalCoordinator) loadTransfer(db *gorm.DB, transferId int, lock bool) (*models.WeightTransfer, error) {
	var transfer models.WeightTransfer
	query := db
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := query.First(&transfer, transferId).Error; err != nil {
		return nil, storageError(err, "weight transfer")
	}
	// approvals and requests are read after the transfer row lock is held
	if err := db.Where("weight_transfer_id = ?", transferId).Order("approval_sequence").Find(&transfer.Approvals).Error; err != nil {
		return nil, storageError(err, "weight transfer approvals")
	}
	if err := db.Where("weight_transfer_id = ?", transferId).Order("id").Find(&transfer.InventoryRequests).Error; err != nil {
		return nil, storageError(err, "inventory requests")
	}
	return &transfer, nil
}

// CanUserApprove reports whether userId may decide the transfer's current approval step.
// Without sequential approval the user needs the destination stage role or the step role.
// With it the user must be the designated approver of the lowest pending sequence and
// every lower sequence must already be approved.
func (a *ApprovalCoordinator) CanUserApprove(ctx context.Context, userId int, transfer *models.WeightTransfer) bool {
	if transfer == nil || transfer.Status != models.TransferStatusPending {
		return false
	}
	current, priorApproved := transfer.CurrentApproval()
	if current == nil {
		return false
	}
	if !transfer.RequiresSequentialApproval {
		if a.c.hasRole(ctx, userId, a.c.cfg.RoleForStage(transfer.DestinationStage)) {
			return true
		}
		return a.c.hasRole(ctx, userId, current.ApproverRoleLevel) &&
			(current.ApproverId == nil || *current.ApproverId == userId)
	}
	if !priorApproved {
		return false
	}
	if current.ApproverId == nil || *current.ApproverId != userId {
		return false
	}
	return a.c.hasRole(ctx, userId, current.ApproverRoleLevel)
}

// decisionStateErr maps a transfer that can no longer be decided to its error.
func decisionStateErr(transfer *models.WeightTransfer) error {
	switch transfer.Status {
	case models.TransferStatusRejected:
		return newError(CodeAlreadyRejected, "weight transfer %d was rejected", transfer.ID)
	case models.TransferStatusCompleted:
		return newError(CodeAlreadyCompleted, "weight transfer %d was completed", transfer.ID)
	case models.TransferStatusApproved:
		return newError(CodeInvalidState, "weight transfer %d is already fully approved", transfer.ID)
	}
	return nil
}

func transferLockKey(transferId int) string {
	return "weight_transfer:" + strconv.Itoa(transferId)
}

// Approve records the current step as approved. The last step moves the transfer to approved.
func (a *ApprovalCoordinator) Approve(ctx context.Context, transferId int, userId int, comment string) (transfer *models.WeightTransfer, err error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Approve")
	span.SetAttributes(attribute.Int("weight_transfer.id", transferId), attribute.Int("user.id", userId))
	defer func() { endSpan(span, err) }()

	release := a.c.lockDecision(ctx, transferLockKey(transferId))
	defer release()

	err = a.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		transfer, err = a.loadTransfer(tx, transferId, true)
		if err != nil {
			return err
		}
		if err := decisionStateErr(transfer); err != nil {
			return err
		}
		if !a.CanUserApprove(ctx, userId, transfer) {
			return newError(CodeUnauthorized, "user %d cannot decide the current approval step of weight transfer %d", userId, transferId)
		}
		current, _ := transfer.CurrentApproval()
		now := a.c.now()
		current.ApprovalStatus = models.ApprovalStatusApproved
		current.DecidedBy = &userId
		current.DecidedAt = &now
		current.Comment = comment
		if err := tx.Save(current).Error; err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "Approve", "SaveApproval", current, err)
			return storageError(err, "save approval")
		}

		if !transfer.IsFullyApproved() {
			next, _ := transfer.CurrentApproval()
			if next != nil {
				ob.add(EventApprovalRequested, approvalRequest(transfer, next))
			}
			return nil
		}
		transfer.Status = models.TransferStatusApproved
		if err := tx.Model(&models.WeightTransfer{}).Where("id = ?", transfer.ID).Update("status", transfer.Status).Error; err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "Approve", "UpdateTransfer", transfer.ID, err)
			return storageError(err, "update weight transfer")
		}
		if err := a.recordHistoryTx(tx, transfer, models.ApprovalHistoryActionApproved, userId); err != nil {
			return err
		}
		ob.add(EventTransferApproved, TransferEvent{
			WeightTransferId: transfer.ID,
			OrderId:          transfer.OrderId,
			Status:           transfer.Status,
			ActorId:          userId,
		})
		return nil
	})
	if err != nil {
		a.c.logRejected("Approve", err, logrus.Fields{"weight_transfer_id": transferId, "user_id": userId})
		return nil, err
	}
	a.c.logger.WithFields(logrus.Fields{
		"field":              "Approve",
		"weight_transfer_id": transfer.ID,
		"user_id":            userId,
		"status":             transfer.Status,
	}).Info("approval recorded")
	return transfer, nil
}

// Reject ends the transfer at the current step. Inventory requests are cancelled and the
// processed unit becomes eligible for a new transfer request.
func (a *ApprovalCoordinator) Reject(ctx context.Context, transferId int, userId int, reason string) (transfer *models.WeightTransfer, err error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Reject")
	span.SetAttributes(attribute.Int("weight_transfer.id", transferId), attribute.Int("user.id", userId))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, newError(CodeInvalidInput, "a rejection reason is required")
	}

	release := a.c.lockDecision(ctx, transferLockKey(transferId))
	defer release()

	err = a.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		transfer, err = a.loadTransfer(tx, transferId, true)
		if err != nil {
			return err
		}
		if err := decisionStateErr(transfer); err != nil {
			return err
		}
		if !a.CanUserApprove(ctx, userId, transfer) {
			return newError(CodeUnauthorized, "user %d cannot decide the current approval step of weight transfer %d", userId, transferId)
		}
		current, _ := transfer.CurrentApproval()
		now := a.c.now()
		current.ApprovalStatus = models.ApprovalStatusRejected
		current.DecidedBy = &userId
		current.DecidedAt = &now
		current.Comment = reason
		if err := tx.Save(current).Error; err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "Reject", "SaveApproval", current, err)
			return storageError(err, "save approval")
		}

		transfer.Status = models.TransferStatusRejected
		transfer.RejectionReason = reason
		err = tx.Model(&models.WeightTransfer{}).Where("id = ?", transfer.ID).Updates(map[string]interface{}{
			"status":           transfer.Status,
			"rejection_reason": reason,
		}).Error
		if err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "Reject", "UpdateTransfer", transfer.ID, err)
			return storageError(err, "update weight transfer")
		}
		err = tx.Model(&models.InventoryRequest{}).
			Where("weight_transfer_id = ? AND status = ?", transfer.ID, models.InventoryRequestStatusPending).
			Update("status", models.InventoryRequestStatusCancelled).Error
		if err != nil {
			return storageError(err, "cancel inventory requests")
		}
		for i := range transfer.InventoryRequests {
			if transfer.InventoryRequests[i].Status == models.InventoryRequestStatusPending {
				transfer.InventoryRequests[i].Status = models.InventoryRequestStatusCancelled
			}
		}
		if transfer.OrderProcessingId != nil {
			err = tx.Model(&models.OrderProcessing{}).
				Where("id = ? AND status = ?", *transfer.OrderProcessingId, models.ProcessingStatusTransferRequested).
				Update("status", models.ProcessingStatusRecorded).Error
			if err != nil {
				return storageError(err, "update processing unit")
			}
		}
		if err := a.recordHistoryTx(tx, transfer, models.ApprovalHistoryActionRejected, userId); err != nil {
			return err
		}
		ob.add(EventTransferRejected, TransferEvent{
			WeightTransferId: transfer.ID,
			OrderId:          transfer.OrderId,
			Status:           transfer.Status,
			ActorId:          userId,
			Reason:           reason,
		})
		return nil
	})
	if err != nil {
		a.c.logRejected("Reject", err, logrus.Fields{"weight_transfer_id": transferId, "user_id": userId})
		return nil, err
	}
	a.c.logger.WithFields(logrus.Fields{
		"field":              "Reject",
		"weight_transfer_id": transfer.ID,
		"user_id":            userId,
	}).Info("weight transfer rejected")
	return transfer, nil
}

// Complete commits a fully approved transfer to the ledger in one transaction. Any failure
// leaves the transfer approved so the call can be retried.
func (a *ApprovalCoordinator) Complete(ctx context.Context, transferId int, actorId int) (transfer *models.WeightTransfer, err error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.Complete")
	span.SetAttributes(attribute.Int("weight_transfer.id", transferId), attribute.Int("user.id", actorId))
	defer func() { endSpan(span, err) }()

	if !a.c.hasPermission(ctx, actorId, models.PermissionCompleteWeightTransfer) {
		return nil, newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionCompleteWeightTransfer)
	}

	release := a.c.lockDecision(ctx, transferLockKey(transferId))
	defer release()

	err = a.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		transfer, err = a.loadTransfer(tx, transferId, true)
		if err != nil {
			return err
		}
		switch transfer.Status {
		case models.TransferStatusCompleted:
			return newError(CodeAlreadyCompleted, "weight transfer %d was completed", transfer.ID)
		case models.TransferStatusRejected:
			return newError(CodeAlreadyRejected, "weight transfer %d was rejected", transfer.ID)
		}
		if transfer.Status != models.TransferStatusApproved || !transfer.IsFullyApproved() {
			return newError(CodeTransferNotApproved, "weight transfer %d is not fully approved", transfer.ID)
		}
		return a.commitTx(tx, ob, transfer, actorId)
	})
	if err != nil {
		a.c.logRejected("Complete", err, logrus.Fields{"weight_transfer_id": transferId, "user_id": actorId})
		return nil, err
	}
	a.c.logger.WithFields(logrus.Fields{
		"field":              "Complete",
		"weight_transfer_id": transfer.ID,
		"weight":             transfer.WeightTransferred.String(),
		"source":             transfer.SourceWarehouseId,
		"destination":        transfer.DestinationWarehouseId,
	}).Info("weight transfer completed")
	return transfer, nil
}

func (a *ApprovalCoordinator) commitTx(tx *gorm.DB, ob *outbox, transfer *models.WeightTransfer, actorId int) error {
	var material models.OrderMaterial
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&material, transfer.OrderMaterialId).Error; err != nil {
		return storageError(err, "order material")
	}
	if material.Status != models.OrderMaterialStatusReserved {
		return newError(CodeInvalidState, "order material %d is %s", material.ID, material.Status)
	}
	source, err := a.ledger.lockStock(tx, material.StockId)
	if err != nil {
		return err
	}
	if source.WarehouseId != transfer.SourceWarehouseId {
		return newError(CodeInvalidState, "order material %d is no longer held in warehouse %d", material.ID, transfer.SourceWarehouseId)
	}
	ref := Reference{Type: models.ReferenceTypeWeightTransfer, Id: transfer.ID, ActorId: actorId}
	weight := transfer.WeightTransferred

	// output above the reservation (within tolerance) has to be reserved before it can move
	if weight.GreaterThan(material.AllocatedWeight) {
		if _, err := a.ledger.reserveTx(tx, ob, source.ID, weight.Sub(material.AllocatedWeight), ref); err != nil {
			return err
		}
	}
	destinationStockId := source.ID
	if transfer.DestinationWarehouseId != source.WarehouseId {
		destination, err := a.ledger.firstOrCreateStockTx(tx, source, transfer.DestinationWarehouseId)
		if err != nil {
			return err
		}
		if _, _, err := a.ledger.commitMovementTx(tx, source.ID, destination.ID, weight, true, ref); err != nil {
			return err
		}
		destinationStockId = destination.ID
	}
	// measurement loss within the weight tolerance
	if slack := material.AllocatedWeight.Sub(weight); slack.IsPositive() {
		if _, err := a.ledger.consumeTx(tx, source.ID, slack, ref); err != nil {
			return err
		}
	}

	err = tx.Model(&models.OrderMaterial{}).Where("id = ?", material.ID).Updates(map[string]interface{}{
		"stock_id":         destinationStockId,
		"allocated_weight": weight,
	}).Error
	if err != nil {
		config.LogError(a.c.logger, "approvalCoordinator.go", "commitTx", "UpdateOrderMaterial", material.ID, err)
		return storageError(err, "update order material")
	}

	now := a.c.now()
	err = tx.Model(&models.InventoryRequest{}).
		Where("weight_transfer_id = ? AND status = ?", transfer.ID, models.InventoryRequestStatusPending).
		Updates(map[string]interface{}{
			"status":       models.InventoryRequestStatusCompleted,
			"completed_at": now,
		}).Error
	if err != nil {
		return storageError(err, "complete inventory requests")
	}
	for i := range transfer.InventoryRequests {
		transfer.InventoryRequests[i].Status = models.InventoryRequestStatusCompleted
		transfer.InventoryRequests[i].CompletedAt = &now
	}

	transfer.Status = models.TransferStatusCompleted
	transfer.CompletedAt = &now
	err = tx.Model(&models.WeightTransfer{}).Where("id = ?", transfer.ID).Updates(map[string]interface{}{
		"status":       transfer.Status,
		"completed_at": now,
	}).Error
	if err != nil {
		config.LogError(a.c.logger, "approvalCoordinator.go", "commitTx", "UpdateTransfer", transfer.ID, err)
		return storageError(err, "update weight transfer")
	}
	if transfer.OrderProcessingId != nil {
		err = tx.Model(&models.OrderProcessing{}).Where("id = ?", *transfer.OrderProcessingId).
			Update("status", models.ProcessingStatusTransferred).Error
		if err != nil {
			return storageError(err, "update processing unit")
		}
	}
	if err := a.recordHistoryTx(tx, transfer, models.ApprovalHistoryActionCompleted, actorId); err != nil {
		return err
	}
	ob.add(EventTransferCompleted, TransferEvent{
		WeightTransferId: transfer.ID,
		OrderId:          transfer.OrderId,
		Status:           transfer.Status,
		ActorId:          actorId,
	})
	return nil
}

// RequestTransfer creates a new transfer for a processed unit whose previous transfer was rejected.
func (a *ApprovalCoordinator) RequestTransfer(ctx context.Context, actorId int, input models.NewWeightTransfer) (transfer *models.WeightTransfer, err error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.RequestTransfer")
	span.SetAttributes(attribute.Int("processing.id", input.OrderProcessingId))
	defer func() { endSpan(span, err) }()

	if !a.c.hasPermission(ctx, actorId, models.PermissionRequestWeightTransfer) {
		return nil, newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionRequestWeightTransfer)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error()}
	}
	if len(a.c.cfg.ApprovalChain(input.TransferCategory)) == 0 {
		return nil, newError(CodeInvalidInput, "transfer category %q has no approval chain", input.TransferCategory)
	}

	err = a.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var unit models.OrderProcessing
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&unit, input.OrderProcessingId).Error; err != nil {
			return storageError(err, "processing unit")
		}
		if unit.Status != models.ProcessingStatusRecorded {
			return newError(CodeInvalidState, "processing unit %d is %s", unit.ID, unit.Status)
		}
		order, err := lockOrder(tx, unit.OrderId)
		if err != nil {
			return err
		}
		if order.Status.IsClosed() {
			return newError(CodeInvalidState, "order %d is %s", order.ID, order.Status)
		}
		if next, ok := unit.Stage.Next(); !ok || order.CurrentStage.Position() < next.Position() {
			return newError(CodeInvalidState, "order %d has not left stage %s", order.ID, unit.Stage)
		}
		weight := input.WeightTransferred
		if !weight.IsPositive() {
			weight = unit.OutputWeight()
		}
		if weight.GreaterThan(unit.OutputWeight()) {
			return newError(CodeInvalidInput, "weight %s exceeds the recorded output %s", weight, unit.OutputWeight())
		}
		boundary := models.TransferBoundary{
			Stage:                  unit.Stage,
			Category:               input.TransferCategory,
			DestinationWarehouseId: input.DestinationWarehouseId,
		}
		transfer, err = a.createTransferTx(tx, ob, &unit, boundary, weight, actorId)
		return err
	})
	if err != nil {
		a.c.logRejected("RequestTransfer", err, logrus.Fields{"processing_id": input.OrderProcessingId})
		return nil, err
	}
	return transfer, nil
}

// createTransferTx opens a pending transfer for a recorded unit with both inventory requests
// and its approval chain. Steps without a resolvable approver are kept and alerted on.
func (a *ApprovalCoordinator) createTransferTx(tx *gorm.DB, ob *outbox, unit *models.OrderProcessing, boundary models.TransferBoundary, weight decimal.Decimal, actorId int) (*models.WeightTransfer, error) {
	chain := a.c.cfg.ApprovalChain(boundary.Category)
	if len(chain) == 0 {
		return nil, newError(CodeInvalidInput, "transfer category %q has no approval chain", boundary.Category)
	}
	var material models.OrderMaterial
	if err := tx.First(&material, unit.OrderMaterialId).Error; err != nil {
		return nil, storageError(err, "order material")
	}
	var source models.Stock
	if err := tx.First(&source, material.StockId).Error; err != nil {
		return nil, storageError(err, "stock")
	}
	destinationStage, _ := boundary.Stage.Next()

	transfer := &models.WeightTransfer{
		TransferGroupId:            uuid.NewString(),
		OrderId:                    unit.OrderId,
		OrderMaterialId:            material.ID,
		OrderProcessingId:          &unit.ID,
		SourceWarehouseId:          source.WarehouseId,
		DestinationWarehouseId:     boundary.DestinationWarehouseId,
		DestinationStage:           destinationStage,
		WeightTransferred:          weight,
		TransferCategory:           boundary.Category,
		RequiresSequentialApproval: len(chain) > 1,
		Status:                     models.TransferStatusPending,
		RequestedBy:                actorId,
	}
	if err := tx.Omit("Approvals", "InventoryRequests").Create(transfer).Error; err != nil {
		config.LogError(a.c.logger, "approvalCoordinator.go", "createTransferTx", "CreateTransfer", transfer, err)
		return nil, storageError(err, "create weight transfer")
	}

	for _, side := range []models.InventoryRequestSide{models.InventoryRequestSideSource, models.InventoryRequestSideDestination} {
		warehouseId := transfer.SourceWarehouseId
		if side == models.InventoryRequestSideDestination {
			warehouseId = transfer.DestinationWarehouseId
		}
		req := models.InventoryRequest{
			WeightTransferId: transfer.ID,
			TransferGroupId:  transfer.TransferGroupId,
			Side:             side,
			WarehouseId:      warehouseId,
			Quantity:         weight,
			Status:           models.InventoryRequestStatusPending,
		}
		if err := tx.Create(&req).Error; err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "createTransferTx", "CreateInventoryRequest", req, err)
			return nil, storageError(err, "create inventory request")
		}
		transfer.InventoryRequests = append(transfer.InventoryRequests, req)
	}

	for i, level := range chain {
		warehouseId := transfer.DestinationWarehouseId
		if level.WarehouseSide == models.WarehouseSideSource {
			warehouseId = transfer.SourceWarehouseId
		}
		step := models.WeightTransferApproval{
			WeightTransferId:  transfer.ID,
			ApprovalSequence:  i + 1,
			ApproverRoleLevel: level.Role,
			WarehouseId:       warehouseId,
			ApproverId:        a.findApproverForLevel(tx.Statement.Context, ob, transfer, i+1, warehouseId, level.Role),
			ApprovalStatus:    models.ApprovalStatusPending,
		}
		if err := tx.Create(&step).Error; err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "createTransferTx", "CreateApproval", step, err)
			return nil, storageError(err, "create approval step")
		}
		transfer.Approvals = append(transfer.Approvals, step)
	}

	// sequential chains only ask the first approver; otherwise every step is open
	for i := range transfer.Approvals {
		if transfer.RequiresSequentialApproval && i > 0 {
			break
		}
		ob.add(EventApprovalRequested, approvalRequest(transfer, &transfer.Approvals[i]))
	}

	err := tx.Model(&models.OrderProcessing{}).Where("id = ?", unit.ID).Update("status", models.ProcessingStatusTransferRequested).Error
	if err != nil {
		return nil, storageError(err, "update processing unit")
	}
	unit.Status = models.ProcessingStatusTransferRequested
	return transfer, nil
}

// findApproverForLevel resolves the approver of a step. Unresolved steps stay unassigned and
// raise an operational alert so the chain does not stall silently.
func (a *ApprovalCoordinator) findApproverForLevel(ctx context.Context, ob *outbox, transfer *models.WeightTransfer, sequence int, warehouseId int, role string) *int {
	if a.c.directory != nil {
		userId, ok, err := a.c.directory.FindApproverForLevel(ctx, warehouseId, role)
		if err != nil {
			config.LogError(a.c.logger, "approvalCoordinator.go", "findApproverForLevel", "FindApproverForLevel", role, err)
		} else if ok {
			return &userId
		}
	}
	unresolved := newError(CodeApproverUnresolved, "no %s for warehouse %d (weight transfer %d, sequence %d)", role, warehouseId, transfer.ID, sequence)
	a.c.logger.WithFields(logrus.Fields{
		"field":              "findApproverForLevel",
		"error_code":         CodeApproverUnresolved,
		"weight_transfer_id": transfer.ID,
		"sequence":           sequence,
		"role":               role,
		"warehouse_id":       warehouseId,
	}).Warn(unresolved.Error())
	ob.add(EventApproverUnresolved, ApprovalRequest{
		WeightTransferId: transfer.ID,
		OrderId:          transfer.OrderId,
		Sequence:         sequence,
		Role:             role,
		WarehouseId:      warehouseId,
	})
	return nil
}

// ResolvePendingApprovers retries the directory for pending steps that have no approver.
func (a *ApprovalCoordinator) ResolvePendingApprovers(ctx context.Context, transferId int, actorId int) (transfer *models.WeightTransfer, err error) {
	ctx, span := tracer.Start(ctx, "ApprovalCoordinator.ResolvePendingApprovers")
	defer func() { endSpan(span, err) }()

	if !a.c.hasPermission(ctx, actorId, models.PermissionRequestWeightTransfer) {
		return nil, newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionRequestWeightTransfer)
	}
	err = a.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		transfer, err = a.loadTransfer(tx, transferId, true)
		if err != nil {
			return err
		}
		if err := decisionStateErr(transfer); err != nil {
			return err
		}
		current, _ := transfer.CurrentApproval()
		for i := range transfer.Approvals {
			step := &transfer.Approvals[i]
			if step.ApprovalStatus != models.ApprovalStatusPending || !step.IsUnassigned() {
				continue
			}
			step.ApproverId = a.findApproverForLevel(ctx, ob, transfer, step.ApprovalSequence, step.WarehouseId, step.ApproverRoleLevel)
			if step.ApproverId == nil {
				continue
			}
			if err := tx.Model(&models.WeightTransferApproval{}).Where("id = ?", step.ID).Update("approver_id", *step.ApproverId).Error; err != nil {
				return storageError(err, "update approval step")
			}
			if !transfer.RequiresSequentialApproval || (current != nil && current.ID == step.ID) {
				ob.add(EventApprovalRequested, approvalRequest(transfer, step))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfer, nil
}

type historySnapshot struct {
	Status            models.TransferStatus           `json:"status"`
	WeightTransferred decimal.Decimal                 `json:"weight_transferred"`
	Source            int                             `json:"source_warehouse_id"`
	Destination       int                             `json:"destination_warehouse_id"`
	RejectionReason   string                          `json:"rejection_reason,omitempty"`
	Approvals         []models.WeightTransferApproval `json:"approvals"`
}

func (a *ApprovalCoordinator) recordHistoryTx(tx *gorm.DB, transfer *models.WeightTransfer, action string, actorId int) error {
	snapshot, err := json.Marshal(historySnapshot{
		Status:            transfer.Status,
		WeightTransferred: transfer.WeightTransferred,
		Source:            transfer.SourceWarehouseId,
		Destination:       transfer.DestinationWarehouseId,
		RejectionReason:   transfer.RejectionReason,
		Approvals:         transfer.Approvals,
	})
	if err != nil {
		return &Error{Code: CodeStorageError, Message: "marshal approval history", Err: err}
	}
	entry := models.ApprovalHistory{
		WeightTransferId: transfer.ID,
		Action:           action,
		ActorId:          actorId,
		Snapshot:         string(snapshot),
	}
	if err := tx.Create(&entry).Error; err != nil {
		config.LogError(a.c.logger, "approvalCoordinator.go", "recordHistoryTx", "CreateApprovalHistory", entry, err)
		return storageError(err, "create approval history")
	}
	return nil
}

func approvalRequest(transfer *models.WeightTransfer, step *models.WeightTransferApproval) ApprovalRequest {
	return ApprovalRequest{
		WeightTransferId: transfer.ID,
		OrderId:          transfer.OrderId,
		Sequence:         step.ApprovalSequence,
		Role:             step.ApproverRoleLevel,
		WarehouseId:      step.WarehouseId,
		ApproverId:       step.ApproverId,
	}
}
