package workflow

import (
	"context"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
)

func stageRecord(t *testing.T, order *models.Order, stage models.Stage) models.OrderStage {
	t.Helper()
	for _, s := range order.Stages {
		if s.StageName == stage {
			return s
		}
	}
	t.Fatalf("order %d has no %s stage record", order.ID, stage)
	return models.OrderStage{}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	order := env.createOrder(t, " ORD-1 ", "25")
	if order.OrderNumber != "ORD-1" || order.Status != models.OrderStatusDraft || order.CurrentStage != models.StageCreation {
		t.Fatalf("unexpected order %+v", order)
	}
	if len(order.Stages) != 1 || order.Stages[0].Status != models.StageStatusInProgress {
		t.Fatalf("creation stage record missing: %+v", order.Stages)
	}

	_, err := env.engine.Stages.CreateOrder(ctx, outsiderId, &models.NewOrder{OrderNumber: "ORD-2"})
	requireCode(t, err, CodeUnauthorized)
	_, err = env.engine.Stages.CreateOrder(ctx, adminId, &models.NewOrder{OrderNumber: ""})
	requireCode(t, err, CodeInvalidInput)
}

func TestMoveToNextStage_RequiresCompletedStage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "ORD-GATE", "10")
	env.move(t, order.ID, adminId)

	_, err := env.engine.Stages.MoveToNextStage(ctx, order.ID, adminId)
	requireCode(t, err, CodeStagePreconditionNotMet)
	got, err := env.engine.Stages.GetOrder(ctx, order.ID)
	requireNoErr(t, err)
	if got.CurrentStage != models.StageReview || got.Status != models.OrderStatusUnderReview {
		t.Fatalf("order moved to %s (%s) without approval", got.CurrentStage, got.Status)
	}

	_, err = env.engine.Stages.DecideStageApproval(ctx, order.ID, cuttingManagerId, true, "")
	requireCode(t, err, CodeUnauthorized)

	_, err = env.engine.Stages.DecideStageApproval(ctx, order.ID, adminId, false, "missing drawing")
	requireNoErr(t, err)
	_, err = env.engine.Stages.CompleteStage(ctx, order.ID, adminId, "")
	requireCode(t, err, CodeStagePreconditionNotMet)

	_, err = env.engine.Stages.DecideStageApproval(ctx, order.ID, adminId, true, "drawing attached")
	requireNoErr(t, err)
	_, err = env.engine.Stages.MoveToNextStage(ctx, order.ID, outsiderId)
	requireCode(t, err, CodeUnauthorized)

	moved := env.move(t, order.ID, adminId)
	if moved.CurrentStage != models.StageMaterialReservation || moved.Status != models.OrderStatusConfirmed {
		t.Fatalf("order at %s (%s), want material_reservation (confirmed)", moved.CurrentStage, moved.Status)
	}
	review := stageRecord(t, moved, models.StageReview)
	if review.Status != models.StageStatusCompleted || !strings.Contains(review.Notes, "drawing attached") {
		t.Fatalf("review record %+v", review)
	}
}

func TestMoveToNextStage_AutoSelectShortage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "ORD-EMPTY", "40")

	moved := env.toMaterialReservation(t, order.ID)
	if moved.CurrentStage != models.StageMaterialReservation || moved.SelectedMaterials {
		t.Fatalf("order at %s selected=%v", moved.CurrentStage, moved.SelectedMaterials)
	}
	record := stageRecord(t, moved, models.StageMaterialReservation)
	if !strings.Contains(record.Notes, "automatic material selection failed") {
		t.Fatalf("stage notes %q do not mention the failed selection", record.Notes)
	}
	if n := env.notifier.count(EventMaterialShortage); n != 1 {
		t.Fatalf("got %d material_shortage events, want 1", n)
	}

	_, err := env.engine.Stages.MoveToNextStage(ctx, order.ID, adminId)
	requireCode(t, err, CodeStagePreconditionNotMet)

	stock := env.createStock(t, rawWarehouseId, "LATE", "40", "1")
	_, err = env.engine.Selector.SelectMaterials(ctx, order.ID, adminId, SelectMaterialsInput{AutoSelect: true})
	requireNoErr(t, err)
	requireDecimal(t, "reserved", env.stock(t, stock.ID).ReservedQuantity, "40")
	if got := env.move(t, order.ID, adminId); got.CurrentStage != models.StageSorting || got.Status != models.OrderStatusInProgress {
		t.Fatalf("order at %s (%s), want sorting (in_progress)", got.CurrentStage, got.Status)
	}
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order, transfer := env.toCutMaterialTransfer(t, "ORD-LIFE")
	if order.CurrentStage != models.StagePackaging {
		t.Fatalf("order at %s, want packaging", order.CurrentStage)
	}

	_, err := env.engine.Stages.MoveToNextStage(ctx, order.ID, adminId)
	requireCode(t, err, CodeStagePreconditionNotMet)

	for _, userId := range []int{cuttingManagerId, packagingMgrId, deliveryMgrId} {
		_, err := env.engine.Transfers.Approve(ctx, transfer.ID, userId, "")
		requireNoErr(t, err)
	}
	_, err = env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
	requireNoErr(t, err)

	env.move(t, order.ID, adminId)
	delivery := env.move(t, order.ID, adminId)
	if delivery.CurrentStage != models.StageDelivery {
		t.Fatalf("order at %s, want delivery", delivery.CurrentStage)
	}
	_, err = env.engine.Stages.SkipStage(ctx, order.ID, adminId, "courier already left")
	requireCode(t, err, CodeInvalidState)

	closed := env.move(t, order.ID, adminId)
	if closed.Status != models.OrderStatusCompleted || closed.CurrentStage != models.StageDelivery {
		t.Fatalf("order %s at %s, want completed at delivery", closed.Status, closed.CurrentStage)
	}
	for _, s := range closed.Stages {
		if s.Status != models.StageStatusCompleted {
			t.Errorf("stage %s is %s", s.StageName, s.Status)
		}
	}
	if len(closed.Stages) != len(models.AllStages()) {
		t.Fatalf("got %d stage records, want %d", len(closed.Stages), len(models.AllStages()))
	}
	for _, m := range closed.Materials {
		if m.Status != models.OrderMaterialStatusConsumed {
			t.Errorf("material %d is %s, want consumed", m.ID, m.Status)
		}
	}
	for _, wh := range []int{rawWarehouseId, cuttingWarehouseId, packingWarehouseId} {
		stock := env.stockAt(t, wh, "LOT-ORD-LIFE")
		requireDecimal(t, "quantity", stock.Quantity, "0")
		requireDecimal(t, "reserved", stock.ReservedQuantity, "0")
	}

	_, err = env.engine.Stages.MoveToNextStage(ctx, order.ID, adminId)
	requireCode(t, err, CodeInvalidState)
	_, err = env.engine.Stages.CancelOrder(ctx, order.ID, adminId, "too late")
	requireCode(t, err, CodeInvalidState)
	if n := env.notifier.count(EventOrderCompleted); n != 1 {
		t.Fatalf("got %d order_completed events, want 1", n)
	}
}

func TestCancelOrder_ReleasesEveryReservation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	a := env.createStock(t, rawWarehouseId, "A", "30", "1")
	b := env.createStock(t, rawWarehouseId, "B", "30", "2")
	order := env.createOrder(t, "ORD-CANCEL", "50")
	env.toMaterialReservation(t, order.ID)
	requireDecimal(t, "a reserved", env.stock(t, a.ID).ReservedQuantity, "30")
	requireDecimal(t, "b reserved", env.stock(t, b.ID).ReservedQuantity, "20")

	_, err := env.engine.Stages.CancelOrder(ctx, order.ID, cuttingManagerId, "customer withdrew")
	requireCode(t, err, CodeUnauthorized)

	cancelled, err := env.engine.Stages.CancelOrder(ctx, order.ID, adminId, "customer withdrew")
	requireNoErr(t, err)
	if cancelled.Status != models.OrderStatusCancelled || cancelled.CancelReason != "customer withdrew" || cancelled.CancelledAt == nil {
		t.Fatalf("unexpected cancelled order %+v", cancelled)
	}
	requireDecimal(t, "a reserved", env.stock(t, a.ID).ReservedQuantity, "0")
	requireDecimal(t, "b reserved", env.stock(t, b.ID).ReservedQuantity, "0")
	requireDecimal(t, "a quantity", env.stock(t, a.ID).Quantity, "30")
	for _, m := range cancelled.Materials {
		if m.Status != models.OrderMaterialStatusReleased {
			t.Errorf("material %d is %s, want released", m.ID, m.Status)
		}
	}

	_, err = env.engine.Stages.CancelOrder(ctx, order.ID, adminId, "again")
	requireCode(t, err, CodeInvalidState)
}

func TestCancelOrder_InProgressIsRefused(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	stock := env.createStock(t, rawWarehouseId, "A", "30", "1")
	order := env.createOrder(t, "ORD-BUSY", "30")
	env.toSorting(t, order.ID)

	_, err := env.engine.Stages.CancelOrder(ctx, order.ID, adminId, "changed mind")
	requireCode(t, err, CodeInvalidState)
	requireDecimal(t, "reserved", env.stock(t, stock.ID).ReservedQuantity, "30")
}

func TestSkipStage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, func(cfg *models.WorkflowConfig) { cfg.AutoSelectMaterials = false })
	order := env.createOrder(t, "ORD-SKIP", "0")

	_, err := env.engine.Stages.SkipStage(ctx, order.ID, adminId, " ")
	requireCode(t, err, CodeInvalidInput)
	_, err = env.engine.Stages.SkipStage(ctx, order.ID, outsiderId, "rush order")
	requireCode(t, err, CodeUnauthorized)

	for range models.AllStages()[:len(models.AllStages())-1] {
		_, err := env.engine.Stages.SkipStage(ctx, order.ID, adminId, "rush order")
		requireNoErr(t, err)
	}
	got, err := env.engine.Stages.GetOrder(ctx, order.ID)
	requireNoErr(t, err)
	if got.CurrentStage != models.StageDelivery || got.Status != models.OrderStatusInProgress {
		t.Fatalf("order at %s (%s), want delivery (in_progress)", got.CurrentStage, got.Status)
	}
	review := stageRecord(t, got, models.StageReview)
	if review.Status != models.StageStatusSkipped || !strings.Contains(review.Notes, "rush order") {
		t.Fatalf("review record %+v", review)
	}
	if n := env.notifier.count(EventStageSkipped); n != len(models.AllStages())-1 {
		t.Fatalf("got %d stage_skipped events", n)
	}

	_, err = env.engine.Stages.SkipStage(ctx, order.ID, adminId, "rush order")
	requireCode(t, err, CodeInvalidState)
}

func TestBoundary_ZeroOutputClosesUnit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	stock := env.createStock(t, rawWarehouseId, "A", "20", "1")
	order := env.createOrder(t, "ORD-SCRAP", "20")
	env.toSorting(t, order.ID)
	env.recordAll(t, order.ID, models.StageSorting, ProcessingInput{
		OriginalWeight: dec("20"), Roll1Weight: dec("0"), Roll2Weight: dec("0"), WasteWeight: dec("20"),
	})

	moved := env.move(t, order.ID, adminId)
	if moved.CurrentStage != models.StageCutting {
		t.Fatalf("order at %s, want cutting", moved.CurrentStage)
	}
	transfers, err := env.engine.Transfers.ListTransfers(ctx, order.ID)
	requireNoErr(t, err)
	if len(transfers) != 0 {
		t.Fatalf("got %d transfers for a fully wasted lot, want 0", len(transfers))
	}
	got := env.stock(t, stock.ID)
	requireDecimal(t, "quantity", got.Quantity, "0")
	requireDecimal(t, "reserved", got.ReservedQuantity, "0")
	units, err := env.engine.Processor.ListUnits(ctx, order.ID, models.StageSorting)
	requireNoErr(t, err)
	if units[0].Status != models.ProcessingStatusTransferred {
		t.Fatalf("unit status = %s, want transferred", units[0].Status)
	}
}

func TestBoundary_ZeroOutputKeepsUnprocessedStock(t *testing.T) {
	env := newTestEnv(t)
	stock := env.createStock(t, rawWarehouseId, "A", "20", "1")
	order := env.createOrder(t, "ORD-SCRAP-PART", "20")
	env.toSorting(t, order.ID)
	env.recordAll(t, order.ID, models.StageSorting, ProcessingInput{
		OriginalWeight: dec("12"), Roll1Weight: dec("0"), Roll2Weight: dec("0"), WasteWeight: dec("12"),
	})
	env.move(t, order.ID, adminId)

	got := env.stock(t, stock.ID)
	requireDecimal(t, "quantity", got.Quantity, "8")
	requireDecimal(t, "reserved", got.ReservedQuantity, "0")
	if n := env.movementCount(t, stock.ID, models.StockMovementConsume); n != 1 {
		t.Fatalf("got %d consume movements, want only the recorded waste", n)
	}
}
