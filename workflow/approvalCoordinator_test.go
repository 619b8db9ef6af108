package workflow

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow/mocks"
	"go.uber.org/mock/gomock"
)

func TestApprovalCoordinator_SequentialChain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, transfer := env.toCutMaterialTransfer(t, "ORD-SEQ")

	if !transfer.RequiresSequentialApproval || len(transfer.Approvals) != 3 {
		t.Fatalf("sequential=%v steps=%d, want a sequential three step chain", transfer.RequiresSequentialApproval, len(transfer.Approvals))
	}
	wantApprovers := []int{cuttingManagerId, packagingMgrId, deliveryMgrId}
	for i, step := range transfer.Approvals {
		if step.ApproverId == nil || *step.ApproverId != wantApprovers[i] {
			t.Fatalf("step %d approver = %v, want %d", step.ApprovalSequence, step.ApproverId, wantApprovers[i])
		}
	}
	if transfer.SourceWarehouseId != cuttingWarehouseId || transfer.DestinationWarehouseId != packingWarehouseId {
		t.Fatalf("transfer moves %d -> %d", transfer.SourceWarehouseId, transfer.DestinationWarehouseId)
	}

	t.Run("level two cannot approve before level one", func(t *testing.T) {
		_, err := env.engine.Transfers.Approve(ctx, transfer.ID, packagingMgrId, "")
		requireCode(t, err, CodeUnauthorized)
		_, err = env.engine.Transfers.Approve(ctx, transfer.ID, outsiderId, "")
		requireCode(t, err, CodeUnauthorized)
	})

	t.Run("completion needs every approval", func(t *testing.T) {
		_, err := env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
		requireCode(t, err, CodeTransferNotApproved)
	})

	t.Run("approving in order", func(t *testing.T) {
		for i, userId := range wantApprovers {
			got, err := env.engine.Transfers.Approve(ctx, transfer.ID, userId, "ok")
			requireNoErr(t, err)
			want := models.TransferStatusPending
			if i == len(wantApprovers)-1 {
				want = models.TransferStatusApproved
			}
			if got.Status != want {
				t.Fatalf("after approval %d status = %s, want %s", i+1, got.Status, want)
			}
		}
		_, err := env.engine.Transfers.Approve(ctx, transfer.ID, deliveryMgrId, "again")
		requireCode(t, err, CodeInvalidState)
	})

	source := env.stockAt(t, cuttingWarehouseId, "LOT-ORD-SEQ")
	requireDecimal(t, "source reserved before completion", source.ReservedQuantity, "90")

	t.Run("completion needs the permission", func(t *testing.T) {
		_, err := env.engine.Transfers.Complete(ctx, transfer.ID, deliveryMgrId)
		requireCode(t, err, CodeUnauthorized)
	})

	t.Run("completion moves the ledger once", func(t *testing.T) {
		got, err := env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
		requireNoErr(t, err)
		if got.Status != models.TransferStatusCompleted || got.CompletedAt == nil {
			t.Fatalf("status = %s completed_at = %v", got.Status, got.CompletedAt)
		}

		_, err = env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
		requireCode(t, err, CodeAlreadyCompleted)
		_, err = env.engine.Transfers.Approve(ctx, transfer.ID, cuttingManagerId, "")
		requireCode(t, err, CodeAlreadyCompleted)

		src := env.stock(t, source.ID)
		requireDecimal(t, "source quantity", src.Quantity, "0")
		requireDecimal(t, "source reserved", src.ReservedQuantity, "0")
		dst := env.stockAt(t, packingWarehouseId, "LOT-ORD-SEQ")
		requireDecimal(t, "destination quantity", dst.Quantity, "90")
		requireDecimal(t, "destination reserved", dst.ReservedQuantity, "90")
		if n := env.movementCount(t, source.ID, models.StockMovementCommitOut); n != 1 {
			t.Fatalf("got %d commit_out movements on the source, want 1", n)
		}

		stored, err := env.engine.Transfers.GetTransfer(ctx, transfer.ID)
		requireNoErr(t, err)
		for _, req := range stored.InventoryRequests {
			if req.Status != models.InventoryRequestStatusCompleted {
				t.Errorf("%s inventory request is %s, want completed", req.Side, req.Status)
			}
		}
		history, err := env.engine.Transfers.ListHistory(ctx, transfer.ID)
		requireNoErr(t, err)
		if len(history) != 2 || history[0].Action != models.ApprovalHistoryActionApproved || history[1].Action != models.ApprovalHistoryActionCompleted {
			t.Fatalf("unexpected history %+v", history)
		}
	})

	if n := env.notifier.count(EventTransferCompleted); n != 2 {
		t.Fatalf("got %d transfer_completed events, want 2 (sorted and cut material)", n)
	}
}

func TestApprovalCoordinator_RejectIsFinal(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, transfer := env.toCutMaterialTransfer(t, "ORD-REJ")

	_, err := env.engine.Transfers.Approve(ctx, transfer.ID, cuttingManagerId, "")
	requireNoErr(t, err)

	_, err = env.engine.Transfers.Reject(ctx, transfer.ID, packagingMgrId, "  ")
	requireCode(t, err, CodeInvalidInput)

	rejected, err := env.engine.Transfers.Reject(ctx, transfer.ID, packagingMgrId, "rolls are damaged")
	requireNoErr(t, err)
	if rejected.Status != models.TransferStatusRejected || rejected.RejectionReason != "rolls are damaged" {
		t.Fatalf("status = %s reason = %q", rejected.Status, rejected.RejectionReason)
	}

	for _, userId := range []int{cuttingManagerId, packagingMgrId, deliveryMgrId} {
		_, err := env.engine.Transfers.Approve(ctx, transfer.ID, userId, "")
		requireCode(t, err, CodeAlreadyRejected)
	}
	_, err = env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
	requireCode(t, err, CodeAlreadyRejected)

	stored, err := env.engine.Transfers.GetTransfer(ctx, transfer.ID)
	requireNoErr(t, err)
	for _, req := range stored.InventoryRequests {
		if req.Status != models.InventoryRequestStatusCancelled {
			t.Errorf("%s inventory request is %s, want cancelled", req.Side, req.Status)
		}
	}
	source := env.stockAt(t, cuttingWarehouseId, "LOT-ORD-REJ")
	requireDecimal(t, "source quantity", source.Quantity, "90")
	requireDecimal(t, "source reserved", source.ReservedQuantity, "90")

	unit, err := env.engine.Processor.GetUnit(ctx, *transfer.OrderProcessingId)
	requireNoErr(t, err)
	if unit.Status != models.ProcessingStatusRecorded {
		t.Fatalf("unit status = %s, want recorded", unit.Status)
	}

	retry, err := env.engine.Transfers.RequestTransfer(ctx, adminId, models.NewWeightTransfer{
		OrderProcessingId:      unit.ID,
		TransferCategory:       models.TransferCategoryCutMaterial,
		DestinationWarehouseId: packingWarehouseId,
	})
	requireNoErr(t, err)
	if retry.ID == transfer.ID || retry.Status != models.TransferStatusPending {
		t.Fatalf("retry transfer %d is %s", retry.ID, retry.Status)
	}
	requireDecimal(t, "retry weight", retry.WeightTransferred, "90")

	_, err = env.engine.Transfers.RequestTransfer(ctx, adminId, models.NewWeightTransfer{
		OrderProcessingId:      unit.ID,
		TransferCategory:       models.TransferCategoryCutMaterial,
		DestinationWarehouseId: packingWarehouseId,
	})
	requireCode(t, err, CodeInvalidState)
}

func TestApprovalCoordinator_UnresolvedApprover(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	static := config.NewStaticDirectory(testUsers)

	resolvable := false
	directory := mocks.NewMockApproverDirectory(ctrl)
	directory.EXPECT().FindApproverForLevel(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, warehouseId int, role string) (int, bool, error) {
			if role == "packaging_warehouse_manager" && !resolvable {
				return 0, false, nil
			}
			return static.FindApproverForLevel(ctx, warehouseId, role)
		}).AnyTimes()

	env := newTestEnvWith(t, models.DefaultWorkflowConfig(), static, directory)
	_, transfer := env.toCutMaterialTransfer(t, "ORD-UNRES")

	if len(transfer.Approvals) != 3 || !transfer.Approvals[1].IsUnassigned() {
		t.Fatalf("second step should be unassigned: %+v", transfer.Approvals)
	}
	if n := env.notifier.count(EventApproverUnresolved); n != 1 {
		t.Fatalf("got %d approver_unresolved alerts, want 1", n)
	}

	_, err := env.engine.Transfers.Approve(ctx, transfer.ID, cuttingManagerId, "")
	requireNoErr(t, err)
	_, err = env.engine.Transfers.Approve(ctx, transfer.ID, packagingMgrId, "")
	requireCode(t, err, CodeUnauthorized)

	_, err = env.engine.Transfers.ResolvePendingApprovers(ctx, transfer.ID, adminId)
	requireNoErr(t, err)
	if n := env.notifier.count(EventApproverUnresolved); n != 2 {
		t.Fatalf("got %d approver_unresolved alerts after a failed retry, want 2", n)
	}

	resolvable = true
	resolved, err := env.engine.Transfers.ResolvePendingApprovers(ctx, transfer.ID, adminId)
	requireNoErr(t, err)
	if step := resolved.Approvals[1]; step.ApproverId == nil || *step.ApproverId != packagingMgrId {
		t.Fatalf("second step approver = %v, want %d", step.ApproverId, packagingMgrId)
	}
	_, err = env.engine.Transfers.Approve(ctx, transfer.ID, packagingMgrId, "")
	requireNoErr(t, err)
}

func TestCanUserApprove(t *testing.T) {
	ctx := context.Background()
	assigned := func(id int) *int { return &id }

	single := &models.WeightTransfer{
		Status:           models.TransferStatusPending,
		DestinationStage: models.StageCutting,
		Approvals: []models.WeightTransferApproval{
			{ApprovalSequence: 1, ApproverRoleLevel: "cutting_warehouse_manager", ApproverId: assigned(10), ApprovalStatus: models.ApprovalStatusPending},
		},
	}
	chain := &models.WeightTransfer{
		Status:                     models.TransferStatusPending,
		DestinationStage:           models.StagePackaging,
		RequiresSequentialApproval: true,
		Approvals: []models.WeightTransferApproval{
			{ApprovalSequence: 1, ApproverRoleLevel: "cutting_warehouse_manager", ApproverId: assigned(10), ApprovalStatus: models.ApprovalStatusApproved},
			{ApprovalSequence: 2, ApproverRoleLevel: "packaging_warehouse_manager", ApproverId: assigned(11), ApprovalStatus: models.ApprovalStatusPending},
			{ApprovalSequence: 3, ApproverRoleLevel: "delivery_manager", ApproverId: assigned(12), ApprovalStatus: models.ApprovalStatusPending},
		},
	}

	tests := []struct {
		name     string
		userId   int
		transfer *models.WeightTransfer
		roles    map[string]bool
		want     bool
	}{
		{name: "destination stage role", userId: 30, transfer: single, roles: map[string]bool{"cutting_supervisor": true}, want: true},
		{name: "assigned step role", userId: 10, transfer: single, roles: map[string]bool{"cutting_warehouse_manager": true}, want: true},
		{name: "step role but another assignee", userId: 31, transfer: single, roles: map[string]bool{"cutting_warehouse_manager": true}, want: false},
		{name: "sequential current approver", userId: 11, transfer: chain, roles: map[string]bool{"packaging_warehouse_manager": true}, want: true},
		{name: "sequential later approver", userId: 12, transfer: chain, roles: map[string]bool{"delivery_manager": true}, want: false},
		{name: "sequential assignee without the role", userId: 11, transfer: chain, roles: map[string]bool{}, want: false},
		{name: "sequential destination role does not bypass", userId: 40, transfer: chain, roles: map[string]bool{"packaging_supervisor": true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			auth := mocks.NewMockAuthorizationPort(ctrl)
			auth.EXPECT().HasRole(gomock.Any(), tt.userId, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ int, role string) bool { return tt.roles[role] }).
				AnyTimes()

			coordinator := &ApprovalCoordinator{c: &core{cfg: models.DefaultWorkflowConfig(), auth: auth}}
			if got := coordinator.CanUserApprove(ctx, tt.userId, tt.transfer); got != tt.want {
				t.Fatalf("CanUserApprove = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("decided transfers are closed to everyone", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		auth := mocks.NewMockAuthorizationPort(ctrl)
		coordinator := &ApprovalCoordinator{c: &core{cfg: models.DefaultWorkflowConfig(), auth: auth}}
		rejected := *single
		rejected.Status = models.TransferStatusRejected
		if coordinator.CanUserApprove(ctx, 10, &rejected) {
			t.Fatal("a rejected transfer cannot be approved")
		}
	})
}

func TestApprovalCoordinator_FailedCompleteRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	lot := env.createStock(t, rawWarehouseId, "TIGHT", "100", "1")
	order := env.createOrder(t, "ORD-TIGHT", "100")
	env.toSorting(t, order.ID)
	// output weighs in 0.3 kg above the reservation, inside the 0.5% tolerance
	env.recordAll(t, order.ID, models.StageSorting, ProcessingInput{
		OriginalWeight: dec("100"), Roll1Weight: dec("60"), Roll2Weight: dec("40.3"), WasteWeight: dec("0"),
	})
	env.move(t, order.ID, adminId)
	sorted := env.transfers(t, order.ID, models.TransferCategorySortedMaterial)
	if len(sorted) != 1 {
		t.Fatalf("got %d sorted_material transfers, want 1", len(sorted))
	}
	transfer := sorted[0]
	requireDecimal(t, "transfer weight", transfer.WeightTransferred, "100.3")
	_, err := env.engine.Transfers.Approve(ctx, transfer.ID, cuttingManagerId, "")
	requireNoErr(t, err)

	_, err = env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
	requireCode(t, err, CodeInsufficientStock)

	stored, err := env.engine.Transfers.GetTransfer(ctx, transfer.ID)
	requireNoErr(t, err)
	if stored.Status != models.TransferStatusApproved || stored.CompletedAt != nil {
		t.Fatalf("transfer status = %s, want approved", stored.Status)
	}
	for _, req := range stored.InventoryRequests {
		if req.Status != models.InventoryRequestStatusPending {
			t.Errorf("%s inventory request is %s, want pending", req.Side, req.Status)
		}
	}
	raw := env.stock(t, lot.ID)
	requireDecimal(t, "raw quantity", raw.Quantity, "100")
	requireDecimal(t, "raw reserved", raw.ReservedQuantity, "100")
	if n := env.movementCount(t, lot.ID, models.StockMovementCommitOut); n != 0 {
		t.Fatalf("got %d commit_out movements after a failed completion", n)
	}
	var destinations int64
	requireNoErr(t, env.db.Model(&models.Stock{}).Where("warehouse_id = ?", cuttingWarehouseId).Count(&destinations).Error)
	if destinations != 0 {
		t.Fatalf("got %d destination lots after a failed completion, want 0", destinations)
	}
	unit, err := env.engine.Processor.GetUnit(ctx, *transfer.OrderProcessingId)
	requireNoErr(t, err)
	if unit.Status != models.ProcessingStatusTransferRequested {
		t.Fatalf("unit status = %s, want transfer_requested", unit.Status)
	}

	// the same completion goes through once the source can cover the extra output
	_, err = env.engine.Ledger.AddStock(ctx, adminId, lot.ID, dec("1"))
	requireNoErr(t, err)
	completed, err := env.engine.Transfers.Complete(ctx, transfer.ID, adminId)
	requireNoErr(t, err)
	if completed.Status != models.TransferStatusCompleted {
		t.Fatalf("transfer status = %s, want completed", completed.Status)
	}
	raw = env.stock(t, lot.ID)
	requireDecimal(t, "raw quantity after retry", raw.Quantity, "0.7")
	requireDecimal(t, "raw reserved after retry", raw.ReservedQuantity, "0")
	dest := env.stockAt(t, cuttingWarehouseId, "TIGHT")
	requireDecimal(t, "destination quantity", dest.Quantity, "100.3")
	requireDecimal(t, "destination reserved", dest.ReservedQuantity, "100.3")
}
