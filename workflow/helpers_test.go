package workflow

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/stageflow_backend/config"
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	adminId          = 1
	cuttingManagerId = 10
	packagingMgrId   = 11
	deliveryMgrId    = 12
	outsiderId       = 13

	productId          = 100
	rawWarehouseId     = 1
	cuttingWarehouseId = models.DefaultCuttingWarehouseId
	packingWarehouseId = models.DefaultPackagingWarehouseId
)

var testUsers = []config.DirectoryUser{
	{
		Id:   adminId,
		Name: "admin",
		Roles: []string{
			"sales_officer", "order_reviewer", "production_manager", "warehouse_manager",
			"sorting_supervisor", "cutting_supervisor", "packaging_supervisor", "accountant", "delivery_manager",
		},
		Permissions: []string{
			models.PermissionCreateOrder, models.PermissionCancelOrder, models.PermissionSkipStage,
			models.PermissionManageStock, models.PermissionCompleteWeightTransfer, models.PermissionRequestWeightTransfer,
		},
		// keeps the admin out of approver resolution for the production warehouses
		Warehouses: []int{rawWarehouseId},
	},
	{Id: cuttingManagerId, Name: "cutting", Roles: []string{"cutting_warehouse_manager"}, Warehouses: []int{cuttingWarehouseId}},
	{Id: packagingMgrId, Name: "packaging", Roles: []string{"packaging_warehouse_manager"}, Warehouses: []int{packingWarehouseId}},
	{Id: deliveryMgrId, Name: "delivery", Roles: []string{"delivery_manager"}, Warehouses: []int{packingWarehouseId}},
	{Id: outsiderId, Name: "outsider"},
}

type recordedEvent struct {
	name    string
	payload any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{name: event, payload: payload})
}

func (n *recordingNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.name == event {
			c++
		}
	}
	return c
}

type testEnv struct {
	engine   *Engine
	db       *gorm.DB
	notifier *recordingNotifier
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// one connection: concurrent transactions queue exactly as they would on a locked row
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, mutate ...func(cfg *models.WorkflowConfig)) *testEnv {
	t.Helper()
	cfg := models.DefaultWorkflowConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	dir := config.NewStaticDirectory(testUsers)
	return newTestEnvWith(t, cfg, dir, dir)
}

func newTestEnvWith(t *testing.T, cfg models.WorkflowConfig, auth AuthorizationPort, dir ApproverDirectory) *testEnv {
	t.Helper()
	db := newTestDB(t)
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	notifier := &recordingNotifier{}
	engine, err := NewEngine(Dependencies{
		DB:        db,
		Config:    cfg,
		Auth:      auth,
		Directory: dir,
		Notifier:  notifier,
		Logger:    quiet,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return &testEnv{engine: engine, db: db, notifier: notifier}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	if !errors.Is(err, &Error{Code: code}) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func requireNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func requireDecimal(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}

func (env *testEnv) createStock(t *testing.T, warehouseId int, batch string, qty string, unitCost string) *models.Stock {
	t.Helper()
	stock, err := env.engine.Ledger.CreateStock(context.Background(), adminId, &models.NewStock{
		ProductId:   productId,
		WarehouseId: warehouseId,
		BatchNumber: batch,
		Quantity:    dec(qty),
		UnitCost:    dec(unitCost),
	})
	requireNoErr(t, err)
	return stock
}

func (env *testEnv) stock(t *testing.T, id int) *models.Stock {
	t.Helper()
	stock, err := env.engine.Ledger.GetStock(context.Background(), id)
	requireNoErr(t, err)
	if !stock.CheckInvariant() {
		t.Fatalf("stock %d violates 0 <= reserved (%s) <= quantity (%s)", id, stock.ReservedQuantity, stock.Quantity)
	}
	return stock
}

func (env *testEnv) createOrder(t *testing.T, number string, weight string) *models.Order {
	t.Helper()
	order, err := env.engine.Stages.CreateOrder(context.Background(), adminId, &models.NewOrder{
		OrderNumber:    number,
		ProductId:      productId,
		RequiredWeight: dec(weight),
	})
	requireNoErr(t, err)
	return order
}

func (env *testEnv) move(t *testing.T, orderId int, actorId int) *models.Order {
	t.Helper()
	order, err := env.engine.Stages.MoveToNextStage(context.Background(), orderId, actorId)
	requireNoErr(t, err)
	return order
}

// toMaterialReservation drives a new order through creation and the approved review.
func (env *testEnv) toMaterialReservation(t *testing.T, orderId int) *models.Order {
	t.Helper()
	ctx := context.Background()
	env.move(t, orderId, adminId)
	_, err := env.engine.Stages.DecideStageApproval(ctx, orderId, adminId, true, "looks fine")
	requireNoErr(t, err)
	return env.move(t, orderId, adminId)
}

// toSorting drives the order to sorting; auto selection reserves its material on the way.
func (env *testEnv) toSorting(t *testing.T, orderId int) *models.Order {
	t.Helper()
	order := env.toMaterialReservation(t, orderId)
	if !order.SelectedMaterials {
		t.Fatalf("order %d has no materials after entering material reservation", orderId)
	}
	return env.move(t, orderId, adminId)
}

func (env *testEnv) recordAll(t *testing.T, orderId int, stage models.Stage, input ProcessingInput) []models.OrderProcessing {
	t.Helper()
	ctx := context.Background()
	units, err := env.engine.Processor.ListUnits(ctx, orderId, stage)
	requireNoErr(t, err)
	if len(units) == 0 {
		t.Fatalf("no %s units for order %d", stage, orderId)
	}
	recorded := make([]models.OrderProcessing, 0, len(units))
	for _, u := range units {
		unit, err := env.engine.Processor.RecordProcessing(ctx, u.ID, adminId, input)
		requireNoErr(t, err)
		recorded = append(recorded, *unit)
	}
	return recorded
}

func (env *testEnv) transfers(t *testing.T, orderId int, category string) []models.WeightTransfer {
	t.Helper()
	all, err := env.engine.Transfers.ListTransfers(context.Background(), orderId)
	requireNoErr(t, err)
	var out []models.WeightTransfer
	for _, tr := range all {
		if tr.TransferCategory == category {
			out = append(out, tr)
		}
	}
	return out
}

func (env *testEnv) stockAt(t *testing.T, warehouseId int, batch string) *models.Stock {
	t.Helper()
	var stock models.Stock
	err := env.db.Where("warehouse_id = ? AND batch_number = ?", warehouseId, batch).First(&stock).Error
	requireNoErr(t, err)
	return env.stock(t, stock.ID)
}

func (env *testEnv) movementCount(t *testing.T, stockId int, kind models.StockMovementKind) int {
	t.Helper()
	movements, err := env.engine.Ledger.ListMovements(context.Background(), stockId)
	requireNoErr(t, err)
	n := 0
	for _, m := range movements {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

// toCutMaterialTransfer stocks a 100 kg lot batched "LOT-<number>", drives a 100 kg order
// through sorting and cutting and returns the pending cut_material transfer created on leaving cutting.
func (env *testEnv) toCutMaterialTransfer(t *testing.T, number string) (*models.Order, *models.WeightTransfer) {
	t.Helper()
	ctx := context.Background()
	env.createStock(t, rawWarehouseId, "LOT-"+number, "100", "1")
	order := env.createOrder(t, number, "100")
	env.toSorting(t, order.ID)
	env.recordAll(t, order.ID, models.StageSorting, ProcessingInput{
		OriginalWeight: dec("100"), Roll1Weight: dec("60"), Roll2Weight: dec("30"), WasteWeight: dec("10"),
	})
	env.move(t, order.ID, adminId)

	sorted := env.transfers(t, order.ID, models.TransferCategorySortedMaterial)
	if len(sorted) != 1 {
		t.Fatalf("expected 1 sorted_material transfer, got %d", len(sorted))
	}
	_, err := env.engine.Transfers.Approve(ctx, sorted[0].ID, cuttingManagerId, "")
	requireNoErr(t, err)
	_, err = env.engine.Transfers.Complete(ctx, sorted[0].ID, adminId)
	requireNoErr(t, err)

	env.recordAll(t, order.ID, models.StageCutting, ProcessingInput{
		OriginalWeight: dec("90"), Roll1Weight: dec("50"), Roll2Weight: dec("40"), WasteWeight: dec("0"),
	})
	order = env.move(t, order.ID, adminId)
	cut := env.transfers(t, order.ID, models.TransferCategoryCutMaterial)
	if len(cut) != 1 {
		t.Fatalf("expected 1 cut_material transfer, got %d", len(cut))
	}
	return order, &cut[0]
}
