package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newAuditDB(t *testing.T) *gorm.DB {
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
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stocks := []models.Stock{
		{ID: 1, ProductId: 100, WarehouseId: 1, BatchNumber: "OK", Quantity: decimal.NewFromInt(100), ReservedQuantity: decimal.NewFromInt(40)},
		{ID: 2, ProductId: 100, WarehouseId: 1, BatchNumber: "OVER", Quantity: decimal.NewFromInt(10), ReservedQuantity: decimal.NewFromInt(25)},
		{ID: 3, ProductId: 100, WarehouseId: 2, BatchNumber: "LOOSE", Quantity: decimal.NewFromInt(50), ReservedQuantity: decimal.NewFromInt(5)},
	}
	for i := range stocks {
		stocks[i].IsActive = utils.NewTrue()
		if err := db.Create(&stocks[i]).Error; err != nil {
			t.Fatalf("seed stock: %v", err)
		}
	}
	materials := []models.OrderMaterial{
		{OrderId: 1, StockId: 1, AllocatedWeight: decimal.NewFromInt(40), Status: models.OrderMaterialStatusReserved},
		{OrderId: 2, StockId: 1, AllocatedWeight: decimal.NewFromInt(15), Status: models.OrderMaterialStatusConsumed},
		{OrderId: 1, StockId: 2, AllocatedWeight: decimal.NewFromInt(25), Status: models.OrderMaterialStatusReserved},
	}
	for i := range materials {
		if err := db.Create(&materials[i]).Error; err != nil {
			t.Fatalf("seed material: %v", err)
		}
	}
	return db
}

func kinds(violations []violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, string(v.Kind)+"@"+v.BatchNumber)
	}
	return out
}

func TestAuditLedger(t *testing.T) {
	db := newAuditDB(t)
	tests := []struct {
		name string
		opts auditOptions
		want []string
	}{
		{name: "all checks", want: []string{"reserved_exceeds_quantity@OVER", "allocation_mismatch@LOOSE"}},
		{name: "without allocations", opts: auditOptions{SkipAllocations: true}, want: []string{"reserved_exceeds_quantity@OVER"}},
		{name: "one warehouse", opts: auditOptions{WarehouseId: 2}, want: []string{"allocation_mismatch@LOOSE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auditLedger(context.Background(), db, tt.opts)
			if err != nil {
				t.Fatalf("audit: %v", err)
			}
			if strings.Join(kinds(got), ",") != strings.Join(tt.want, ",") {
				t.Fatalf("violations = %v, want %v", kinds(got), tt.want)
			}
		})
	}
}

func TestCheckCommand(t *testing.T) {
	db := newAuditDB(t)
	path := filepath.Join(t.TempDir(), "audit.xlsx")

	cmd := newRootCommand(func() (*gorm.DB, error) { return db, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", "--xlsx", path})

	err := cmd.ExecuteContext(context.Background())
	var found *violationsFound
	if !errors.As(err, &found) || found.count != 2 {
		t.Fatalf("err = %v, want two violations", err)
	}
	if !strings.Contains(out.String(), "reserved_exceeds_quantity") || !strings.Contains(out.String(), "LOOSE") {
		t.Fatalf("table output missing rows:\n%s", out.String())
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header plus 2", len(rows))
	}
	if rows[0][0] != "Stock" || rows[1][3] != "OVER" || rows[2][7] != "allocation_mismatch" {
		t.Fatalf("unexpected sheet content: %v", rows)
	}
}

func TestCheckCommandClean(t *testing.T) {
	db := newAuditDB(t)
	cmd := newRootCommand(func() (*gorm.DB, error) { return db, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", "--warehouse", "9"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("clean ledger: %v", err)
	}
	if !strings.Contains(out.String(), "No ledger violations found.") {
		t.Fatalf("output = %q", out.String())
	}
}
