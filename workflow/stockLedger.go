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

// Reference ties a ledger mutation to the record that caused it.
type Reference struct {
	Type    string
	Id      int
	ActorId int
}

// StockLedger owns every mutation of Stock.Quantity and Stock.ReservedQuantity.
// Each mutation locks the affected rows and appends a StockMovement in the same transaction.
type StockLedger struct {
	c *core
}

func (l *StockLedger) requireManageStock(ctx context.Context, actorId int) error {
	if !l.c.hasPermission(ctx, actorId, models.PermissionManageStock) {
		return newError(CodeUnauthorized, "user %d lacks permission %s", actorId, models.PermissionManageStock)
	}
	return nil
}

func (l *StockLedger) GetStock(ctx context.Context, stockId int) (*models.Stock, error) {
	var stock models.Stock
	if err := l.c.db.WithContext(ctx).First(&stock, stockId).Error; err != nil {
		return nil, storageError(err, "stock")
	}
	return &stock, nil
}

func (l *StockLedger) ListMovements(ctx context.Context, stockId int) ([]models.StockMovement, error) {
	var movements []models.StockMovement
	if err := l.c.db.WithContext(ctx).Where("stock_id = ?", stockId).Order("id").Find(&movements).Error; err != nil {
		return nil, storageError(err, "stock movements")
	}
	return movements, nil
}

// CreateStock registers a new lot with its opening on-hand quantity.
func (l *StockLedger) CreateStock(ctx context.Context, actorId int, input *models.NewStock) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.CreateStock")
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, &Error{Code: CodeInvalidInput, Message: err.Error()}
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		stock = &models.Stock{
			ProductId:   input.ProductId,
			WarehouseId: input.WarehouseId,
			BatchNumber: input.BatchNumber,
			Quantity:    decimal.Zero,
			UnitCost:    input.UnitCost,
			ExpiryDate:  input.ExpiryDate,
			IsActive:    utils.NewTrue(),
		}
		if err := tx.Create(stock).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return newError(CodeInvalidState, "stock for product %d in warehouse %d batch %q already exists", input.ProductId, input.WarehouseId, input.BatchNumber)
			}
			config.LogError(l.c.logger, "stockLedger.go", "CreateStock", "Create", input, err)
			return storageError(err, "create stock")
		}
		if input.Quantity.IsPositive() {
			updated, err := l.addTx(tx, stock.ID, input.Quantity, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
			if err != nil {
				return err
			}
			stock = updated
		}
		return nil
	})
	return stock, err
}

func (l *StockLedger) Reserve(ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Reserve")
	span.SetAttributes(attribute.Int("stock.id", stockId), attribute.String("quantity", qty.String()))
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		stock, err = l.reserveTx(tx, ob, stockId, qty, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return stock, err
}

func (l *StockLedger) Release(ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Release")
	span.SetAttributes(attribute.Int("stock.id", stockId), attribute.String("quantity", qty.String()))
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		stock, err = l.releaseTx(tx, stockId, qty, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return stock, err
}

// CommitMovement moves reserved quantity out of fromStockId into toStockId.
// reserveAtDestination keeps the moved quantity reserved downstream.
func (l *StockLedger) CommitMovement(ctx context.Context, actorId int, fromStockId int, toStockId int, qty decimal.Decimal, reserveAtDestination bool) (from *models.Stock, to *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.CommitMovement")
	span.SetAttributes(attribute.Int("stock.from", fromStockId), attribute.Int("stock.to", toStockId), attribute.String("quantity", qty.String()))
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		from, to, err = l.commitMovementTx(tx, fromStockId, toStockId, qty, reserveAtDestination, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return from, to, err
}

func (l *StockLedger) AddStock(ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.AddStock")
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		stock, err = l.addTx(tx, stockId, qty, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return stock, err
}

func (l *StockLedger) RemoveStock(ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.RemoveStock")
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		stock, err = l.removeTx(tx, ob, stockId, qty, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return stock, err
}

// Consume takes reserved quantity off the books entirely, as for waste or shipment.
func (l *StockLedger) Consume(ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (stock *models.Stock, err error) {
	ctx, span := tracer.Start(ctx, "StockLedger.Consume")
	defer func() { endSpan(span, err) }()

	if err := l.requireManageStock(ctx, actorId); err != nil {
		return nil, err
	}
	err = l.c.transaction(ctx, func(tx *gorm.DB, ob *outbox) error {
		var err error
		stock, err = l.consumeTx(tx, stockId, qty, Reference{Type: models.ReferenceTypeAdjustment, ActorId: actorId})
		return err
	})
	return stock, err
}

func requirePositive(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return newError(CodeInvalidInput, "quantity must be positive, got %s", qty)
	}
	return nil
}

func (l *StockLedger) lockStock(tx *gorm.DB, stockId int) (*models.Stock, error) {
	var stock models.Stock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&stock, stockId).Error
	if err != nil {
		return nil, storageError(err, "stock")
	}
	return &stock, nil
}

// lockStocks locks rows in ascending id order so two movements over the same pair cannot deadlock.
func (l *StockLedger) lockStocks(tx *gorm.DB, stockIds ...int) (map[int]*models.Stock, error) {
	ids := utils.UniqueSlice(stockIds)
	sort.Ints(ids)
	locked := make(map[int]*models.Stock, len(ids))
	for _, id := range ids {
		stock, err := l.lockStock(tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = stock
	}
	return locked, nil
}

func (l *StockLedger) save(tx *gorm.DB, stock *models.Stock, kind models.StockMovementKind, qty decimal.Decimal, ref Reference) error {
	if !stock.CheckInvariant() {
		return newError(CodeInvalidState, "stock %d would violate 0 <= reserved (%s) <= quantity (%s)", stock.ID, stock.ReservedQuantity, stock.Quantity)
	}
	err := tx.Model(&models.Stock{}).Where("id = ?", stock.ID).Updates(map[string]interface{}{
		"quantity":          stock.Quantity,
		"reserved_quantity": stock.ReservedQuantity,
	}).Error
	if err != nil {
		config.LogError(l.c.logger, "stockLedger.go", "save", "UpdateStock", stock.ID, err)
		return storageError(err, "update stock")
	}
	movement := models.StockMovement{
		StockId:       stock.ID,
		Kind:          kind,
		Quantity:      qty,
		ReferenceType: ref.Type,
		ReferenceId:   ref.Id,
		ActorId:       ref.ActorId,
	}
	if err := tx.Create(&movement).Error; err != nil {
		config.LogError(l.c.logger, "stockLedger.go", "save", "CreateStockMovement", movement, err)
		return storageError(err, "create stock movement")
	}
	return nil
}

func (l *StockLedger) reserveTx(tx *gorm.DB, ob *outbox, stockId int, qty decimal.Decimal, ref Reference) (*models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	stock, err := l.lockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	if !stock.Active() {
		return nil, newError(CodeInvalidState, "stock %d is inactive", stockId)
	}
	available := stock.AvailableQuantity()
	if qty.GreaterThan(available) {
		err := newError(CodeInsufficientStock, "stock %d has %s available, %s requested", stockId, available, qty)
		l.c.logRejected("reserveTx", err, logrus.Fields{"stock_id": stockId})
		return nil, err
	}
	stock.ReservedQuantity = stock.ReservedQuantity.Add(qty)
	if err := l.save(tx, stock, models.StockMovementReserve, qty, ref); err != nil {
		return nil, err
	}
	l.checkLowStock(ob, stock)
	return stock, nil
}

func (l *StockLedger) releaseTx(tx *gorm.DB, stockId int, qty decimal.Decimal, ref Reference) (*models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	stock, err := l.lockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	if qty.GreaterThan(stock.ReservedQuantity) {
		return nil, newError(CodeOverRelease, "stock %d has %s reserved, %s released", stockId, stock.ReservedQuantity, qty)
	}
	stock.ReservedQuantity = stock.ReservedQuantity.Sub(qty)
	if err := l.save(tx, stock, models.StockMovementRelease, qty, ref); err != nil {
		return nil, err
	}
	return stock, nil
}

func (l *StockLedger) commitMovementTx(tx *gorm.DB, fromStockId int, toStockId int, qty decimal.Decimal, reserveAtDestination bool, ref Reference) (*models.Stock, *models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, nil, err
	}
	if fromStockId == toStockId {
		return nil, nil, newError(CodeInvalidInput, "movement source and destination are the same stock %d", fromStockId)
	}
	locked, err := l.lockStocks(tx, fromStockId, toStockId)
	if err != nil {
		return nil, nil, err
	}
	from, to := locked[fromStockId], locked[toStockId]
	if qty.GreaterThan(from.ReservedQuantity) {
		return nil, nil, newError(CodeOverRelease, "stock %d has %s reserved, %s committed", fromStockId, from.ReservedQuantity, qty)
	}
	if qty.GreaterThan(from.Quantity) {
		return nil, nil, newError(CodeInsufficientStock, "stock %d has %s on hand, %s committed", fromStockId, from.Quantity, qty)
	}
	from.Quantity = from.Quantity.Sub(qty)
	from.ReservedQuantity = from.ReservedQuantity.Sub(qty)
	to.Quantity = to.Quantity.Add(qty)
	if reserveAtDestination {
		to.ReservedQuantity = to.ReservedQuantity.Add(qty)
	}
	if err := l.save(tx, from, models.StockMovementCommitOut, qty, ref); err != nil {
		return nil, nil, err
	}
	if err := l.save(tx, to, models.StockMovementCommitIn, qty, ref); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func (l *StockLedger) addTx(tx *gorm.DB, stockId int, qty decimal.Decimal, ref Reference) (*models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	stock, err := l.lockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	stock.Quantity = stock.Quantity.Add(qty)
	if err := l.save(tx, stock, models.StockMovementAdd, qty, ref); err != nil {
		return nil, err
	}
	return stock, nil
}

func (l *StockLedger) removeTx(tx *gorm.DB, ob *outbox, stockId int, qty decimal.Decimal, ref Reference) (*models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	stock, err := l.lockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	// reserved quantity cannot be removed outside the reservation flow
	if qty.GreaterThan(stock.AvailableQuantity()) {
		return nil, newError(CodeInsufficientStock, "stock %d has %s unreserved, %s removed", stockId, stock.AvailableQuantity(), qty)
	}
	stock.Quantity = stock.Quantity.Sub(qty)
	if err := l.save(tx, stock, models.StockMovementRemove, qty, ref); err != nil {
		return nil, err
	}
	l.checkLowStock(ob, stock)
	return stock, nil
}

func (l *StockLedger) consumeTx(tx *gorm.DB, stockId int, qty decimal.Decimal, ref Reference) (*models.Stock, error) {
	if err := requirePositive(qty); err != nil {
		return nil, err
	}
	stock, err := l.lockStock(tx, stockId)
	if err != nil {
		return nil, err
	}
	if qty.GreaterThan(stock.ReservedQuantity) {
		return nil, newError(CodeOverRelease, "stock %d has %s reserved, %s consumed", stockId, stock.ReservedQuantity, qty)
	}
	stock.Quantity = stock.Quantity.Sub(qty)
	stock.ReservedQuantity = stock.ReservedQuantity.Sub(qty)
	if err := l.save(tx, stock, models.StockMovementConsume, qty, ref); err != nil {
		return nil, err
	}
	return stock, nil
}

// firstOrCreateStockTx returns the locked lot for (product, warehouse, batch), creating an empty one.
func (l *StockLedger) firstOrCreateStockTx(tx *gorm.DB, like *models.Stock, warehouseId int) (*models.Stock, error) {
	var stock models.Stock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND warehouse_id = ? AND batch_number = ?", like.ProductId, warehouseId, like.BatchNumber).
		First(&stock).Error
	if err == nil {
		return &stock, nil
	}
	if !utils.IsRecordNotFound(err) {
		return nil, storageError(err, "stock")
	}
	stock = models.Stock{
		ProductId:   like.ProductId,
		WarehouseId: warehouseId,
		BatchNumber: like.BatchNumber,
		Quantity:    decimal.Zero,
		UnitCost:    like.UnitCost,
		ExpiryDate:  like.ExpiryDate,
		IsActive:    utils.NewTrue(),
	}
	if err := tx.Create(&stock).Error; err != nil {
		config.LogError(l.c.logger, "stockLedger.go", "firstOrCreateStockTx", "Create", stock, err)
		return nil, storageError(err, "create destination stock")
	}
	return &stock, nil
}

func (l *StockLedger) checkLowStock(ob *outbox, stock *models.Stock) {
	threshold := l.c.cfg.LowStockThreshold
	if !threshold.IsPositive() {
		return
	}
	available := stock.AvailableQuantity()
	if available.LessThan(threshold) {
		ob.add(EventStockAlert, StockAlert{
			StockId:     stock.ID,
			ProductId:   stock.ProductId,
			WarehouseId: stock.WarehouseId,
			Available:   available,
			Threshold:   threshold,
		})
	}
}
