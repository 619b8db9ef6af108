package handlers

import (
	"context"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type commitMovementRequest struct {
	ToStockId            int             `json:"to_stock_id"`
	Quantity             decimal.Decimal `json:"quantity"`
	ReserveAtDestination bool            `json:"reserve_at_destination"`
}

func (h *Handler) CreateStock(c *gin.Context) {
	var input models.NewStock
	if !bind(c, &input) {
		return
	}
	stock, err := h.engine().Ledger.CreateStock(c.Request.Context(), actorId(c), &input)
	respond(c, stock, err)
}

func (h *Handler) GetStock(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	stock, err := h.engine().Ledger.GetStock(c.Request.Context(), id)
	respond(c, stock, err)
}

func (h *Handler) ListStockMovements(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	movements, err := h.engine().Ledger.ListMovements(c.Request.Context(), id)
	respond(c, movements, err)
}

type ledgerOp func(l *workflow.StockLedger, ctx context.Context, actorId int, stockId int, qty decimal.Decimal) (*models.Stock, error)

// stockQuantity adapts the ledger operations that take one stock and one quantity.
func (h *Handler) stockQuantity(op ledgerOp) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req quantityRequest
		if !bind(c, &req) {
			return
		}
		stock, err := op(h.engine().Ledger, c.Request.Context(), actorId(c), id, req.Quantity)
		respond(c, stock, err)
	}
}

func (h *Handler) CommitStockMovement(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req commitMovementRequest
	if !bind(c, &req) {
		return
	}
	from, to, err := h.engine().Ledger.CommitMovement(c.Request.Context(), actorId(c), id, req.ToStockId, req.Quantity, req.ReserveAtDestination)
	respond(c, gin.H{"from": from, "to": to}, err)
}
