package handlers

import (
	"net/http"

	"bitbucket.org/mmdatafocus/stageflow_backend/middlewares"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts every workflow operation under /api/v1.
// Reads are open to any caller; writes require an acting user.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	v1.GET("/stocks/:id", h.GetStock)
	v1.GET("/stocks/:id/movements", h.ListStockMovements)
	v1.GET("/orders/:id", h.GetOrder)
	v1.GET("/orders/:id/materials", h.ListOrderMaterials)
	v1.GET("/orders/:id/units", h.ListProcessingUnits)
	v1.GET("/orders/:id/waste", h.ListWaste)
	v1.GET("/orders/:id/transfers", h.ListOrderTransfers)
	v1.GET("/processing/:id", h.GetProcessingUnit)
	v1.GET("/transfers/:id", h.GetTransfer)
	v1.GET("/transfers/:id/history", h.ListTransferHistory)

	w := v1.Group("", middlewares.RequireActor())

	w.GET("/transfers/:id/can-approve", h.CanApprove)

	w.POST("/stocks", h.CreateStock)
	w.POST("/stocks/:id/reserve", h.stockQuantity((*workflow.StockLedger).Reserve))
	w.POST("/stocks/:id/release", h.stockQuantity((*workflow.StockLedger).Release))
	w.POST("/stocks/:id/add", h.stockQuantity((*workflow.StockLedger).AddStock))
	w.POST("/stocks/:id/remove", h.stockQuantity((*workflow.StockLedger).RemoveStock))
	w.POST("/stocks/:id/consume", h.stockQuantity((*workflow.StockLedger).Consume))
	w.POST("/stocks/:id/commit", h.CommitStockMovement)

	w.POST("/orders", h.CreateOrder)
	w.POST("/orders/:id/stage/complete", h.CompleteStage)
	w.POST("/orders/:id/stage/approval", h.DecideStageApproval)
	w.POST("/orders/:id/move", h.MoveToNextStage)
	w.POST("/orders/:id/skip", h.SkipStage)
	w.POST("/orders/:id/cancel", h.CancelOrder)
	w.POST("/orders/:id/materials", h.SelectMaterials)

	w.POST("/processing/:id/record", h.RecordProcessing)

	w.POST("/transfers", h.RequestTransfer)
	w.POST("/transfers/:id/approve", h.ApproveTransfer)
	w.POST("/transfers/:id/reject", h.RejectTransfer)
	w.POST("/transfers/:id/complete", h.CompleteTransfer)
	w.POST("/transfers/:id/resolve-approvers", h.ResolveApprovers)
}

func NotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, workflow.Result{ErrorCode: workflow.CodeNotFound, Message: "route not found"})
}
