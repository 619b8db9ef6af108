package handlers

import (
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
)

type approveRequest struct {
	Comment string `json:"comment"`
}

func (h *Handler) RecordProcessing(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input workflow.ProcessingInput
	if !bind(c, &input) {
		return
	}
	unit, err := h.engine().Processor.RecordProcessing(c.Request.Context(), id, actorId(c), input)
	respond(c, unit, err)
}

func (h *Handler) GetProcessingUnit(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	unit, err := h.engine().Processor.GetUnit(c.Request.Context(), id)
	respond(c, unit, err)
}

func (h *Handler) RequestTransfer(c *gin.Context) {
	var input models.NewWeightTransfer
	if !bind(c, &input) {
		return
	}
	transfer, err := h.engine().Transfers.RequestTransfer(c.Request.Context(), actorId(c), input)
	respond(c, transfer, err)
}

func (h *Handler) GetTransfer(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transfer, err := h.engine().Transfers.GetTransfer(c.Request.Context(), id)
	respond(c, transfer, err)
}

func (h *Handler) ListTransferHistory(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	history, err := h.engine().Transfers.ListHistory(c.Request.Context(), id)
	respond(c, history, err)
}

// CanApprove reports whether the acting user may decide the transfer's current step.
func (h *Handler) CanApprove(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	transfer, err := h.engine().Transfers.GetTransfer(ctx, id)
	if err != nil {
		respond(c, nil, err)
		return
	}
	respond(c, gin.H{"can_approve": h.engine().Transfers.CanUserApprove(ctx, actorId(c), transfer)}, nil)
}

func (h *Handler) ApproveTransfer(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req approveRequest
	if !bind(c, &req) {
		return
	}
	transfer, err := h.engine().Transfers.Approve(c.Request.Context(), id, actorId(c), req.Comment)
	respond(c, transfer, err)
}

func (h *Handler) RejectTransfer(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	transfer, err := h.engine().Transfers.Reject(c.Request.Context(), id, actorId(c), req.Reason)
	respond(c, transfer, err)
}

func (h *Handler) CompleteTransfer(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transfer, err := h.engine().Transfers.Complete(c.Request.Context(), id, actorId(c))
	respond(c, transfer, err)
}

func (h *Handler) ResolveApprovers(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transfer, err := h.engine().Transfers.ResolvePendingApprovers(c.Request.Context(), id, actorId(c))
	respond(c, transfer, err)
}
