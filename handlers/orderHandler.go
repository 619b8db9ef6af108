package handlers

import (
	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
)

type stageApprovalRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var input models.NewOrder
	if !bind(c, &input) {
		return
	}
	order, err := h.engine().Stages.CreateOrder(c.Request.Context(), actorId(c), &input)
	respond(c, order, err)
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	order, err := h.engine().Stages.GetOrder(c.Request.Context(), id)
	respond(c, order, err)
}

func (h *Handler) CompleteStage(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req notesRequest
	if !bind(c, &req) {
		return
	}
	stage, err := h.engine().Stages.CompleteStage(c.Request.Context(), id, actorId(c), req.Notes)
	respond(c, stage, err)
}

func (h *Handler) DecideStageApproval(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req stageApprovalRequest
	if !bind(c, &req) {
		return
	}
	stage, err := h.engine().Stages.DecideStageApproval(c.Request.Context(), id, actorId(c), req.Approve, req.Notes)
	respond(c, stage, err)
}

func (h *Handler) MoveToNextStage(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	order, err := h.engine().Stages.MoveToNextStage(c.Request.Context(), id, actorId(c))
	respond(c, order, err)
}

func (h *Handler) SkipStage(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	order, err := h.engine().Stages.SkipStage(c.Request.Context(), id, actorId(c), req.Reason)
	respond(c, order, err)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !bind(c, &req) {
		return
	}
	order, err := h.engine().Stages.CancelOrder(c.Request.Context(), id, actorId(c), req.Reason)
	respond(c, order, err)
}

func (h *Handler) SelectMaterials(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var input workflow.SelectMaterialsInput
	if !bind(c, &input) {
		return
	}
	materials, err := h.engine().Selector.SelectMaterials(c.Request.Context(), id, actorId(c), input)
	respond(c, materials, err)
}

func (h *Handler) ListOrderMaterials(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	materials, err := h.engine().Selector.ListOrderMaterials(c.Request.Context(), id)
	respond(c, materials, err)
}

// ListProcessingUnits accepts an optional ?stage= filter.
func (h *Handler) ListProcessingUnits(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var stage models.Stage
	if raw := c.Query("stage"); raw != "" {
		parsed, err := models.ParseStage(raw)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		stage = parsed
	}
	units, err := h.engine().Processor.ListUnits(c.Request.Context(), id, stage)
	respond(c, units, err)
}

func (h *Handler) ListWaste(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	waste, err := h.engine().Processor.ListWaste(c.Request.Context(), id)
	respond(c, waste, err)
}

func (h *Handler) ListOrderTransfers(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	transfers, err := h.engine().Transfers.ListTransfers(c.Request.Context(), id)
	respond(c, transfers, err)
}
