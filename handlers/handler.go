package handlers

import (
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
	"bitbucket.org/mmdatafocus/stageflow_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler exposes the workflow engine over HTTP. The engine is resolved per request
// because the server starts listening before the database is connected.
type Handler struct {
	engine func() *workflow.Engine
}

func NewHandler(engine func() *workflow.Engine) *Handler {
	return &Handler{engine: engine}
}

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// respond renders the operation outcome as a Result with the status its error code maps to.
func respond(c *gin.Context, data any, err error) {
	result := workflow.NewResult(data, err)
	if err != nil && result.ErrorCode == workflow.CodeStorageError {
		_ = c.Error(err)
	}
	c.JSON(result.HTTPStatus(), result)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, workflow.Result{
		ErrorCode: workflow.CodeInvalidInput,
		Message:   msg,
	})
}

func actorId(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// bind decodes an optional JSON body. An empty body leaves dst untouched.
func bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}
