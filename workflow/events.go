package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"github.com/shopspring/decimal"
)

const (
	EventStockAlert         = "stock_alert"
	EventApprovalRequested  = "approval_requested"
	EventApproverUnresolved = "approver_unresolved"
	EventTransferApproved   = "transfer_approved"
	EventTransferRejected   = "transfer_rejected"
	EventTransferCompleted  = "transfer_completed"
	EventMaterialShortage   = "material_shortage"
	EventStageAdvanced      = "stage_advanced"
	EventStageSkipped       = "stage_skipped"
	EventOrderCompleted     = "order_completed"
	EventOrderCancelled     = "order_cancelled"
)

type StockAlert struct {
	StockId     int             `json:"stock_id"`
	ProductId   int             `json:"product_id"`
	WarehouseId int             `json:"warehouse_id"`
	Available   decimal.Decimal `json:"available"`
	Threshold   decimal.Decimal `json:"threshold"`
}

type ApprovalRequest struct {
	WeightTransferId int    `json:"weight_transfer_id"`
	OrderId          int    `json:"order_id"`
	Sequence         int    `json:"sequence"`
	Role             string `json:"role"`
	WarehouseId      int    `json:"warehouse_id"`
	ApproverId       *int   `json:"approver_id"`
}

type TransferEvent struct {
	WeightTransferId int                   `json:"weight_transfer_id"`
	OrderId          int                   `json:"order_id"`
	Status           models.TransferStatus `json:"status"`
	ActorId          int                   `json:"actor_id"`
	Reason           string                `json:"reason,omitempty"`
}

type MaterialShortage struct {
	OrderId   int             `json:"order_id"`
	ProductId int             `json:"product_id"`
	Required  decimal.Decimal `json:"required"`
	Message   string          `json:"message"`
}

type StageEvent struct {
	OrderId int          `json:"order_id"`
	From    models.Stage `json:"from"`
	To      models.Stage `json:"to,omitempty"`
	ActorId int          `json:"actor_id"`
	Reason  string       `json:"reason,omitempty"`
}

type OrderEvent struct {
	OrderId  int                `json:"order_id"`
	Status   models.OrderStatus `json:"status"`
	ActorId  int                `json:"actor_id"`
	Released decimal.Decimal    `json:"released"`
	Reason   string             `json:"reason,omitempty"`
}

type queuedEvent struct {
	name    string
	payload any
}

// outbox collects events raised inside a transaction; they are only sent once it commits.
type outbox struct {
	events []queuedEvent
}

func (o *outbox) add(name string, payload any) {
	o.events = append(o.events, queuedEvent{name: name, payload: payload})
}

func (o *outbox) flush(ctx context.Context, n Notifier) {
	if n == nil {
		o.events = nil
		return
	}
	for _, ev := range o.events {
		n.Notify(ctx, ev.name, ev.payload)
	}
	o.events = nil
}
