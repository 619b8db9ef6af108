package models

type OrderStatus string

const (
	OrderStatusDraft       OrderStatus = "draft"
	OrderStatusUnderReview OrderStatus = "under_review"
	OrderStatusConfirmed   OrderStatus = "confirmed"
	OrderStatusInProgress  OrderStatus = "in_progress"
	OrderStatusCompleted   OrderStatus = "completed"
	OrderStatusCancelled   OrderStatus = "cancelled"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusDraft:       1,
	OrderStatusUnderReview: 2,
	OrderStatusConfirmed:   3,
	OrderStatusInProgress:  4,
	OrderStatusCompleted:   5,
}

// CanAdvanceTo enforces monotonic status changes. Cancellation is handled separately.
func (s OrderStatus) CanAdvanceTo(target OrderStatus) bool {
	from, ok := orderStatusRank[s]
	if !ok {
		return false
	}
	to, ok := orderStatusRank[target]
	if !ok {
		return false
	}
	return to >= from
}

// IsCancellable is true only before physical processing starts.
func (s OrderStatus) IsCancellable() bool {
	switch s {
	case OrderStatusDraft, OrderStatusUnderReview, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusCompleted  StageStatus = "completed"
	StageStatusSkipped    StageStatus = "skipped"
)

func (s StageStatus) IsClosed() bool {
	return s == StageStatusCompleted || s == StageStatusSkipped
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusApproved  TransferStatus = "approved"
	TransferStatusRejected  TransferStatus = "rejected"
	TransferStatusCompleted TransferStatus = "completed"
)

func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusRejected || s == TransferStatusCompleted
}

type InventoryRequestStatus string

const (
	InventoryRequestStatusPending   InventoryRequestStatus = "pending"
	InventoryRequestStatusCompleted InventoryRequestStatus = "completed"
	InventoryRequestStatusCancelled InventoryRequestStatus = "cancelled"
)

type InventoryRequestSide string

const (
	InventoryRequestSideSource      InventoryRequestSide = "source"
	InventoryRequestSideDestination InventoryRequestSide = "destination"
)

type OrderMaterialStatus string

const (
	OrderMaterialStatusReserved OrderMaterialStatus = "reserved"
	OrderMaterialStatusReleased OrderMaterialStatus = "released"
	OrderMaterialStatusConsumed OrderMaterialStatus = "consumed"
)

type ProcessingStatus string

const (
	ProcessingStatusPending           ProcessingStatus = "pending"
	ProcessingStatusRecorded          ProcessingStatus = "recorded"
	ProcessingStatusTransferRequested ProcessingStatus = "transfer_requested"
	ProcessingStatusTransferred       ProcessingStatus = "transferred"
)

type StockMovementKind string

const (
	StockMovementReserve   StockMovementKind = "reserve"
	StockMovementRelease   StockMovementKind = "release"
	StockMovementCommitOut StockMovementKind = "commit_out"
	StockMovementCommitIn  StockMovementKind = "commit_in"
	StockMovementAdd       StockMovementKind = "add"
	StockMovementRemove    StockMovementKind = "remove"
	StockMovementConsume   StockMovementKind = "consume"
)

type WarehouseSide string

const (
	WarehouseSideSource      WarehouseSide = "source"
	WarehouseSideDestination WarehouseSide = "destination"
)

// reference types written on stock movements and approval history
const (
	ReferenceTypeOrder          = "order"
	ReferenceTypeOrderMaterial  = "order_material"
	ReferenceTypeProcessing     = "order_processing"
	ReferenceTypeWeightTransfer = "weight_transfer"
	ReferenceTypeAdjustment     = "adjustment"
)
