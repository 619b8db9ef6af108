package workflow

import "context"

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

// AuthorizationPort answers the role and permission gates of every component.
type AuthorizationPort interface {
	HasRole(ctx context.Context, userId int, role string) bool
	HasPermission(ctx context.Context, userId int, permission string) bool
}

// ApproverDirectory resolves the user holding role for a warehouse.
// ok is false when nobody holds it.
type ApproverDirectory interface {
	FindApproverForLevel(ctx context.Context, warehouseId int, role string) (userId int, ok bool, err error)
}

// Notifier delivers events fire-and-forget. Implementations must not block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, event string, payload any)
}

// DecisionLocker serializes decisions on one key across instances.
type DecisionLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}
