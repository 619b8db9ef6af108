package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// StageConfig binds a stage to the role allowed to drive it.
type StageConfig struct {
	Stage            Stage  `toml:"stage"`
	Role             string `toml:"role"`
	RequiresApproval bool   `toml:"requires_approval"`
	ApproverRole     string `toml:"approver_role"`
}

// ApprovalLevel is one step of a transfer approval chain. WarehouseSide names the
// warehouse whose manager is resolved for the step.
type ApprovalLevel struct {
	Role          string        `toml:"role"`
	WarehouseSide WarehouseSide `toml:"warehouse_side"`
}

// TransferBoundary declares that leaving Stage moves the processed weight to
// DestinationWarehouseId under Category.
type TransferBoundary struct {
	Stage                  Stage  `toml:"stage"`
	Category               string `toml:"category"`
	DestinationWarehouseId int    `toml:"destination_warehouse_id"`
}

// WorkflowConfig is passed explicitly into the workflow components at construction.
type WorkflowConfig struct {
	Stages                 []StageConfig              `toml:"stages"`
	TransferBoundaries     []TransferBoundary         `toml:"transfer_boundaries"`
	ApprovalChains         map[string][]ApprovalLevel `toml:"approval_chains"`
	WeightTolerancePercent decimal.Decimal            `toml:"-"`
	LowStockThreshold      decimal.Decimal            `toml:"-"`
	AutoSelectMaterials    bool                       `toml:"auto_select_materials"`
}

const (
	TransferCategorySortedMaterial = "sorted_material"
	TransferCategoryCutMaterial    = "cut_material"
)

const (
	PermissionCancelOrder            = "cancel_order"
	PermissionSkipStage              = "skip_stage"
	PermissionCompleteWeightTransfer = "complete_weight_transfer"
	PermissionRequestWeightTransfer  = "request_weight_transfer"
	PermissionManageStock            = "manage_stock"
	PermissionCreateOrder            = "create_order"
)

// default warehouses used when no configuration file overrides them
const (
	DefaultCuttingWarehouseId   = 2
	DefaultPackagingWarehouseId = 3
)

func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Stages: []StageConfig{
			{Stage: StageCreation, Role: "sales_officer"},
			{Stage: StageReview, Role: "order_reviewer", RequiresApproval: true, ApproverRole: "production_manager"},
			{Stage: StageMaterialReservation, Role: "warehouse_manager"},
			{Stage: StageSorting, Role: "sorting_supervisor"},
			{Stage: StageCutting, Role: "cutting_supervisor"},
			{Stage: StagePackaging, Role: "packaging_supervisor"},
			{Stage: StageInvoicing, Role: "accountant"},
			{Stage: StageDelivery, Role: "delivery_manager"},
		},
		TransferBoundaries: []TransferBoundary{
			{Stage: StageSorting, Category: TransferCategorySortedMaterial, DestinationWarehouseId: DefaultCuttingWarehouseId},
			{Stage: StageCutting, Category: TransferCategoryCutMaterial, DestinationWarehouseId: DefaultPackagingWarehouseId},
		},
		ApprovalChains: map[string][]ApprovalLevel{
			TransferCategorySortedMaterial: {
				{Role: "cutting_warehouse_manager", WarehouseSide: WarehouseSideDestination},
			},
			TransferCategoryCutMaterial: {
				{Role: "cutting_warehouse_manager", WarehouseSide: WarehouseSideSource},
				{Role: "packaging_warehouse_manager", WarehouseSide: WarehouseSideDestination},
				{Role: "delivery_manager", WarehouseSide: WarehouseSideDestination},
			},
		},
		WeightTolerancePercent: decimal.RequireFromString("0.5"),
		LowStockThreshold:      decimal.Zero,
		AutoSelectMaterials:    true,
	}
}

// StageConfigFor returns the configuration of stage, false when it is not configured.
func (c WorkflowConfig) StageConfigFor(stage Stage) (StageConfig, bool) {
	for _, sc := range c.Stages {
		if sc.Stage == stage {
			return sc, true
		}
	}
	return StageConfig{}, false
}

// RoleForStage is the role mapped to stage, empty when unmapped.
func (c WorkflowConfig) RoleForStage(stage Stage) string {
	sc, _ := c.StageConfigFor(stage)
	return sc.Role
}

// BoundaryLeaving returns the transfer implied by leaving stage.
func (c WorkflowConfig) BoundaryLeaving(stage Stage) (TransferBoundary, bool) {
	for _, b := range c.TransferBoundaries {
		if b.Stage == stage {
			return b, true
		}
	}
	return TransferBoundary{}, false
}

// BoundaryEntering returns the transfer boundary whose destination is stage.
func (c WorkflowConfig) BoundaryEntering(stage Stage) (TransferBoundary, bool) {
	for _, b := range c.TransferBoundaries {
		if next, ok := b.Stage.Next(); ok && next == stage {
			return b, true
		}
	}
	return TransferBoundary{}, false
}

func (c WorkflowConfig) ApprovalChain(category string) []ApprovalLevel {
	return c.ApprovalChains[category]
}

func (c WorkflowConfig) Validate() error {
	if len(c.Stages) == 0 {
		return errors.New("workflow.stages must not be empty")
	}
	seen := make(map[Stage]bool, len(c.Stages))
	for _, sc := range c.Stages {
		if !sc.Stage.IsValid() {
			return fmt.Errorf("workflow.stages: unknown stage %q", sc.Stage)
		}
		if seen[sc.Stage] {
			return fmt.Errorf("workflow.stages: stage %q configured twice", sc.Stage)
		}
		seen[sc.Stage] = true
		if sc.Role == "" {
			return fmt.Errorf("workflow.stages: stage %q has no role", sc.Stage)
		}
		if sc.RequiresApproval && sc.ApproverRole == "" {
			return fmt.Errorf("workflow.stages: stage %q requires approval but has no approver_role", sc.Stage)
		}
	}
	for _, s := range AllStages() {
		if !seen[s] {
			return fmt.Errorf("workflow.stages: stage %q is missing", s)
		}
	}
	for _, b := range c.TransferBoundaries {
		if !b.Stage.IsValid() || b.Stage.IsTerminal() {
			return fmt.Errorf("workflow.transfer_boundaries: invalid stage %q", b.Stage)
		}
		if b.DestinationWarehouseId <= 0 {
			return fmt.Errorf("workflow.transfer_boundaries: stage %q needs destination_warehouse_id", b.Stage)
		}
		if len(c.ApprovalChains[b.Category]) == 0 {
			return fmt.Errorf("workflow.approval_chains: category %q has no approval levels", b.Category)
		}
	}
	for category, chain := range c.ApprovalChains {
		roles := make(map[string]bool, len(chain))
		for _, level := range chain {
			if level.Role == "" {
				return fmt.Errorf("workflow.approval_chains.%s: level without role", category)
			}
			if roles[level.Role] {
				return fmt.Errorf("workflow.approval_chains.%s: role %q listed twice", category, level.Role)
			}
			roles[level.Role] = true
			switch level.WarehouseSide {
			case WarehouseSideSource, WarehouseSideDestination:
			default:
				return fmt.Errorf("workflow.approval_chains.%s: invalid warehouse_side %q", category, level.WarehouseSide)
			}
		}
	}
	if !c.WeightTolerancePercent.IsPositive() {
		return errors.New("workflow.weight_tolerance_percent must be positive")
	}
	if c.LowStockThreshold.IsNegative() {
		return errors.New("workflow.low_stock_threshold must not be negative")
	}
	return nil
}
