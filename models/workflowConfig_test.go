package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultWorkflowConfigIsValid(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RoleForStage(StageSorting) != "sorting_supervisor" {
		t.Fatalf("unexpected sorting role %q", cfg.RoleForStage(StageSorting))
	}
	b, ok := cfg.BoundaryEntering(StageCutting)
	if !ok || b.Category != TransferCategorySortedMaterial {
		t.Fatalf("cutting must be entered across the sorted_material boundary, got %+v", b)
	}
	if _, ok := cfg.BoundaryEntering(StageSorting); ok {
		t.Fatal("sorting has no inbound boundary")
	}
	if len(cfg.ApprovalChain(TransferCategoryCutMaterial)) != 3 {
		t.Fatal("cut_material chain must have three levels")
	}
}

func TestWorkflowConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *WorkflowConfig)
		want   string
	}{
		{name: "unknown stage", mutate: func(c *WorkflowConfig) { c.Stages[0].Stage = "creaton" }, want: "unknown stage"},
		{name: "missing role", mutate: func(c *WorkflowConfig) { c.Stages[1].Role = "" }, want: "has no role"},
		{name: "zero tolerance", mutate: func(c *WorkflowConfig) { c.WeightTolerancePercent = decimal.Zero }, want: "tolerance"},
		{name: "empty chain", mutate: func(c *WorkflowConfig) { c.ApprovalChains[TransferCategoryCutMaterial] = nil }, want: "no approval levels"},
		{name: "duplicate role", mutate: func(c *WorkflowConfig) {
			c.ApprovalChains[TransferCategoryCutMaterial][1].Role = "cutting_warehouse_manager"
		}, want: "listed twice"},
		{name: "terminal boundary", mutate: func(c *WorkflowConfig) { c.TransferBoundaries[0].Stage = StageDelivery }, want: "invalid stage"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultWorkflowConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
