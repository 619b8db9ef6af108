package config

import (
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/stageflow_backend/models"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
)

// workflowFile mirrors the TOML layout. Decimal fields are quoted strings to keep exact precision.
type workflowFile struct {
	Stages                 []models.StageConfig              `toml:"stages"`
	TransferBoundaries     []models.TransferBoundary         `toml:"transfer_boundaries"`
	ApprovalChains         map[string][]models.ApprovalLevel `toml:"approval_chains"`
	WeightTolerancePercent string                            `toml:"weight_tolerance_percent"`
	LowStockThreshold      string                            `toml:"low_stock_threshold"`
	AutoSelectMaterials    *bool                             `toml:"auto_select_materials"`
	Users                  []DirectoryUser                   `toml:"users"`
}

// LoadWorkflowConfig reads the file named by WORKFLOW_CONFIG. Without it the defaults are returned.
func LoadWorkflowConfig() (models.WorkflowConfig, *StaticDirectory, error) {
	path := strings.TrimSpace(os.Getenv("WORKFLOW_CONFIG"))
	if path == "" {
		cfg := models.DefaultWorkflowConfig()
		return cfg, NewStaticDirectory(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowConfig{}, nil, fmt.Errorf("read workflow config %s: %w", path, err)
	}
	return ParseWorkflowConfig(data)
}

// ParseWorkflowConfig overlays the TOML document on the defaults and validates the result.
// Stages are merged by key, approval chains by category; transfer_boundaries replaces the list when present.
func ParseWorkflowConfig(data []byte) (models.WorkflowConfig, *StaticDirectory, error) {
	var file workflowFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return models.WorkflowConfig{}, nil, fmt.Errorf("parse workflow config: %w", err)
	}

	cfg := models.DefaultWorkflowConfig()
	for _, sc := range file.Stages {
		sc.Stage = normalizeStage(sc.Stage)
		replaced := false
		for i := range cfg.Stages {
			if cfg.Stages[i].Stage == sc.Stage {
				cfg.Stages[i] = sc
				replaced = true
				break
			}
		}
		if !replaced {
			cfg.Stages = append(cfg.Stages, sc)
		}
	}
	if file.TransferBoundaries != nil {
		cfg.TransferBoundaries = make([]models.TransferBoundary, 0, len(file.TransferBoundaries))
		for _, b := range file.TransferBoundaries {
			b.Stage = normalizeStage(b.Stage)
			cfg.TransferBoundaries = append(cfg.TransferBoundaries, b)
		}
	}
	for category, chain := range file.ApprovalChains {
		cfg.ApprovalChains[category] = chain
	}
	if file.WeightTolerancePercent != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(file.WeightTolerancePercent))
		if err != nil {
			return models.WorkflowConfig{}, nil, fmt.Errorf("weight_tolerance_percent: %w", err)
		}
		cfg.WeightTolerancePercent = d
	}
	if file.LowStockThreshold != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(file.LowStockThreshold))
		if err != nil {
			return models.WorkflowConfig{}, nil, fmt.Errorf("low_stock_threshold: %w", err)
		}
		cfg.LowStockThreshold = d
	}
	if file.AutoSelectMaterials != nil {
		cfg.AutoSelectMaterials = *file.AutoSelectMaterials
	}
	if err := cfg.Validate(); err != nil {
		return models.WorkflowConfig{}, nil, err
	}
	return cfg, NewStaticDirectory(file.Users), nil
}

func normalizeStage(s models.Stage) models.Stage {
	if parsed, err := models.ParseStage(string(s)); err == nil {
		return parsed
	}
	return s
}
