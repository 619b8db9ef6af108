package models

import (
	"errors"
	"strings"
)

// Stage is one ordered phase of physical order fulfilment.
type Stage string

const (
	StageCreation            Stage = "creation"
	StageReview              Stage = "review"
	StageMaterialReservation Stage = "material_reservation"
	StageSorting             Stage = "sorting"
	StageCutting             Stage = "cutting"
	StagePackaging           Stage = "packaging"
	StageInvoicing           Stage = "invoicing"
	StageDelivery            Stage = "delivery"
)

var allStages = []Stage{
	StageCreation,
	StageReview,
	StageMaterialReservation,
	StageSorting,
	StageCutting,
	StagePackaging,
	StageInvoicing,
	StageDelivery,
}

var stageLabels = map[Stage]string{
	StageCreation:            "إنشاء",
	StageReview:              "مراجعة",
	StageMaterialReservation: "حجز_المواد",
	StageSorting:             "فرز",
	StageCutting:             "قص",
	StagePackaging:           "تعبئة",
	StageInvoicing:           "فوترة",
	StageDelivery:            "تسليم",
}

var stagePositions = func() map[Stage]int {
	m := make(map[Stage]int, len(allStages))
	for i, s := range allStages {
		m[s] = i + 1
	}
	return m
}()

// forward transitions; the terminal stage has no entry
var nextStage = map[Stage]Stage{
	StageCreation:            StageReview,
	StageReview:              StageMaterialReservation,
	StageMaterialReservation: StageSorting,
	StageSorting:             StageCutting,
	StageCutting:             StagePackaging,
	StagePackaging:           StageInvoicing,
	StageInvoicing:           StageDelivery,
}

// AllStages returns the ordered stage list.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage accepts either the stored key or the Arabic label.
func ParseStage(value string) (Stage, error) {
	v := strings.TrimSpace(value)
	if _, ok := stagePositions[Stage(strings.ToLower(v))]; ok {
		return Stage(strings.ToLower(v)), nil
	}
	for s, label := range stageLabels {
		if label == v {
			return s, nil
		}
	}
	return "", errors.New("invalid stage")
}

func (s Stage) IsValid() bool {
	_, ok := stagePositions[s]
	return ok
}

// Position is the 1-based place of the stage in the workflow; 0 for unknown stages.
func (s Stage) Position() int {
	return stagePositions[s]
}

func (s Stage) Label() string {
	return stageLabels[s]
}

// Next returns the following stage, false on the terminal stage.
func (s Stage) Next() (Stage, bool) {
	n, ok := nextStage[s]
	return n, ok
}

func (s Stage) IsTerminal() bool {
	_, ok := nextStage[s]
	return s.IsValid() && !ok
}

func (s Stage) IsProcessing() bool {
	return s == StageSorting || s == StageCutting
}

// CanTransitionTo reports whether target is the single legal forward step from s.
func (s Stage) CanTransitionTo(target Stage) bool {
	n, ok := nextStage[s]
	return ok && n == target
}

// EntryStatus is the order status implied by entering the stage.
func (s Stage) EntryStatus() OrderStatus {
	switch s {
	case StageCreation:
		return OrderStatusDraft
	case StageReview:
		return OrderStatusUnderReview
	case StageMaterialReservation:
		return OrderStatusConfirmed
	default:
		return OrderStatusInProgress
	}
}
