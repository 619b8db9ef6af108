package models

import "testing"

func TestStageOrderIsTotal(t *testing.T) {
	stages := AllStages()
	if len(stages) != 8 {
		t.Fatalf("expected 8 stages, got %d", len(stages))
	}
	for i, s := range stages {
		if s.Position() != i+1 {
			t.Fatalf("stage %s: position %d, want %d", s, s.Position(), i+1)
		}
		next, ok := s.Next()
		if i == len(stages)-1 {
			if ok || !s.IsTerminal() {
				t.Fatalf("delivery must be terminal")
			}
			continue
		}
		if !ok || next != stages[i+1] {
			t.Fatalf("stage %s: next %s, want %s", s, next, stages[i+1])
		}
	}
}

func TestStageTransitionsOnlyForwardOneStep(t *testing.T) {
	if !StageSorting.CanTransitionTo(StageCutting) {
		t.Fatal("sorting -> cutting must be legal")
	}
	if StageSorting.CanTransitionTo(StagePackaging) {
		t.Fatal("sorting -> packaging skips a stage")
	}
	if StageCutting.CanTransitionTo(StageSorting) {
		t.Fatal("backward transitions are not legal")
	}
	if StageDelivery.CanTransitionTo(StageCreation) {
		t.Fatal("terminal stage has no transitions")
	}
}

func TestParseStage(t *testing.T) {
	cases := map[string]Stage{
		"sorting":     StageSorting,
		" CUTTING ":   StageCutting,
		"حجز_المواد": StageMaterialReservation,
		"تسليم":       StageDelivery,
	}
	for in, want := range cases {
		got, err := ParseStage(in)
		if err != nil || got != want {
			t.Fatalf("ParseStage(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseStage("sortingg"); err == nil {
		t.Fatal("typo must not parse")
	}
}

func TestOrderStatusMonotonic(t *testing.T) {
	if !OrderStatusDraft.CanAdvanceTo(OrderStatusUnderReview) {
		t.Fatal("draft -> under_review")
	}
	if OrderStatusInProgress.CanAdvanceTo(OrderStatusConfirmed) {
		t.Fatal("in_progress -> confirmed goes backwards")
	}
	if OrderStatusCancelled.CanAdvanceTo(OrderStatusCompleted) {
		t.Fatal("cancelled is closed")
	}
	if OrderStatusInProgress.IsCancellable() {
		t.Fatal("in_progress cannot be cancelled")
	}
	if !OrderStatusConfirmed.IsCancellable() {
		t.Fatal("confirmed can be cancelled")
	}
}
