package types

import (
	"errors"
	"testing"
	"time"
)

func TestEntityValidation(t *testing.T) {
	tests := []struct {
		name    string
		entity  Entity
		wantErr error
	}{
		{
			name:    "valid entity",
			entity:  Entity{Name: "SAP GmbH", Type: EntityTypeOrganization, Confidence: 0.9},
			wantErr: nil,
		},
		{
			name:    "empty name",
			entity:  Entity{Name: "", Confidence: 0.5},
			wantErr: ErrEmptyName,
		},
		{
			name:    "confidence above one",
			entity:  Entity{Name: "x", Confidence: 1.2},
			wantErr: ErrBadConfidence,
		},
		{
			name:    "negative confidence",
			entity:  Entity{Name: "x", Confidence: -0.1},
			wantErr: ErrBadConfidence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entity.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Entity.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SAP GmbH", "sap gmbh"},
		{"  SAP   GmbH  ", "sap gmbh"},
		{"SAP GmbH ", "sap gmbh"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIntervalNeverResurrected(t *testing.T) {
	e := Entity{Name: "x", Confidence: 0.5}
	if !e.CurrentlyValid() {
		t.Fatal("new entity should be currently valid")
	}

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Invalidate(first)
	if e.CurrentlyValid() {
		t.Fatal("invalidated entity should not be currently valid")
	}

	// A second invalidation must not move the end of the interval.
	e.Invalidate(first.Add(24 * time.Hour))
	if !e.Validity.End.Equal(first) {
		t.Errorf("valid_to moved on re-invalidation: got %v, want %v", e.Validity.End, first)
	}
}

func TestMergeEntities(t *testing.T) {
	winner := &Entity{
		Name:          "SAP GmbH",
		CanonicalName: "sap gmbh",
		Type:          EntityTypeOrganization,
		Confidence:    0.6,
		Aliases:       []string{"SAP"},
		OccurrenceCount: 3,
	}
	loser := &Entity{
		Name:          "SAP SE",
		CanonicalName: "sap se",
		Type:          EntityTypeOrganization,
		Confidence:    0.9,
		Aliases:       []string{"SAP", "Systemanalyse Programmentwicklung"},
		OccurrenceCount: 2,
	}

	MergeEntities(winner, loser)

	if winner.Confidence != 0.9 {
		t.Errorf("merged confidence = %v, want max 0.9", winner.Confidence)
	}
	if winner.OccurrenceCount != 5 {
		t.Errorf("merged occurrence count = %d, want 5", winner.OccurrenceCount)
	}

	wantAliases := map[string]bool{"SAP": true, "SAP SE": true, "Systemanalyse Programmentwicklung": true}
	if len(winner.Aliases) != len(wantAliases) {
		t.Fatalf("merged aliases = %v", winner.Aliases)
	}
	for _, a := range winner.Aliases {
		if !wantAliases[a] {
			t.Errorf("unexpected alias %q", a)
		}
		if CanonicalName(a) == winner.CanonicalName {
			t.Errorf("winner's own name must not appear in aliases: %q", a)
		}
	}
}

func TestValidationLevelOrdering(t *testing.T) {
	e := &ExtractedEntity{}
	e.Confirm(TemplateConfirmed)
	e.Confirm(LLMConfirmed)
	e.Confirm(TemplateConfirmed) // lower level must not downgrade

	if e.ValidationLevel != LLMConfirmed {
		t.Errorf("validation level = %v, want %v", e.ValidationLevel, LLMConfirmed)
	}
	if e.VerificationCount != 3 {
		t.Errorf("verification count = %d, want 3", e.VerificationCount)
	}
}

func TestValidationLevelScores(t *testing.T) {
	tests := []struct {
		level ValidationLevel
		want  float64
	}{
		{Unvalidated, 0.1},
		{TemplateConfirmed, 0.4},
		{LLMConfirmed, 0.6},
		{GraphConfirmed, 0.8},
		{CrossValidated, 1.0},
	}
	for _, tt := range tests {
		if got := tt.level.Score(); got != tt.want {
			t.Errorf("%v.Score() = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestErrorTaxonomyMatching(t *testing.T) {
	wrapped := NewCollaboratorError("completion", errors.New("timeout"))
	if !errors.Is(wrapped, &CollaboratorError{}) {
		t.Error("CollaboratorError should match via errors.Is")
	}
	if errors.Is(wrapped, &ConflictError{}) {
		t.Error("CollaboratorError must not match ConflictError")
	}

	conflict := &ConflictError{EntityID: "e1", Expected: 2}
	if !errors.Is(conflict, &ConflictError{}) {
		t.Error("ConflictError should match via errors.Is")
	}
}
