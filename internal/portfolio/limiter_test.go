package portfolio

import (
	"errors"
	"testing"

	"portfolioPro/internal/database"
)

func uintPtr(v uint) *uint { return &v }

func TestDecideTemplateChange(t *testing.T) {
	atLimit := database.Profile{TemplateChangeCount: 50, MaxTemplateChanges: 50}
	below := database.Profile{TemplateChangeCount: 3, MaxTemplateChanges: 50}

	cases := []struct {
		name    string
		profile database.Profile
		p       database.Portfolio
		tpl     uint
		want    TemplateDecision
		wantErr error
	}{
		{"same template is free", atLimit, database.Portfolio{TemplateID: uintPtr(2)}, 2, TemplateUnchanged, nil},
		{"first selection counts", below, database.Portfolio{}, 1, TemplateChanged, nil},
		{"unpaid at limit", atLimit, database.Portfolio{TemplateID: uintPtr(1)}, 2, TemplateUnchanged, ErrTemplateLimit},
		{"paid ignores limit", atLimit, database.Portfolio{TemplateID: uintPtr(1), IsPaid: true}, 2, TemplateChanged, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecideTemplateChange(tc.profile, tc.p, tc.tpl)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("decision = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRemainingTemplateChanges(t *testing.T) {
	if got := RemainingTemplateChanges(database.Profile{TemplateChangeCount: 60, MaxTemplateChanges: 50}); got != 0 {
		t.Fatalf("remaining = %d", got)
	}
	if got := RemainingTemplateChanges(database.Profile{TemplateChangeCount: 10, MaxTemplateChanges: 50}); got != 40 {
		t.Fatalf("remaining = %d", got)
	}
}
