package portfolio

import (
	"testing"

	"portfolioPro/internal/database"
)

func fullProfile() database.Profile {
	return database.Profile{
		FirstName: "John",
		LastName:  "Doe",
		Email:     "john@example.com",
		Contact:   "9876543210",
		Address:   "123 Main St",
		PinCode:   "123456",
	}
}

func TestCalculateEmpty(t *testing.T) {
	p := Calculate(Snapshot{})
	if p.Completed != 0 || p.Percentage != 0 || p.Width != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if len(p.Steps) != SectionCount {
		t.Fatalf("steps = %d, want %d", len(p.Steps), SectionCount)
	}
}

func TestCalculatePersonalInfoOnly(t *testing.T) {
	p := Calculate(Snapshot{Profile: fullProfile()})
	if !p.Steps[StepPersonal1] {
		t.Fatalf("personal1 should be complete")
	}
	if p.Completed != 1 || p.Percentage != 9 {
		t.Fatalf("got %d/%d%%, want 1/9%%", p.Completed, p.Percentage)
	}
}

func TestCalculateBlankFieldsDoNotCount(t *testing.T) {
	profile := fullProfile()
	profile.PinCode = "   "
	profile.Extracurricular = "\t"
	p := Calculate(Snapshot{Profile: profile, SummaryContent: "  "})
	if p.Steps[StepPersonal1] || p.Steps[StepExtras] || p.Steps[StepSummary] {
		t.Fatalf("blank values must not complete a step: %+v", p.Steps)
	}
}

func TestCalculateAllSections(t *testing.T) {
	profile := fullProfile()
	profile.Extracurricular = "Chess club"
	profile.GithubLink = "https://github.com/john"
	s := Snapshot{
		Profile:        profile,
		Education:      1,
		Projects:       2,
		Experience:     1,
		Certifications: 1,
		Skills:         3,
		Languages:      1,
		Hobbies:        1,
		SummaryContent: "Hello",
	}
	p := Calculate(s)
	if p.Completed != SectionCount || p.Percentage != 100 || p.Width != 100 {
		t.Fatalf("unexpected progress %+v", p)
	}
}

func TestCalculateFloorsPercentage(t *testing.T) {
	p := Calculate(Snapshot{Profile: fullProfile(), Education: 1, Projects: 1})
	if p.Percentage != 27 {
		t.Fatalf("percentage = %d, want 27", p.Percentage)
	}
}
