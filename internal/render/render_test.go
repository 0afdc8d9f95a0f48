package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"portfolioPro/internal/database"
	"portfolioPro/internal/portfolio"
)

func sampleView(theme string) *portfolio.View {
	end := 2022
	endMonth := 5
	return &portfolio.View{
		Username:     "jdoe",
		Person:       portfolio.PersonalInfo1{FirstName: "John", LastName: "Doe", Email: "john@example.com"},
		Social:       portfolio.PersonalInfo2{GithubLink: "https://github.com/jdoe"},
		Summary:      "Backend engineer <script>alert(1)</script>",
		TemplateFile: theme,
		Education:    []database.Education{{Institution: "MIT", Degree: "BSc", StartMonth: 8, StartYear: 2018, EndMonth: &endMonth, EndYear: &end}},
		Projects: []portfolio.ProjectView{{
			Project:      database.Project{Title: "Tracker", Description: "Habit tracking", ProjectType: "personal"},
			Technologies: []string{"Go", "Redis"},
		}},
		Skills: []database.Skill{{Name: "Go", Level: "Expert"}},
	}
}

func TestPortfolioThemes(t *testing.T) {
	r := MustNew()
	for _, theme := range Themes {
		var buf bytes.Buffer
		if err := r.Portfolio(&buf, sampleView(theme)); err != nil {
			t.Fatalf("%s: %v", theme, err)
		}
		html := buf.String()
		for _, want := range []string{"John Doe", "theme-" + theme, "Aug 2018 – May 2022", "<li>Redis</li>", "https://github.com/jdoe"} {
			if !strings.Contains(html, want) {
				t.Fatalf("%s: missing %q", theme, want)
			}
		}
		if strings.Contains(html, "<script>alert") {
			t.Fatalf("%s: summary not escaped", theme)
		}
	}
}

func TestPortfolioFallsBackToDefaultTheme(t *testing.T) {
	r := MustNew()
	var buf bytes.Buffer
	if err := r.Portfolio(&buf, sampleView("portfolio1.html")); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "theme-"+portfolio.DefaultTemplateFile) {
		t.Fatalf("expected default theme")
	}
}

func TestPortfolioPhotoDataURI(t *testing.T) {
	r := MustNew()
	v := sampleView("modern")
	v.PhotoURL = "data:image/png;base64,AAAA"
	var buf bytes.Buffer
	if err := r.Portfolio(&buf, v); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), `src="data:image/png;base64,AAAA"`) {
		t.Fatalf("photo not inlined")
	}

	v.PhotoURL = "javascript:alert(1)"
	buf.Reset()
	_ = r.Portfolio(&buf, v)
	if strings.Contains(buf.String(), "javascript:") {
		t.Fatalf("unsafe photo url rendered")
	}
}

func TestInvoiceAndRoster(t *testing.T) {
	r := MustNew()
	var buf bytes.Buffer
	err := r.Invoice(&buf, InvoiceData{Number: "INV-2025-0007", Date: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), Username: "ann", AmountRupees: 1499})
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if !strings.Contains(buf.String(), "INV-2025-0007") || !strings.Contains(buf.String(), "1499.00") || !strings.Contains(buf.String(), "04 Mar 2025") {
		t.Fatalf("unexpected invoice html")
	}

	buf.Reset()
	err = r.Roster(&buf, RosterData{AgentName: "Agent A", GeneratedAt: time.Now(), Students: []RosterRow{{Name: "S One", Email: "s1@example.com", Status: "approved", InvitedOn: time.Now(), ProfileStatus: "Pending"}}})
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if !strings.Contains(buf.String(), "<td>1</td><td>S One</td>") {
		t.Fatalf("unexpected roster html")
	}
}
