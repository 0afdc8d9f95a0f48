package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"portfolioPro/internal/database"
	"portfolioPro/internal/dbtest"
	"portfolioPro/internal/validation"
)

func freezeNow(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time { return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = prev })
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func newPortfolio(t *testing.T, db *gorm.DB, username string) (*Store, *database.Portfolio, database.Profile) {
	t.Helper()
	user, profile := dbtest.SeedUser(t, db, username, database.UserTypeNormal)
	dbtest.CompletePersonalInfo(t, db, &profile)
	store := NewStore(db)
	p, created, err := store.Create(context.Background(), user, profile, true)
	if err != nil || !created {
		t.Fatalf("create portfolio: created=%v err=%v", created, err)
	}
	return store, p, profile
}

func fieldErrors(t *testing.T, err error) validation.FieldErrors {
	t.Helper()
	var fe validation.FieldErrors
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
	return fe
}

func TestCreateDecrementsAndReuses(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	user, profile := dbtest.SeedUser(t, db, "alice", database.UserTypeNormal)
	store := NewStore(db)

	p, created, err := store.Create(ctx, user, profile, false)
	if err != nil || !created {
		t.Fatalf("create: created=%v err=%v", created, err)
	}
	if p.Slug != "alice-user-portfolio" || p.Status != database.PortfolioInProgress {
		t.Fatalf("unexpected portfolio %+v", p)
	}

	var reloaded database.Profile
	db.First(&reloaded, profile.ID)
	if reloaded.PortfoliosRemaining != database.DefaultPortfoliosRemaining-1 {
		t.Fatalf("portfolios_remaining = %d", reloaded.PortfoliosRemaining)
	}

	again, created, err := store.Create(ctx, user, reloaded, true)
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
	if again.ID != p.ID {
		t.Fatalf("expected reuse of %d, got %d", p.ID, again.ID)
	}
	db.First(&reloaded, profile.ID)
	if reloaded.PortfoliosRemaining != database.DefaultPortfoliosRemaining-1 {
		t.Fatalf("reuse must not decrement, got %d", reloaded.PortfoliosRemaining)
	}
}

func TestCreateRejectsWithoutSlots(t *testing.T) {
	db := dbtest.Open(t)
	user, profile := dbtest.SeedUser(t, db, "bob", database.UserTypeNormal)
	db.Model(&profile).UpdateColumn("portfolios_remaining", 0)
	profile.PortfoliosRemaining = 0

	_, _, err := NewStore(db).Create(context.Background(), user, profile, true)
	if !errors.Is(err, ErrNoPortfoliosRemaining) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateSlugCollision(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store := NewStore(db)
	u1, p1 := dbtest.SeedUser(t, db, "carol", database.UserTypeNormal)
	if _, _, err := store.Create(ctx, u1, p1, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	// 第二个用户名经 slug 化后与第一个相同。
	u2, p2 := dbtest.SeedUser(t, db, "Carol", database.UserTypeNormal)
	second, _, err := store.Create(ctx, u2, p2, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.Slug != "carol-user-portfolio-1" {
		t.Fatalf("slug = %q", second.Slug)
	}
}

func TestSaveEducationValidates(t *testing.T) {
	freezeNow(t)
	db := dbtest.Open(t)
	store, p, _ := newPortfolio(t, db, "dave")
	ctx := context.Background()

	entries := []map[string]any{
		{"institution": "", "location": "Pune", "degree": "BSc", "start_month": 6, "start_year": 2020},
	}
	err := store.SaveStep(ctx, *p, StepEducation, StepInput{Entries: raw(t, entries)})
	fe := fieldErrors(t, err)
	if _, ok := fe["entries[0].institution"]; !ok {
		t.Fatalf("missing institution error: %v", fe)
	}

	endYear, endMonth := 2019, 1
	entries = []map[string]any{
		{"institution": "MIT", "location": "Pune", "degree": "BSc", "start_month": 6, "start_year": 2020, "end_month": endMonth, "end_year": endYear},
	}
	fe = fieldErrors(t, store.SaveStep(ctx, *p, StepEducation, StepInput{Entries: raw(t, entries)}))
	if _, ok := fe["entries[0].end_year"]; !ok {
		t.Fatalf("missing end date error: %v", fe)
	}

	var n int64
	db.Model(&database.Education{}).Where("portfolio_id = ?", p.ID).Count(&n)
	if n != 0 {
		t.Fatalf("invalid submissions must not persist, got %d rows", n)
	}
}

func TestSaveCollectionCreateUpdateDelete(t *testing.T) {
	freezeNow(t)
	db := dbtest.Open(t)
	store, p, _ := newPortfolio(t, db, "erin")
	ctx := context.Background()

	entries := []map[string]any{
		{"name": "Go", "level": "Expert"},
		{"name": "", "level": ""},
		{"name": "SQL", "level": "Intermediate"},
	}
	if err := store.SaveStep(ctx, *p, StepSkill, StepInput{Entries: raw(t, entries)}); err != nil {
		t.Fatalf("save skills: %v", err)
	}
	var skills []database.Skill
	db.Where("portfolio_id = ?", p.ID).Order("id").Find(&skills)
	if len(skills) != 2 {
		t.Fatalf("blank entry must be ignored, got %d skills", len(skills))
	}

	entries = []map[string]any{
		{"id": skills[0].ID, "name": "Golang", "level": "Expert"},
		{"id": skills[1].ID, "delete": true},
	}
	if err := store.SaveStep(ctx, *p, StepSkill, StepInput{Entries: raw(t, entries)}); err != nil {
		t.Fatalf("update skills: %v", err)
	}
	skills = nil
	db.Where("portfolio_id = ?", p.ID).Find(&skills)
	if len(skills) != 1 || skills[0].Name != "Golang" {
		t.Fatalf("unexpected skills %+v", skills)
	}
}

func TestSaveCollectionCannotTouchOtherPortfolio(t *testing.T) {
	freezeNow(t)
	db := dbtest.Open(t)
	ctx := context.Background()
	store, mine, _ := newPortfolio(t, db, "frank")
	_, theirs, _ := newPortfolio(t, db, "grace")

	foreign := database.Hobby{PortfolioID: theirs.ID, Name: "Chess"}
	db.Create(&foreign)

	entries := []map[string]any{{"id": foreign.ID, "name": "Hijacked"}}
	err := store.SaveStep(ctx, *mine, StepHobby, StepInput{Entries: raw(t, entries)})
	if !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("err = %v", err)
	}
	var reloaded database.Hobby
	db.First(&reloaded, foreign.ID)
	if reloaded.Name != "Chess" || reloaded.PortfolioID != theirs.ID {
		t.Fatalf("foreign entry modified: %+v", reloaded)
	}

	if err := store.DeleteEntry(ctx, *mine, StepHobby, foreign.ID); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("delete foreign: %v", err)
	}
}

func TestSaveProjectRules(t *testing.T) {
	freezeNow(t)
	db := dbtest.Open(t)
	store, p, _ := newPortfolio(t, db, "heidi")
	ctx := context.Background()

	entries := []map[string]any{
		{"title": "Portfolio", "description": "My portfolio site built with Go", "link": "ftp://x"},
		{"title": "ab", "description": "short"},
	}
	fe := fieldErrors(t, store.SaveStep(ctx, *p, StepProject, StepInput{Entries: raw(t, entries)}))
	for _, key := range []string{"entries[0].description", "entries[0].link", "entries[1].title", "entries[1].description"} {
		if _, ok := fe[key]; !ok {
			t.Fatalf("missing %s in %v", key, fe)
		}
	}

	entries = []map[string]any{
		{"title": "Tracker", "description": "A habit tracking web application", "link": "https://example.com", "technologies_used": "Go, Vue ,", "project_type": "personal"},
	}
	if err := store.SaveStep(ctx, *p, StepProject, StepInput{Entries: raw(t, entries)}); err != nil {
		t.Fatalf("save project: %v", err)
	}
}

func TestSaveSingleSteps(t *testing.T) {
	freezeNow(t)
	db := dbtest.Open(t)
	store, p, profile := newPortfolio(t, db, "ivan")
	ctx := context.Background()

	bad := map[string]any{"first_name": "J0hn", "last_name": "Doe", "email": "nope", "contact": "12345", "address": "x", "pin_code": "12"}
	fe := fieldErrors(t, store.SaveStep(ctx, *p, StepPersonal1, StepInput{Data: raw(t, bad)}))
	for _, key := range []string{"first_name", "email", "contact", "pin_code"} {
		if _, ok := fe[key]; !ok {
			t.Fatalf("missing %s in %v", key, fe)
		}
	}

	social := map[string]any{"github_link": "https://gitlab.com/ivan"}
	fe = fieldErrors(t, store.SaveStep(ctx, *p, StepPersonal2, StepInput{Data: raw(t, social)}))
	if _, ok := fe["github_link"]; !ok {
		t.Fatalf("github host not checked: %v", fe)
	}

	if err := store.SaveStep(ctx, *p, StepSummary, StepInput{Data: raw(t, map[string]string{"content": "too short"})}); err == nil {
		t.Fatalf("short summary accepted")
	}
	long := "I build reliable backend services and enjoy teaching."
	for i := 0; i < 2; i++ {
		if err := store.SaveStep(ctx, *p, StepSummary, StepInput{Data: raw(t, map[string]string{"content": long})}); err != nil {
			t.Fatalf("save summary: %v", err)
		}
	}
	var n int64
	db.Model(&database.Summary{}).Where("portfolio_id = ?", p.ID).Count(&n)
	if n != 1 {
		t.Fatalf("summary rows = %d", n)
	}

	if err := store.SaveStep(ctx, *p, StepExtras, StepInput{Data: raw(t, map[string]string{"extracurricular": "Debate"})}); err != nil {
		t.Fatalf("save extras: %v", err)
	}
	prog, err := store.Progress(ctx, *p)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if !prog.Steps[StepPersonal1] || !prog.Steps[StepSummary] || !prog.Steps[StepExtras] || prog.Completed != 3 {
		t.Fatalf("unexpected progress %+v (profile %d)", prog, profile.ID)
	}
}

func TestDeleteRemovesChildren(t *testing.T) {
	db := dbtest.Open(t)
	store, p, _ := newPortfolio(t, db, "judy")
	db.Create(&database.Skill{PortfolioID: p.ID, Name: "Go", Level: "Expert"})
	db.Create(&database.Summary{PortfolioID: p.ID, Content: "hello"})

	if err := store.Delete(context.Background(), *p); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var skills, summaries, portfolios int64
	db.Model(&database.Skill{}).Where("portfolio_id = ?", p.ID).Count(&skills)
	db.Model(&database.Summary{}).Where("portfolio_id = ?", p.ID).Count(&summaries)
	db.Unscoped().Model(&database.Portfolio{}).Where("id = ?", p.ID).Count(&portfolios)
	if skills+summaries+portfolios != 0 {
		t.Fatalf("leftovers: skills=%d summaries=%d portfolios=%d", skills, summaries, portfolios)
	}
}

func TestPublicRequiresPaymentAndCountsViews(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store, p, _ := newPortfolio(t, db, "ken")

	db.Create(&database.Project{PortfolioID: p.ID, Title: "Old", TechnologiesUsed: "Go"})
	db.Create(&database.Project{PortfolioID: p.ID, Title: "New", TechnologiesUsed: "Go, Redis"})
	db.Create(&database.Skill{PortfolioID: p.ID, Name: "b"})
	db.Create(&database.Skill{PortfolioID: p.ID, Name: "a"})
	db.Create(&database.Education{PortfolioID: p.ID, Institution: "X", StartYear: 2015})
	db.Create(&database.Education{PortfolioID: p.ID, Institution: "Y", StartYear: 2020})

	db.Model(p).UpdateColumn("is_paid", false)
	if _, err := store.Public(ctx, p.Slug); !errors.Is(err, ErrNotPublic) {
		t.Fatalf("unpaid portfolio must not be public: %v", err)
	}
	db.Model(p).UpdateColumn("is_paid", true)

	view, err := store.Public(ctx, p.Slug)
	if err != nil {
		t.Fatalf("public: %v", err)
	}
	if view.Portfolio.Views != 1 {
		t.Fatalf("views = %d", view.Portfolio.Views)
	}
	if view.Projects[0].Title != "New" || len(view.Projects[0].Technologies) != 2 {
		t.Fatalf("projects not ordered by id desc: %+v", view.Projects)
	}
	if view.Skills[0].Name != "a" || view.Education[0].Institution != "Y" {
		t.Fatalf("unexpected ordering skills=%+v education=%+v", view.Skills, view.Education)
	}
	if view.TemplateFile != DefaultTemplateFile {
		t.Fatalf("template = %q", view.TemplateFile)
	}

	if _, err := store.Public(ctx, "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("missing slug: %v", err)
	}
}

func TestSelectTemplateCountsOncePerChange(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	if _, err := database.SeedTemplates(db); err != nil {
		t.Fatalf("seed templates: %v", err)
	}
	store, p, profile := newPortfolio(t, db, "leo")
	db.Model(p).UpdateColumn("is_paid", false)
	p.IsPaid = false

	var templates []database.Template
	db.Where("is_pdf = ?", false).Order("id").Find(&templates)

	if d, err := store.SelectTemplate(ctx, *p, templates[0].ID); err != nil || d != TemplateChanged {
		t.Fatalf("first select: %v %v", d, err)
	}
	if d, err := store.SelectTemplate(ctx, *p, templates[0].ID); err != nil || d != TemplateUnchanged {
		t.Fatalf("reselect: %v %v", d, err)
	}
	var reloaded database.Profile
	db.First(&reloaded, profile.ID)
	if reloaded.TemplateChangeCount != 1 {
		t.Fatalf("count = %d, want 1", reloaded.TemplateChangeCount)
	}

	db.Model(&reloaded).UpdateColumn("template_change_count", reloaded.MaxTemplateChanges)
	if _, err := store.SelectTemplate(ctx, *p, templates[1].ID); !errors.Is(err, ErrTemplateLimit) {
		t.Fatalf("limit not enforced: %v", err)
	}
	var current database.Portfolio
	db.First(&current, p.ID)
	if current.TemplateID == nil || *current.TemplateID != templates[0].ID {
		t.Fatalf("template changed despite limit")
	}
}
