package portfolio

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"portfolioPro/internal/database"
	"portfolioPro/internal/validation"
)

// 技能、语言与项目类型的可选值。
var (
	SkillLevels       = []string{"Beginner", "Intermediate", "Expert"}
	LanguageLevels    = []string{"Basic", "Conversational", "Fluent", "Native"}
	ProjectTypes      = []string{"personal", "academic", "freelance", "contribution", "other"}
	earliestYearDelta = 30
)

// now 便于测试替换。
var now = time.Now

// EntryRef 是集合类条目的公共字段：ID 非零表示更新已有条目，Delete 表示删除。
type EntryRef struct {
	ID     uint `json:"id"`
	Delete bool `json:"delete"`
}

func (r EntryRef) ref() EntryRef { return r }

// EducationEntry 教育经历输入。
type EducationEntry struct {
	EntryRef
	Institution string `json:"institution" binding:"max=200"`
	Location    string `json:"location" binding:"max=150"`
	Degree      string `json:"degree" binding:"max=200"`
	StartMonth  int    `json:"start_month"`
	StartYear   int    `json:"start_year"`
	EndMonth    *int   `json:"end_month"`
	EndYear     *int   `json:"end_year"`
	Description string `json:"description" binding:"max=500"`
}

func (e EducationEntry) blank() bool {
	return isBlank(e.Institution, e.Location, e.Degree, e.Description) && e.StartYear == 0
}

func (e EducationEntry) check(errs validation.FieldErrors) {
	requireText(errs, "institution", e.Institution)
	requireText(errs, "location", e.Location)
	requireText(errs, "degree", e.Degree)
	checkPeriod(errs, e.StartMonth, e.StartYear, e.EndMonth, e.EndYear, "End date cannot be before start date.")
	checkOptionalLength(errs, "description", e.Description, 10, 500)
}

func (e EducationEntry) model(portfolioID uint) database.Education {
	return database.Education{
		ID:          e.ID,
		PortfolioID: portfolioID,
		Institution: strings.TrimSpace(e.Institution),
		Location:    strings.TrimSpace(e.Location),
		Degree:      strings.TrimSpace(e.Degree),
		StartMonth:  e.StartMonth,
		StartYear:   e.StartYear,
		EndMonth:    e.EndMonth,
		EndYear:     e.EndYear,
		Description: strings.TrimSpace(e.Description),
	}
}

// ExperienceEntry 工作经历输入。
type ExperienceEntry struct {
	EntryRef
	JobTitle         string `json:"job_title" binding:"max=200"`
	CompanyName      string `json:"company_name" binding:"max=200"`
	Location         string `json:"location" binding:"max=150"`
	StartMonth       int    `json:"start_month"`
	StartYear        int    `json:"start_year"`
	EndMonth         *int   `json:"end_month"`
	EndYear          *int   `json:"end_year"`
	CurrentlyWorking bool   `json:"currently_working"`
	Description      string `json:"description" binding:"max=500"`
}

func (e ExperienceEntry) blank() bool {
	return isBlank(e.JobTitle, e.CompanyName, e.Location, e.Description) && e.StartYear == 0
}

func (e ExperienceEntry) check(errs validation.FieldErrors) {
	requireText(errs, "job_title", e.JobTitle)
	requireText(errs, "company_name", e.CompanyName)
	endMonth, endYear := e.EndMonth, e.EndYear
	if e.CurrentlyWorking {
		endMonth, endYear = nil, nil
	}
	checkPeriod(errs, e.StartMonth, e.StartYear, endMonth, endYear, "End date must be after start date.")
	checkOptionalLength(errs, "description", e.Description, 10, 500)
}

func (e ExperienceEntry) model(portfolioID uint) database.Experience {
	m := database.Experience{
		ID:               e.ID,
		PortfolioID:      portfolioID,
		JobTitle:         strings.TrimSpace(e.JobTitle),
		CompanyName:      strings.TrimSpace(e.CompanyName),
		Location:         strings.TrimSpace(e.Location),
		StartMonth:       e.StartMonth,
		StartYear:        e.StartYear,
		EndMonth:         e.EndMonth,
		EndYear:          e.EndYear,
		CurrentlyWorking: e.CurrentlyWorking,
		Description:      strings.TrimSpace(e.Description),
	}
	if e.CurrentlyWorking {
		m.EndMonth, m.EndYear = nil, nil
	}
	return m
}

// ProjectEntry 项目输入。
type ProjectEntry struct {
	EntryRef
	Title            string `json:"title" binding:"max=200"`
	Description      string `json:"description"`
	Link             string `json:"link" binding:"max=512,weburl"`
	TechnologiesUsed string `json:"technologies_used" binding:"max=300"`
	ProjectType      string `json:"project_type"`
}

func (e ProjectEntry) blank() bool {
	return isBlank(e.Title, e.Description, e.Link, e.TechnologiesUsed)
}

func (e ProjectEntry) check(errs validation.FieldErrors) {
	title := strings.TrimSpace(e.Title)
	desc := strings.TrimSpace(e.Description)
	switch {
	case title == "":
		errs.Add("title", "Title is required.")
	case len([]rune(title)) < 3:
		errs.Add("title", "Title must be at least 3 characters long.")
	}
	switch n := len([]rune(desc)); {
	case n == 0:
		errs.Add("description", "Description cannot be empty.")
	case n > 1000:
		errs.Add("description", "Description cannot exceed 1000 characters.")
	case n < 10:
		errs.Add("description", "Description must be at least 10 characters long.")
	}
	if title != "" && desc != "" && strings.Contains(strings.ToLower(desc), strings.ToLower(title)) {
		errs.Add("description", "Project description should not just repeat the title.")
	}
	if e.ProjectType != "" && !oneOf(e.ProjectType, ProjectTypes) {
		errs.Add("project_type", "Select a valid project type.")
	}
}

func (e ProjectEntry) model(portfolioID uint) database.Project {
	projectType := e.ProjectType
	if projectType == "" {
		projectType = "personal"
	}
	return database.Project{
		ID:               e.ID,
		PortfolioID:      portfolioID,
		Title:            strings.TrimSpace(e.Title),
		Description:      strings.TrimSpace(e.Description),
		Link:             strings.TrimSpace(e.Link),
		TechnologiesUsed: strings.TrimSpace(e.TechnologiesUsed),
		ProjectType:      projectType,
	}
}

// SkillEntry 技能输入，名称与等级需同时填写。
type SkillEntry struct {
	EntryRef
	Name  string `json:"name" binding:"max=100"`
	Level string `json:"level"`
}

func (e SkillEntry) blank() bool { return isBlank(e.Name, e.Level) }

func (e SkillEntry) check(errs validation.FieldErrors) {
	name := strings.TrimSpace(e.Name)
	switch {
	case name != "" && e.Level == "":
		errs.Add("level", "Please select a proficiency level for this skill.")
	case name == "":
		errs.Add("name", "Please enter a skill name.")
	case !oneOf(e.Level, SkillLevels):
		errs.Add("level", "Select a valid skill level.")
	}
}

func (e SkillEntry) model(portfolioID uint) database.Skill {
	return database.Skill{ID: e.ID, PortfolioID: portfolioID, Name: strings.TrimSpace(e.Name), Level: e.Level}
}

// CertificationEntry 证书输入。
type CertificationEntry struct {
	EntryRef
	Name        string `json:"name" binding:"max=200"`
	Issuer      string `json:"issuer" binding:"max=200"`
	IssueMonth  int    `json:"issue_month"`
	IssueYear   int    `json:"issue_year"`
	Description string `json:"description" binding:"max=400"`
}

func (e CertificationEntry) blank() bool {
	return isBlank(e.Name, e.Issuer, e.Description) && e.IssueYear == 0
}

func (e CertificationEntry) check(errs validation.FieldErrors) {
	requireText(errs, "name", e.Name)
	requireText(errs, "issuer", e.Issuer)
	if e.IssueMonth < 1 || e.IssueMonth > 12 {
		errs.Add("issue_month", "Select a valid month.")
	}
	if !validYear(e.IssueYear) {
		errs.Add("issue_year", "Select a valid year.")
	}
	if e.IssueMonth >= 1 && e.IssueMonth <= 12 && validYear(e.IssueYear) {
		issued := time.Date(e.IssueYear, time.Month(e.IssueMonth), 1, 0, 0, 0, 0, time.UTC)
		if issued.After(now().UTC()) {
			errs.Add("issue_year", "Issue date cannot be in the future.")
		}
	}
	checkOptionalLength(errs, "description", e.Description, 10, 400)
}

func (e CertificationEntry) model(portfolioID uint) database.Certification {
	return database.Certification{
		ID:          e.ID,
		PortfolioID: portfolioID,
		Name:        strings.TrimSpace(e.Name),
		Issuer:      strings.TrimSpace(e.Issuer),
		IssueMonth:  e.IssueMonth,
		IssueYear:   e.IssueYear,
		Description: strings.TrimSpace(e.Description),
	}
}

// LanguageEntry 语言输入，名称与熟练度需同时填写。
type LanguageEntry struct {
	EntryRef
	Name        string `json:"name" binding:"max=100"`
	Proficiency string `json:"proficiency"`
}

func (e LanguageEntry) blank() bool { return isBlank(e.Name, e.Proficiency) }

func (e LanguageEntry) check(errs validation.FieldErrors) {
	name := strings.TrimSpace(e.Name)
	switch {
	case name != "" && e.Proficiency == "":
		errs.Add("proficiency", "Please select a proficiency level for this language.")
	case name == "":
		errs.Add("name", "Please enter a language name.")
	case !oneOf(e.Proficiency, LanguageLevels):
		errs.Add("proficiency", "Select a valid proficiency.")
	}
}

func (e LanguageEntry) model(portfolioID uint) database.Language {
	return database.Language{ID: e.ID, PortfolioID: portfolioID, Name: strings.TrimSpace(e.Name), Proficiency: e.Proficiency}
}

// HobbyEntry 兴趣输入。
type HobbyEntry struct {
	EntryRef
	Name string `json:"name" binding:"max=100"`
}

func (e HobbyEntry) blank() bool { return isBlank(e.Name) }

func (e HobbyEntry) check(errs validation.FieldErrors) {
	if isDigits(strings.TrimSpace(e.Name)) {
		errs.Add("name", "Hobby name cannot be a number.")
	}
}

func (e HobbyEntry) model(portfolioID uint) database.Hobby {
	return database.Hobby{ID: e.ID, PortfolioID: portfolioID, Name: strings.TrimSpace(e.Name)}
}

// PersonalInfo1 基本信息（第一步）。
type PersonalInfo1 struct {
	FirstName string `json:"first_name" binding:"notblank,max=100,personname"`
	LastName  string `json:"last_name" binding:"notblank,max=100,personname"`
	Email     string `json:"email" binding:"notblank,email,max=254"`
	Contact   string `json:"contact" binding:"notblank,in_mobile"`
	Address   string `json:"address" binding:"notblank,max=500"`
	PinCode   string `json:"pin_code" binding:"notblank,pincode"`
}

// PersonalInfo2 社交链接（最后一步），全部可选。
type PersonalInfo2 struct {
	GithubLink      string `json:"github_link" binding:"max=512,weburl"`
	FacebookLink    string `json:"facebook_link" binding:"max=512,weburl"`
	InstagramLink   string `json:"instagram_link" binding:"max=512,weburl"`
	OtherSocialLink string `json:"other_social_link" binding:"max=512,weburl"`
}

func (p PersonalInfo2) check(errs validation.FieldErrors) {
	hosts := []struct {
		field, value, host, example string
	}{
		{"github_link", p.GithubLink, "github.com", "https://github.com/username"},
		{"facebook_link", p.FacebookLink, "facebook.com", "https://facebook.com/yourprofile"},
		{"instagram_link", p.InstagramLink, "instagram.com", "https://instagram.com/username"},
	}
	for _, h := range hosts {
		if strings.TrimSpace(h.value) == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(h.value), h.host) {
			errs.Add(h.field, fmt.Sprintf("Please enter a valid URL (e.g., %s).", h.example))
		}
	}
}

// Extras 课外活动（第九步）。
type Extras struct {
	Extracurricular string `json:"extracurricular" binding:"max=2000"`
}

// SummaryInput 个人简介。
type SummaryInput struct {
	Content string `json:"content"`
}

func (s SummaryInput) check(errs validation.FieldErrors) {
	content := strings.TrimSpace(s.Content)
	n := len([]rune(content))
	switch {
	case n == 0:
		errs.Add("content", "Summary cannot be empty.")
	case n < 30:
		errs.Add("content", "Summary must be at least 30 characters long.")
	case n > 1000:
		errs.Add("content", "Summary cannot exceed 1000 characters.")
	case isDigits(content) || !strings.ContainsFunc(content, unicode.IsLetter):
		errs.Add("content", "Please write a valid summary using meaningful words.")
	}
}

func isBlank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func requireText(errs validation.FieldErrors, field, value string) {
	if strings.TrimSpace(value) == "" {
		errs.Add(field, "This field is required.")
	}
}

func checkOptionalLength(errs validation.FieldErrors, field, value string, min, max int) {
	n := len([]rune(strings.TrimSpace(value)))
	switch {
	case n == 0:
	case n > max:
		errs.Add(field, fmt.Sprintf("Description cannot exceed %d characters.", max))
	case n < min:
		errs.Add(field, fmt.Sprintf("Description must be at least %d characters long.", min))
	}
}

func validYear(year int) bool {
	current := now().Year()
	return year >= current-earliestYearDelta && year <= current
}

func checkPeriod(errs validation.FieldErrors, startMonth, startYear int, endMonth, endYear *int, orderMsg string) {
	if startMonth < 1 || startMonth > 12 {
		errs.Add("start_month", "Select a valid month.")
	}
	if !validYear(startYear) {
		errs.Add("start_year", "Select a valid year.")
	}
	if endMonth == nil || endYear == nil {
		return
	}
	if *endMonth < 1 || *endMonth > 12 {
		errs.Add("end_month", "Select a valid month.")
		return
	}
	if !validYear(*endYear) {
		errs.Add("end_year", "Select a valid year.")
		return
	}
	start := startYear*12 + startMonth
	end := *endYear*12 + *endMonth
	if end < start {
		errs.Add("end_year", orderMsg)
	}
}
