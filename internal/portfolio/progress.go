package portfolio

import (
	"strings"

	"portfolioPro/internal/database"
)

// Snapshot 是计算进度所需的只读数据。
type Snapshot struct {
	Profile        database.Profile
	Education      int64
	Projects       int64
	Experience     int64
	Certifications int64
	Skills         int64
	Languages      int64
	Hobbies        int64
	SummaryContent string
}

// Progress 是向导完成度。Percentage = floor(100 * Completed / 11)。
type Progress struct {
	Steps      map[Step]bool `json:"steps"`
	Completed  int           `json:"completed_steps"`
	Percentage int           `json:"progress_percentage"`
	Width      int           `json:"progress_width"`
}

// PersonalInfoComplete 判断基本信息的六个必填字段是否都非空白。
func PersonalInfoComplete(p database.Profile) bool {
	for _, field := range []string{p.FirstName, p.LastName, p.Email, p.Contact, p.Address, p.PinCode} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// SocialLinksComplete 判断是否填写了任一社交链接。
func SocialLinksComplete(p database.Profile) bool {
	for _, link := range []string{p.GithubLink, p.FacebookLink, p.InstagramLink, p.OtherSocialLink} {
		if strings.TrimSpace(link) != "" {
			return true
		}
	}
	return false
}

// Calculate 计算各步骤完成情况与总体百分比。
func Calculate(s Snapshot) Progress {
	steps := map[Step]bool{
		StepPersonal1:     PersonalInfoComplete(s.Profile),
		StepEducation:     s.Education > 0,
		StepProject:       s.Projects > 0,
		StepExperience:    s.Experience > 0,
		StepCertification: s.Certifications > 0,
		StepSkill:         s.Skills > 0,
		StepLanguage:      s.Languages > 0,
		StepHobby:         s.Hobbies > 0,
		StepExtras:        strings.TrimSpace(s.Profile.Extracurricular) != "",
		StepSummary:       strings.TrimSpace(s.SummaryContent) != "",
		StepPersonal2:     SocialLinksComplete(s.Profile),
	}

	completed := 0
	for _, done := range steps {
		if done {
			completed++
		}
	}

	percentage := completed * 100 / SectionCount
	width := percentage
	if width < 0 {
		width = 0
	}
	if width > 100 {
		width = 100
	}

	return Progress{
		Steps:      steps,
		Completed:  completed,
		Percentage: percentage,
		Width:      width,
	}
}
