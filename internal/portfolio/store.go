package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolioPro/internal/database"
	"portfolioPro/internal/validation"
)

var (
	// ErrNoPortfoliosRemaining 表示作品集名额已用完。
	ErrNoPortfoliosRemaining = errors.New("no portfolios remaining")
	// ErrNotPublic 表示作品集未付款，不对外公开。
	ErrNotPublic = errors.New("portfolio is not public")
	// ErrNotCompleted 表示作品集尚未完成向导。
	ErrNotCompleted = errors.New("portfolio is not completed")
	// ErrEntryNotFound 表示条目不存在或不属于该作品集。
	ErrEntryNotFound = errors.New("entry not found")
	// ErrStepNotEditable 表示该步骤没有可删除的条目。
	ErrStepNotEditable = errors.New("step has no entries")
)

// DefaultTemplateFile 在作品集未选择模板时使用。
const DefaultTemplateFile = "classic"

// childModels 为作品集的全部子表，删除作品集时逐一清理。
var childModels = []any{
	&database.Education{},
	&database.Experience{},
	&database.Project{},
	&database.Skill{},
	&database.Certification{},
	&database.Language{},
	&database.Hobby{},
	&database.Summary{},
}

// Store 封装作品集相关的持久化操作。
type Store struct {
	db *gorm.DB
}

// NewStore 创建 Store。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Owned 读取属于 userID 的作品集。
func (s *Store) Owned(ctx context.Context, userID, portfolioID uint) (*database.Portfolio, error) {
	var p database.Portfolio
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", portfolioID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Profile 读取作品集所属的 Profile。
func (s *Store) Profile(ctx context.Context, p database.Portfolio) (*database.Profile, error) {
	var profile database.Profile
	if err := s.db.WithContext(ctx).First(&profile, p.ProfileID).Error; err != nil {
		return nil, fmt.Errorf("load profile %d: %w", p.ProfileID, err)
	}
	return &profile, nil
}

// Snapshot 通过 COUNT 查询汇总进度计算所需的数据。
func (s *Store) Snapshot(ctx context.Context, p database.Portfolio) (Snapshot, error) {
	profile, err := s.Profile(ctx, p)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Profile: *profile}

	db := s.db.WithContext(ctx)
	counts := []struct {
		model any
		dst   *int64
	}{
		{&database.Education{}, &snap.Education},
		{&database.Project{}, &snap.Projects},
		{&database.Experience{}, &snap.Experience},
		{&database.Certification{}, &snap.Certifications},
		{&database.Skill{}, &snap.Skills},
		{&database.Language{}, &snap.Languages},
		{&database.Hobby{}, &snap.Hobbies},
	}
	for _, c := range counts {
		if err := db.Model(c.model).Where("portfolio_id = ?", p.ID).Count(c.dst).Error; err != nil {
			return Snapshot{}, fmt.Errorf("count sections: %w", err)
		}
	}

	var summary database.Summary
	err = db.Where("portfolio_id = ?", p.ID).Limit(1).Find(&summary).Error
	if err != nil {
		return Snapshot{}, fmt.Errorf("load summary: %w", err)
	}
	snap.SummaryContent = summary.Content
	return snap, nil
}

// Progress 计算作品集当前的完成度。
func (s *Store) Progress(ctx context.Context, p database.Portfolio) (Progress, error) {
	snap, err := s.Snapshot(ctx, p)
	if err != nil {
		return Progress{}, err
	}
	return Calculate(snap), nil
}

// Create 为用户创建作品集：已有作品集时直接复用，否则在同一事务内扣减名额并生成 slug。
// 返回值 created 表示是否新建。
func (s *Store) Create(ctx context.Context, user database.User, profile database.Profile, hasPaid bool) (*database.Portfolio, bool, error) {
	if profile.PortfoliosRemaining <= 0 {
		return nil, false, ErrNoPortfoliosRemaining
	}

	var existing database.Portfolio
	err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).Order("id").Limit(1).Find(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("find portfolio: %w", err)
	}
	if existing.ID != 0 {
		err := s.db.WithContext(ctx).Model(&existing).Updates(map[string]any{
			"profile_id": profile.ID,
			"is_paid":    hasPaid,
			"status":     database.PortfolioInProgress,
		}).Error
		if err != nil {
			return nil, false, fmt.Errorf("reuse portfolio: %w", err)
		}
		return &existing, false, nil
	}

	var created database.Portfolio
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&database.Profile{}).
			Where("id = ? AND portfolios_remaining > 0", profile.ID).
			UpdateColumn("portfolios_remaining", gorm.Expr("portfolios_remaining - 1"))
		if res.Error != nil {
			return fmt.Errorf("decrement portfolios: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNoPortfoliosRemaining
		}

		base := BaseSlug(user.Username, profile.FirstName, profile.LastName)
		slug, err := GenerateSlug(ctx, base, func(ctx context.Context, candidate string) (bool, error) {
			var n int64
			err := tx.Model(&database.Portfolio{}).Where("slug = ?", candidate).Count(&n).Error
			return n > 0, err
		})
		if err != nil {
			return err
		}

		created = database.Portfolio{
			UserID:    user.ID,
			ProfileID: profile.ID,
			Status:    database.PortfolioInProgress,
			IsPaid:    hasPaid,
			Slug:      slug,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("create portfolio: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &created, true, nil
}

// Delete 删除作品集及其全部条目。
func (s *Store) Delete(ctx context.Context, p database.Portfolio) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range childModels {
			if err := tx.Where("portfolio_id = ?", p.ID).Delete(m).Error; err != nil {
				return fmt.Errorf("delete %T: %w", m, err)
			}
		}
		if err := tx.Unscoped().Delete(&database.Portfolio{}, p.ID).Error; err != nil {
			return fmt.Errorf("delete portfolio: %w", err)
		}
		return nil
	})
}

// Complete 将作品集标记为已完成。
func (s *Store) Complete(ctx context.Context, p *database.Portfolio) error {
	if err := s.db.WithContext(ctx).Model(p).Update("status", database.PortfolioCompleted).Error; err != nil {
		return fmt.Errorf("complete portfolio: %w", err)
	}
	p.Status = database.PortfolioCompleted
	return nil
}

// StepInput 是一次步骤提交的数据：集合类步骤使用 Entries，其余使用 Data。
type StepInput struct {
	Entries json.RawMessage `json:"entries"`
	Data    json.RawMessage `json:"data"`
}

// SaveStep 校验并保存一个步骤的数据。校验失败返回 validation.FieldErrors。
func (s *Store) SaveStep(ctx context.Context, p database.Portfolio, step Step, in StepInput) error {
	switch step {
	case StepEducation:
		return saveCollection[EducationEntry, database.Education](ctx, s.db, p.ID, in.Entries)
	case StepProject:
		return saveCollection[ProjectEntry, database.Project](ctx, s.db, p.ID, in.Entries)
	case StepExperience:
		return saveCollection[ExperienceEntry, database.Experience](ctx, s.db, p.ID, in.Entries)
	case StepCertification:
		return saveCollection[CertificationEntry, database.Certification](ctx, s.db, p.ID, in.Entries)
	case StepSkill:
		return saveCollection[SkillEntry, database.Skill](ctx, s.db, p.ID, in.Entries)
	case StepLanguage:
		return saveCollection[LanguageEntry, database.Language](ctx, s.db, p.ID, in.Entries)
	case StepHobby:
		return saveCollection[HobbyEntry, database.Hobby](ctx, s.db, p.ID, in.Entries)
	case StepPersonal1:
		var v PersonalInfo1
		if err := decode(in.Data, &v); err != nil {
			return err
		}
		return s.SavePersonal1(ctx, p, v)
	case StepPersonal2:
		var v PersonalInfo2
		if err := decode(in.Data, &v); err != nil {
			return err
		}
		return s.SavePersonal2(ctx, p, v)
	case StepExtras:
		var v Extras
		if err := decode(in.Data, &v); err != nil {
			return err
		}
		return s.SaveExtras(ctx, p, v)
	case StepSummary:
		var v SummaryInput
		if err := decode(in.Data, &v); err != nil {
			return err
		}
		return s.SaveSummary(ctx, p, v)
	}
	return fmt.Errorf("unknown step %q", step)
}

// SavePersonal1 保存基本信息。
func (s *Store) SavePersonal1(ctx context.Context, p database.Portfolio, in PersonalInfo1) error {
	if err := validation.Struct(in).Err(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ?", p.ProfileID).
		Select("first_name", "last_name", "email", "contact", "address", "pin_code").
		Updates(database.Profile{
			FirstName: strings.TrimSpace(in.FirstName),
			LastName:  strings.TrimSpace(in.LastName),
			Email:     strings.TrimSpace(in.Email),
			Contact:   strings.TrimSpace(in.Contact),
			Address:   strings.TrimSpace(in.Address),
			PinCode:   strings.TrimSpace(in.PinCode),
		}).Error
}

// SavePersonal2 保存社交链接。
func (s *Store) SavePersonal2(ctx context.Context, p database.Portfolio, in PersonalInfo2) error {
	errs := validation.Struct(in)
	in.check(errs)
	if err := errs.Err(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ?", p.ProfileID).
		Select("github_link", "facebook_link", "instagram_link", "other_social_link").
		Updates(database.Profile{
			GithubLink:      strings.TrimSpace(in.GithubLink),
			FacebookLink:    strings.TrimSpace(in.FacebookLink),
			InstagramLink:   strings.TrimSpace(in.InstagramLink),
			OtherSocialLink: strings.TrimSpace(in.OtherSocialLink),
		}).Error
}

// SaveExtras 保存课外活动。
func (s *Store) SaveExtras(ctx context.Context, p database.Portfolio, in Extras) error {
	if err := validation.Struct(in).Err(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&database.Profile{}).
		Where("id = ?", p.ProfileID).
		Update("extracurricular", strings.TrimSpace(in.Extracurricular)).Error
}

// SaveSummary 创建或更新个人简介。
func (s *Store) SaveSummary(ctx context.Context, p database.Portfolio, in SummaryInput) error {
	errs := validation.FieldErrors{}
	in.check(errs)
	if err := errs.Err(); err != nil {
		return err
	}
	var summary database.Summary
	return s.db.WithContext(ctx).
		Where(database.Summary{PortfolioID: p.ID}).
		Assign(database.Summary{Content: strings.TrimSpace(in.Content)}).
		FirstOrCreate(&summary).Error
}

// entry 约束集合类条目输入。
type entry[M any] interface {
	ref() EntryRef
	blank() bool
	check(validation.FieldErrors)
	model(portfolioID uint) M
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return validation.FieldErrors{"_": "invalid payload: " + err.Error()}
	}
	return nil
}

// saveCollection 校验全部条目后在一个事务内写入；空白条目被忽略，
// 带 id 的条目只会更新本作品集下的行。
func saveCollection[E entry[M], M any](ctx context.Context, db *gorm.DB, portfolioID uint, raw json.RawMessage) error {
	var entries []E
	if err := decode(raw, &entries); err != nil {
		return err
	}

	errs := validation.FieldErrors{}
	for i, e := range entries {
		if e.ref().Delete || e.blank() {
			continue
		}
		fe := validation.Struct(e)
		e.check(fe)
		errs.Merge(fmt.Sprintf("entries[%d]", i), fe)
	}
	if err := errs.Err(); err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			r := e.ref()
			var zero M
			switch {
			case r.Delete:
				if r.ID == 0 {
					continue
				}
				if err := tx.Where("id = ? AND portfolio_id = ?", r.ID, portfolioID).Delete(&zero).Error; err != nil {
					return fmt.Errorf("delete entry %d: %w", r.ID, err)
				}
			case e.blank():
				continue
			case r.ID != 0:
				m := e.model(portfolioID)
				res := tx.Model(&zero).
					Where("id = ? AND portfolio_id = ?", r.ID, portfolioID).
					Select("*").Omit("id").
					Updates(&m)
				if res.Error != nil {
					return fmt.Errorf("update entry %d: %w", r.ID, res.Error)
				}
				if res.RowsAffected == 0 {
					return fmt.Errorf("entry %d: %w", r.ID, ErrEntryNotFound)
				}
			default:
				m := e.model(portfolioID)
				if err := tx.Create(&m).Error; err != nil {
					return fmt.Errorf("create entry: %w", err)
				}
			}
		}
		return nil
	})
}

// sectionModel 返回集合类步骤对应的模型。
func sectionModel(step Step) (any, bool) {
	switch step {
	case StepEducation:
		return &database.Education{}, true
	case StepProject:
		return &database.Project{}, true
	case StepExperience:
		return &database.Experience{}, true
	case StepCertification:
		return &database.Certification{}, true
	case StepSkill:
		return &database.Skill{}, true
	case StepLanguage:
		return &database.Language{}, true
	case StepHobby:
		return &database.Hobby{}, true
	}
	return nil, false
}

// DeleteEntry 删除作品集下的单个条目。
func (s *Store) DeleteEntry(ctx context.Context, p database.Portfolio, step Step, entryID uint) error {
	m, ok := sectionModel(step)
	if !ok {
		return ErrStepNotEditable
	}
	res := s.db.WithContext(ctx).Where("id = ? AND portfolio_id = ?", entryID, p.ID).Delete(m)
	if res.Error != nil {
		return fmt.Errorf("delete entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// StepData 返回某个步骤当前已保存的数据，用于回填表单。
func (s *Store) StepData(ctx context.Context, p database.Portfolio, step Step) (any, error) {
	db := s.db.WithContext(ctx).Where("portfolio_id = ?", p.ID).Order("id")
	switch step {
	case StepPersonal1, StepPersonal2, StepExtras:
		profile, err := s.Profile(ctx, p)
		if err != nil {
			return nil, err
		}
		switch step {
		case StepPersonal1:
			return PersonalInfo1{
				FirstName: profile.FirstName,
				LastName:  profile.LastName,
				Email:     profile.Email,
				Contact:   profile.Contact,
				Address:   profile.Address,
				PinCode:   profile.PinCode,
			}, nil
		case StepPersonal2:
			return PersonalInfo2{
				GithubLink:      profile.GithubLink,
				FacebookLink:    profile.FacebookLink,
				InstagramLink:   profile.InstagramLink,
				OtherSocialLink: profile.OtherSocialLink,
			}, nil
		default:
			return Extras{Extracurricular: profile.Extracurricular}, nil
		}
	case StepSummary:
		var summary database.Summary
		if err := db.Limit(1).Find(&summary).Error; err != nil {
			return nil, err
		}
		return SummaryInput{Content: summary.Content}, nil
	case StepEducation:
		var rows []database.Education
		return rows, db.Find(&rows).Error
	case StepProject:
		var rows []database.Project
		return rows, db.Find(&rows).Error
	case StepExperience:
		var rows []database.Experience
		return rows, db.Find(&rows).Error
	case StepCertification:
		var rows []database.Certification
		return rows, db.Find(&rows).Error
	case StepSkill:
		var rows []database.Skill
		return rows, db.Find(&rows).Error
	case StepLanguage:
		var rows []database.Language
		return rows, db.Find(&rows).Error
	case StepHobby:
		var rows []database.Hobby
		return rows, db.Find(&rows).Error
	}
	return nil, fmt.Errorf("unknown step %q", step)
}

// ProjectView 在项目上附加拆分后的技术栈。
type ProjectView struct {
	database.Project
	Technologies []string `json:"technologies_list"`
}

// View 是渲染作品集页面所需的全部数据。
type View struct {
	Portfolio      database.Portfolio       `json:"portfolio"`
	Profile        database.Profile         `json:"-"`
	Username       string                   `json:"username"`
	Person         PersonalInfo1            `json:"person"`
	Social         PersonalInfo2            `json:"social"`
	Extras         string                   `json:"extracurricular"`
	Education      []database.Education     `json:"education"`
	Experience     []database.Experience    `json:"experience"`
	Projects       []ProjectView            `json:"projects"`
	Skills         []database.Skill         `json:"skills"`
	Certifications []database.Certification `json:"certifications"`
	Languages      []database.Language      `json:"languages"`
	Hobbies        []database.Hobby         `json:"hobbies"`
	Summary        string                   `json:"summary"`
	TemplateFile   string                   `json:"template_file"`
	// PhotoURL 由调用方填充（预签名地址或 data URI）。
	PhotoURL string `json:"photo_url,omitempty"`
}

// SplitTechnologies 按逗号拆分技术栈并去除空白项。
func SplitTechnologies(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Load 读取作品集的全部内容并按展示顺序排序。
func (s *Store) Load(ctx context.Context, p database.Portfolio) (*View, error) {
	db := s.db.WithContext(ctx)

	var user database.User
	if err := db.First(&user, p.UserID).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	profile, err := s.Profile(ctx, p)
	if err != nil {
		return nil, err
	}

	v := &View{
		Portfolio:    p,
		Profile:      *profile,
		Username:     user.Username,
		Person: PersonalInfo1{
			FirstName: profile.FirstName,
			LastName:  profile.LastName,
			Email:     profile.Email,
			Contact:   profile.Contact,
			Address:   profile.Address,
			PinCode:   profile.PinCode,
		},
		Social: PersonalInfo2{
			GithubLink:      profile.GithubLink,
			FacebookLink:    profile.FacebookLink,
			InstagramLink:   profile.InstagramLink,
			OtherSocialLink: profile.OtherSocialLink,
		},
		Extras:       profile.Extracurricular,
		TemplateFile: DefaultTemplateFile,
	}

	scoped := func() *gorm.DB { return db.Where("portfolio_id = ?", p.ID) }
	var projects []database.Project
	queries := []struct {
		dst   any
		order string
	}{
		{&v.Education, "start_year DESC, id"},
		{&v.Experience, "start_year DESC, id"},
		{&v.Skills, "name"},
		{&projects, "id DESC"},
		{&v.Certifications, "issue_year DESC, id"},
		{&v.Languages, "name"},
		{&v.Hobbies, "name"},
	}
	for _, q := range queries {
		if err := scoped().Order(q.order).Find(q.dst).Error; err != nil {
			return nil, fmt.Errorf("load sections: %w", err)
		}
	}
	v.Projects = make([]ProjectView, 0, len(projects))
	for _, pr := range projects {
		v.Projects = append(v.Projects, ProjectView{Project: pr, Technologies: SplitTechnologies(pr.TechnologiesUsed)})
	}

	var summary database.Summary
	if err := scoped().Limit(1).Find(&summary).Error; err != nil {
		return nil, fmt.Errorf("load summary: %w", err)
	}
	v.Summary = summary.Content

	if p.TemplateID != nil {
		var tpl database.Template
		err := db.Limit(1).Find(&tpl, *p.TemplateID).Error
		if err != nil {
			return nil, fmt.Errorf("load template: %w", err)
		}
		if tpl.TemplateFile != "" {
			v.TemplateFile = tpl.TemplateFile
		}
	}
	return v, nil
}

// Public 按 slug 读取公开作品集并增加浏览次数。未付款的作品集不公开。
func (s *Store) Public(ctx context.Context, slug string) (*View, error) {
	var p database.Portfolio
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&p).Error; err != nil {
		return nil, err
	}
	if !p.IsPaid {
		return nil, ErrNotPublic
	}
	err := s.db.WithContext(ctx).Model(&p).UpdateColumn("views", gorm.Expr("views + 1")).Error
	if err != nil {
		return nil, fmt.Errorf("count view: %w", err)
	}
	p.Views++
	return s.Load(ctx, p)
}

// Templates 列出可选的网页模板（PDF 模板单独选择）。
func (s *Store) Templates(ctx context.Context, pdf bool) ([]database.Template, error) {
	var templates []database.Template
	err := s.db.WithContext(ctx).Where("is_pdf = ?", pdf).Order("id").Find(&templates).Error
	return templates, err
}

// SelectTemplate 在一个事务内判断并切换作品集模板。
// 模板变化时 TemplateChangeCount 恰好加一；未付款且已达上限时返回 ErrTemplateLimit。
func (s *Store) SelectTemplate(ctx context.Context, p database.Portfolio, templateID uint) (TemplateDecision, error) {
	decision := TemplateUnchanged
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tpl database.Template
		if err := tx.Where("id = ? AND is_pdf = ?", templateID, false).First(&tpl).Error; err != nil {
			return err
		}

		var profile database.Profile
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&profile, p.ProfileID).Error
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		var current database.Portfolio
		if err := tx.First(&current, p.ID).Error; err != nil {
			return err
		}

		d, err := DecideTemplateChange(profile, current, templateID)
		if err != nil {
			return err
		}
		decision = d
		if d == TemplateUnchanged {
			return nil
		}

		if err := tx.Model(&current).Update("template_id", templateID).Error; err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		return tx.Model(&profile).
			UpdateColumn("template_change_count", gorm.Expr("template_change_count + 1")).Error
	})
	if err != nil {
		return TemplateUnchanged, err
	}
	return decision, nil
}

// SelectPDFTemplate 设置导出 PDF 时使用的模板，不计入切换次数。
func (s *Store) SelectPDFTemplate(ctx context.Context, p *database.Portfolio, templateID uint) error {
	var tpl database.Template
	if err := s.db.WithContext(ctx).Where("id = ? AND is_pdf = ?", templateID, true).First(&tpl).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(p).Update("pdf_template_id", templateID).Error; err != nil {
		return fmt.Errorf("update pdf template: %w", err)
	}
	p.PDFTemplateID = &templateID
	return nil
}
