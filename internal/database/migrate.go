package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Models 列出全部需要迁移的表，API 启动与测试共用。
func Models() []any {
	return []any{
		&User{},
		&Profile{},
		&Template{},
		&Portfolio{},
		&Education{},
		&Experience{},
		&Project{},
		&Skill{},
		&Certification{},
		&Language{},
		&Hobby{},
		&Summary{},
		&Payment{},
		&Referral{},
		&StudentInvitation{},
		&AgentPayment{},
		&AdminNotification{},
		&UserActivity{},
		&AdminLog{},
	}
}

// Migrate 执行 AutoMigrate。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// DefaultTemplates 是内置的模板清单，TemplateFile 对应 render 包中的模板名。
var DefaultTemplates = []Template{
	{Name: "Classic", TemplateFile: "classic", PreviewImageURL: "/static/templates/classic.png"},
	{Name: "Modern", TemplateFile: "modern", PreviewImageURL: "/static/templates/modern.png"},
	{Name: "Minimal", TemplateFile: "minimal", PreviewImageURL: "/static/templates/minimal.png"},
	{Name: "Printable", TemplateFile: "classic", PreviewImageURL: "/static/templates/printable.png", IsPDF: true},
}

// SeedTemplates 按名称补齐缺失的内置模板，已有记录不做修改。
func SeedTemplates(db *gorm.DB) (int, error) {
	created := 0
	for _, tpl := range DefaultTemplates {
		var existing Template
		err := db.Where("name = ?", tpl.Name).First(&existing).Error
		switch {
		case err == nil:
			continue
		case errors.Is(err, gorm.ErrRecordNotFound):
			row := tpl
			if err := db.Create(&row).Error; err != nil {
				return created, fmt.Errorf("seed template %q: %w", tpl.Name, err)
			}
			created++
		default:
			return created, fmt.Errorf("query template %q: %w", tpl.Name, err)
		}
	}
	return created, nil
}
