package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"portfolioPro/internal/database"
)

// Open 返回已迁移、仅当前测试可见的数据库。
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sqlite: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedUser 创建指定类型的用户及其资料。
func SeedUser(t testing.TB, db *gorm.DB, username, userType string) (database.User, database.Profile) {
	t.Helper()
	user := database.User{Username: username, Email: username + "@example.com", PasswordHash: "x", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	profile := database.Profile{
		UserID:              user.ID,
		UserType:            userType,
		MaxTemplateChanges:  database.DefaultMaxTemplateChanges,
		PortfoliosRemaining: database.DefaultPortfoliosRemaining,
		Email:               user.Email,
		TermsAccepted:       true,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile %s: %v", username, err)
	}
	return user, profile
}

// CompletePersonalInfo 填写向导第一步要求的六个字段。
func CompletePersonalInfo(t testing.TB, db *gorm.DB, profile *database.Profile) {
	t.Helper()
	updates := map[string]any{
		"first_name": "John",
		"last_name":  "Doe",
		"email":      "john@example.com",
		"contact":    "9876543210",
		"address":    "123 Main St",
		"pin_code":   "123456",
	}
	if err := db.Model(profile).Updates(updates).Error; err != nil {
		t.Fatalf("complete personal info: %v", err)
	}
	if err := db.First(profile, profile.ID).Error; err != nil {
		t.Fatalf("reload profile: %v", err)
	}
}
