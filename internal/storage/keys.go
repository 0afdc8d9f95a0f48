package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// 对象键前缀。
const (
	ProfilePhotoPrefix = "profile-photos"
	ResumePrefix       = "resumes"
	InvoicePrefix      = "invoices"
	RosterPrefix       = "rosters"
	PortfolioPDFPrefix = "portfolios"
)

// ProfilePhotoKey 生成头像对象键，ext 形如 ".jpg"。
func ProfilePhotoKey(userID uint, ext string) string {
	return fmt.Sprintf("%s/%d/%s%s", ProfilePhotoPrefix, userID, uuid.NewString(), ext)
}

// ResumeKey 生成简历 PDF 对象键。
func ResumeKey(userID uint) string {
	return fmt.Sprintf("%s/%d/%s.pdf", ResumePrefix, userID, uuid.NewString())
}

// InvoiceKey 生成发票对象键。
func InvoiceKey(userID, paymentID uint) string {
	return fmt.Sprintf("%s/%d/%d.pdf", InvoicePrefix, userID, paymentID)
}

// RosterKey 生成花名册对象键。
func RosterKey(agentProfileID uint) string {
	return fmt.Sprintf("%s/%d/%s.pdf", RosterPrefix, agentProfileID, uuid.NewString())
}

// PortfolioPDFKey 生成作品集 PDF 对象键。
func PortfolioPDFKey(userID, portfolioID uint) string {
	return fmt.Sprintf("%s/%d/%d.pdf", PortfolioPDFPrefix, userID, portfolioID)
}

// UserPrefixes 返回某个用户名下的全部对象前缀，用于删除账号。
func UserPrefixes(userID uint) []string {
	out := make([]string, 0, 4)
	for _, p := range []string{ProfilePhotoPrefix, ResumePrefix, InvoicePrefix, PortfolioPDFPrefix} {
		out = append(out, fmt.Sprintf("%s/%d/", p, userID))
	}
	return out
}

// OwnedBy 判断对象键是否位于 prefix/userID/ 之下，且不含路径穿越。
func OwnedBy(key, prefix string, userID uint) bool {
	if key == "" || strings.Contains(key, "..") {
		return false
	}
	want := fmt.Sprintf("%s/%d/", prefix, userID)
	return strings.HasPrefix(path.Clean(key), want)
}
