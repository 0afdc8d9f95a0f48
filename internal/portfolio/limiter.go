package portfolio

import (
	"errors"

	"portfolioPro/internal/database"
)

// ErrTemplateLimit 表示未付款用户的模板切换次数已用尽。
var ErrTemplateLimit = errors.New("template change limit reached")

// TemplateDecision 是一次模板选择的结果。
type TemplateDecision int

const (
	// TemplateUnchanged 重复选择当前模板，不计次数。
	TemplateUnchanged TemplateDecision = iota
	// TemplateChanged 模板发生变化，计数加一。
	TemplateChanged
)

// DecideTemplateChange 判断是否允许切换到 templateID。
// 未付款且 TemplateChangeCount >= MaxTemplateChanges 时返回 ErrTemplateLimit；
// 已付款的作品集照常计数但不受上限约束。
func DecideTemplateChange(profile database.Profile, p database.Portfolio, templateID uint) (TemplateDecision, error) {
	if p.TemplateID != nil && *p.TemplateID == templateID {
		return TemplateUnchanged, nil
	}
	if !p.IsPaid && profile.TemplateChangeCount >= profile.MaxTemplateChanges {
		return TemplateUnchanged, ErrTemplateLimit
	}
	return TemplateChanged, nil
}

// RemainingTemplateChanges 返回剩余可切换次数，不会小于 0。
func RemainingTemplateChanges(profile database.Profile) int {
	remaining := profile.MaxTemplateChanges - profile.TemplateChangeCount
	if remaining < 0 {
		return 0
	}
	return remaining
}
