package portfolio

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxSlugAttempts 限制后缀探测次数。
const maxSlugAttempts = 1000

// Slugify 将任意文本转换为 URL 安全的 slug：分解重音字符后丢弃非 ASCII，
// 仅保留字母、数字、下划线与连字符，空白与连字符串折叠为单个连字符。
func Slugify(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	pendingDash := false
	for _, r := range decomposed {
		if r > unicode.MaxASCII {
			continue
		}
		r = unicode.ToLower(r)
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			pendingDash = true
		}
	}
	return strings.Trim(b.String(), "-_")
}

// BaseSlug 由用户名与姓名组成，缺失的姓名以 user/portfolio 占位。
func BaseSlug(username, firstName, lastName string) string {
	if strings.TrimSpace(firstName) == "" {
		firstName = "user"
	}
	if strings.TrimSpace(lastName) == "" {
		lastName = "portfolio"
	}
	base := Slugify(fmt.Sprintf("%s-%s-%s", username, firstName, lastName))
	if base == "" {
		base = "portfolio"
	}
	return base
}

// GenerateSlug 返回第一个未被占用的 slug：base、base-1、base-2……
func GenerateSlug(ctx context.Context, base string, exists func(context.Context, string) (bool, error)) (string, error) {
	candidate := base
	for counter := 1; counter <= maxSlugAttempts; counter++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, counter)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}
