// Package reports 提供代理与管理面板的汇总查询，用 squirrel 构造并经 gorm 执行。
package reports

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
)

// gorm 会把 ? 占位符转换为当前方言的格式。
var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

const dayLayout = "2006-01-02"

// AgentReferrals 是代理及其推荐人数。
type AgentReferrals struct {
	ReferrerID uint   `json:"referrer_id"`
	Username   string `json:"username"`
	Total      int64  `json:"total"`
}

func referralTotals() sq.SelectBuilder {
	return builder.
		Select("r.referrer_id AS referrer_id", "u.username AS username", "COUNT(r.id) AS total").
		From("referrals r").
		Join("users u ON u.id = r.referrer_id").
		Where(sq.Eq{"r.deleted_at": nil}).
		GroupBy("r.referrer_id", "u.username").
		OrderBy("total DESC", "u.username")
}

func scan(ctx context.Context, db *gorm.DB, q sq.Sqlizer, dst any) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err := db.WithContext(ctx).Raw(query, args...).Scan(dst).Error; err != nil {
		return fmt.Errorf("run query: %w", err)
	}
	return nil
}

// TopAgents 按推荐人数倒序返回前 limit 名代理，limit 为 0 时返回全部。
func TopAgents(ctx context.Context, db *gorm.DB, limit uint64) ([]AgentReferrals, error) {
	q := referralTotals()
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []AgentReferrals
	err := scan(ctx, db, q, &rows)
	return rows, err
}

// Rank 返回代理在推荐排行中的名次（从 1 开始）与上榜代理总数；没有推荐记录时名次为 0。
func Rank(ctx context.Context, db *gorm.DB, referrerID uint) (rank int, total int, err error) {
	var rows []AgentReferrals
	if err := scan(ctx, db, referralTotals(), &rows); err != nil {
		return 0, 0, err
	}
	for i, row := range rows {
		if row.ReferrerID == referrerID {
			return i + 1, len(rows), nil
		}
	}
	return 0, len(rows), nil
}

// DailyTotal 是某一天的付款总额（paise）。
type DailyTotal struct {
	Date   string `json:"date"`
	Amount int64  `json:"amount"`
}

// DailyPayments 返回截至 now 的最近 days 天每日付款总额，按日期升序，无付款的日期为 0。
func DailyPayments(ctx context.Context, db *gorm.DB, days int, now time.Time) ([]DailyTotal, error) {
	if days <= 0 {
		days = 7
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start := today.AddDate(0, 0, -(days - 1))

	q := builder.
		Select("created_at", "amount").
		From("payments").
		Where(sq.Eq{"deleted_at": nil}).
		Where(sq.GtOrEq{"created_at": start})

	var rows []struct {
		CreatedAt time.Time
		Amount    int64
	}
	if err := scan(ctx, db, q, &rows); err != nil {
		return nil, err
	}

	sums := make(map[string]int64, days)
	for _, row := range rows {
		sums[row.CreatedAt.In(now.Location()).Format(dayLayout)] += row.Amount
	}
	out := make([]DailyTotal, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format(dayLayout)
		out = append(out, DailyTotal{Date: day, Amount: sums[day]})
	}
	return out, nil
}
