package payment

import "portfolioPro/internal/database"

// 价格，单位为分（paise）。
const (
	AgentPricePaise  int64 = 69900
	NormalPricePaise int64 = 149900

	// PerStudentCost 代理为每位学生支付的金额（卢比）。
	PerStudentCost = 699.0

	// 付款成功后解锁的额度。
	UnlockTemplateChanges = 10
	UnlockPortfolios      = 3
)

// PriceFor 按用户类型返回价格。
func PriceFor(profile database.Profile) int64 {
	if profile.IsAgent() {
		return AgentPricePaise
	}
	return NormalPricePaise
}

// BulkAmount 计算代理批量付款金额。
func BulkAmount(students int) float64 {
	return float64(students) * PerStudentCost
}
