package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 业务指标。
var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "registrations_total",
			Help:      "注册成功的账号数量。",
		},
		[]string{"user_type"},
	)

	paymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "results_total",
			Help:      "支付结果计数。",
		},
		[]string{"result"},
	)

	templateChangesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "template_changes_total",
			Help:      "模板切换次数。",
		},
	)

	portfoliosCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "created_total",
			Help:      "新建作品集数量。",
		},
	)

	securityEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "security",
			Name:      "events_total",
			Help:      "安全事件计数。",
		},
		[]string{"kind"},
	)
)

// 支付结果标签。
const (
	PaymentSucceeded = "succeeded"
	PaymentInvalid   = "invalid_signature"
	PaymentCoupon    = "coupon"
	PaymentFailed    = "failed"
)

// ObserveRegistration 记录一次注册。
func ObserveRegistration(userType string) { registrationsTotal.WithLabelValues(userType).Inc() }

// ObservePayment 记录一次支付结果。
func ObservePayment(result string) { paymentsTotal.WithLabelValues(result).Inc() }

// ObserveTemplateChange 记录一次计数的模板切换。
func ObserveTemplateChange() { templateChangesTotal.Inc() }

// ObservePortfolioCreated 记录一次新建作品集。
func ObservePortfolioCreated() { portfoliosCreatedTotal.Inc() }
