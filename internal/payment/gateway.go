package payment

import (
	"context"
	"errors"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/segmentio/ksuid"
)

// Order 是网关返回的订单。
type Order struct {
	ID       string
	Amount   int64
	Currency string
}

// Gateway 抽象支付网关的下单能力。
type Gateway interface {
	CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (Order, error)
}

// RazorpayGateway 通过 razorpay-go 创建订单。
type RazorpayGateway struct {
	client *razorpay.Client
}

// NewRazorpayGateway 使用 key/secret 创建网关客户端。
func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

// CreateOrder 创建一笔自动捕获的订单。
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string) (Order, error) {
	if err := ctx.Err(); err != nil {
		return Order{}, err
	}
	body, err := g.client.Order.Create(map[string]interface{}{
		"amount":          amountPaise,
		"currency":        currency,
		"receipt":         receipt,
		"payment_capture": 1,
	}, nil)
	if err != nil {
		return Order{}, fmt.Errorf("razorpay create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return Order{}, errors.New("razorpay create order: missing id")
	}
	return Order{ID: id, Amount: amountPaise, Currency: currency}, nil
}

// NewReference 生成可排序的本地订单号，用于免费券和代理批量付款。
func NewReference(prefix string) string {
	return prefix + "_" + ksuid.New().String()
}
