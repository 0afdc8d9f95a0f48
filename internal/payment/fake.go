package payment

import (
	"context"
	"fmt"
	"sync"
)

// FakeGateway 在内存中生成订单，供测试与本地开发使用。
type FakeGateway struct {
	mu     sync.Mutex
	Orders []Order
	Err    error
}

// CreateOrder 记录订单并返回递增的订单号。
func (f *FakeGateway) CreateOrder(_ context.Context, amountPaise int64, currency, _ string) (Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return Order{}, f.Err
	}
	o := Order{ID: fmt.Sprintf("order_test_%d", len(f.Orders)+1), Amount: amountPaise, Currency: currency}
	f.Orders = append(f.Orders, o)
	return o, nil
}
