package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolioPro/internal/database"
)

var (
	// ErrInvalidCoupon 表示优惠码无效。
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponUsed 表示该用户已经兑换过优惠码。
	ErrCouponUsed = errors.New("coupon already redeemed")
)

const couponSignaturePrefix = "COUPON-"

// Checkout 是发起支付后返回给前端的信息。
type Checkout struct {
	OrderID     string  `json:"order_id"`
	Amount      float64 `json:"amount"`
	AmountPaise int64   `json:"amount_paise"`
	Currency    string  `json:"currency"`
	APIKey      string  `json:"api_key"`
	UserType    string  `json:"user_type"`
}

// Callback 是网关支付成功后的回调参数。
type Callback struct {
	OrderID   string `json:"razorpay_order_id" form:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id" form:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature" form:"razorpay_signature"`
}

// Options 配置支付服务。
type Options struct {
	KeyID      string
	KeySecret  string
	Currency   string
	CouponCode string
}

// Service 负责下单、回调校验与付款后的额度解锁。
type Service struct {
	db      *gorm.DB
	gateway Gateway
	opts    Options
}

// NewService 创建支付服务。
func NewService(db *gorm.DB, gateway Gateway, opts Options) *Service {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	return &Service{db: db, gateway: gateway, opts: opts}
}

// Initiate 为用户创建网关订单。
func (s *Service) Initiate(ctx context.Context, user database.User, profile database.Profile) (Checkout, error) {
	amount := PriceFor(profile)
	receipt := fmt.Sprintf("user-%d-%d", user.ID, time.Now().Unix())
	order, err := s.gateway.CreateOrder(ctx, amount, s.opts.Currency, receipt)
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{
		OrderID:     order.ID,
		Amount:      float64(amount) / 100,
		AmountPaise: amount,
		Currency:    s.opts.Currency,
		APIKey:      s.opts.KeyID,
		UserType:    profile.UserType,
	}, nil
}

// RedeemCoupon 使用优惠码免费解锁，生成一条零金额付款记录。
func (s *Service) RedeemCoupon(ctx context.Context, user database.User, code string) (*database.Payment, error) {
	code = strings.TrimSpace(code)
	if s.opts.CouponCode == "" || code != s.opts.CouponCode {
		return nil, ErrInvalidCoupon
	}
	ref := NewReference("coupon")
	payment := database.Payment{
		UserID:    user.ID,
		OrderID:   ref,
		PaymentID: ref,
		Signature: couponSignaturePrefix + code,
		Amount:    0,
	}
	// 每个用户只能兑换一次。
	prior := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ? AND signature LIKE ?", user.ID, couponSignaturePrefix+"%")
	}
	if err := s.unlock(ctx, user.ID, &payment, prior, ErrCouponUsed); err != nil {
		return nil, err
	}
	return &payment, nil
}

// Complete 校验回调签名，记录付款并解锁额度。签名无效时返回 ErrInvalidSignature。
// 同一 payment_id 重复回调时返回已有记录，不再重复解锁。
func (s *Service) Complete(ctx context.Context, user database.User, profile database.Profile, cb Callback) (*database.Payment, error) {
	if !VerifySignature(cb.OrderID, cb.PaymentID, cb.Signature, s.opts.KeySecret) {
		return nil, ErrInvalidSignature
	}
	payment := database.Payment{
		UserID:    user.ID,
		OrderID:   cb.OrderID,
		PaymentID: cb.PaymentID,
		Signature: cb.Signature,
		Amount:    PriceFor(profile),
	}
	prior := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("payment_id = ?", cb.PaymentID)
	}
	if err := s.unlock(ctx, user.ID, &payment, prior, nil); err != nil {
		return nil, err
	}
	return &payment, nil
}

// unlock 在一个事务内写入付款、转化推荐、标记作品集已付款并增加额度。
// prior 命中已有记录时不再解锁：onPrior 非空则返回它，否则把已有记录写回 payment。
func (s *Service) unlock(ctx context.Context, userID uint, payment *database.Payment, prior func(*gorm.DB) *gorm.DB, onPrior error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []database.Payment
		if err := prior(tx).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("find prior payment: %w", err)
		}
		if len(existing) > 0 {
			if onPrior != nil {
				return onPrior
			}
			if existing[0].UserID != userID {
				return ErrInvalidSignature
			}
			*payment = existing[0]
			return nil
		}

		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		now := time.Now()
		err := tx.Model(&database.Referral{}).
			Where("referred_id = ? AND is_converted = ?", userID, false).
			Updates(map[string]any{"is_converted": true, "converted_at": now}).Error
		if err != nil {
			return fmt.Errorf("convert referral: %w", err)
		}

		err = tx.Model(&database.Portfolio{}).
			Where("user_id = ? AND status = ? AND is_paid = ?", userID, database.PortfolioCompleted, false).
			Update("is_paid", true).Error
		if err != nil {
			return fmt.Errorf("mark portfolio paid: %w", err)
		}

		var profile database.Profile
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&profile).Error
		if err != nil {
			return fmt.Errorf("lock profile: %w", err)
		}
		return tx.Model(&profile).UpdateColumns(map[string]any{
			"max_template_changes": gorm.Expr("max_template_changes + ?", UnlockTemplateChanges),
			"portfolios_remaining": gorm.Expr("portfolios_remaining + ?", UnlockPortfolios),
		}).Error
	})
}

// Invoices 列出用户的付款记录。
func (s *Service) Invoices(ctx context.Context, userID uint) ([]database.Payment, error) {
	var payments []database.Payment
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error
	return payments, err
}

// Invoice 读取用户的一条付款记录。
func (s *Service) Invoice(ctx context.Context, userID, paymentID uint) (*database.Payment, error) {
	var payment database.Payment
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", paymentID, userID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
