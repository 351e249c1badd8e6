// internal/service/order/domain/order.go
package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var ErrOrderNotFound = errors.New("order not found")

// BusinessRuleError 表示一次被业务规则拒绝的操作，
// Reason 是面向用户的完整解释文案。
type BusinessRuleError struct {
	Reason string
}

func (e *BusinessRuleError) Error() string { return e.Reason }

func NewBusinessRuleError(format string, args ...interface{}) *BusinessRuleError {
	return &BusinessRuleError{Reason: fmt.Sprintf(format, args...)}
}

// IsBusinessRule 判断 err 是否为业务规则拒绝。
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// Status 是订单状态。
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// ValidStatus 判断给定值是否为已知的订单状态。
func ValidStatus(s Status) bool {
	switch s {
	case StatusProcessing, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Order 是订单聚合根。
type Order struct {
	ID            uint
	OrderNumber   string
	UserID        uint
	Status        Status
	Total         float64
	PaymentMethod string
	VoucherCode   string
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem 是订单行。赠品行 Price 为 0，OriginalPrice 保留真实价格用于报表。
type OrderItem struct {
	ID            uint
	OrderID       uint
	ProductID     uint
	Quantity      int
	Price         float64
	OriginalPrice float64
	IsGift        bool
	GiftRuleID    *uint
}

// CanTransitionTo 状态迁移守卫。除了拒绝原地迁移之外刻意保持宽松，
// 任意状态间的跳转都交给库存台账按迁移表结算。
func (o *Order) CanTransitionTo(next Status) error {
	if o.Status == next {
		return NewBusinessRuleError("order is already %s", next)
	}
	return nil
}

// Voucher 是满减/折扣券。
type Voucher struct {
	ID        uint
	Code      string
	Discount  float64
	IsActive  bool
	UsedCount int
	MaxUses   *int
	CreatedAt time.Time
}

// Usable 判断券当前是否可用。
func (v *Voucher) Usable() bool {
	if !v.IsActive {
		return false
	}
	if v.MaxUses != nil && v.UsedCount >= *v.MaxUses {
		return false
	}
	return true
}

// UserVoucher 是一次用券记录。
type UserVoucher struct {
	ID        uint
	UserID    uint
	VoucherID uint
	OrderID   uint
	UsedAt    time.Time
}

// OrderSettings 是全局下单设置。以实体存储为准，内存/Redis 只是缓存。
type OrderSettings struct {
	OrderingBlocked       bool
	BlockedUntil          *time.Time
	MinOrderTotal         float64
	MaxOrderTotal         float64
	AllowedPaymentMethods []string
}

// BlockedNow 判断当前时刻下单是否被封禁。
// BlockedUntil 过期后封禁自动失效，即使开关还开着。
func (s *OrderSettings) BlockedNow(now time.Time) bool {
	if !s.OrderingBlocked {
		return false
	}
	if s.BlockedUntil != nil && now.After(*s.BlockedUntil) {
		return false
	}
	return true
}

// PaymentAllowed 判断支付方式是否在白名单内。空白名单放行所有方式。
func (s *OrderSettings) PaymentAllowed(method string) bool {
	if len(s.AllowedPaymentMethods) == 0 {
		return true
	}
	for _, allowed := range s.AllowedPaymentMethods {
		if allowed == method {
			return true
		}
	}
	return false
}

// OrderRepository 是订单聚合的出站端口。
type OrderRepository interface {
	Create(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id uint) (*Order, error)
	ListByUser(ctx context.Context, userID uint) ([]*Order, error)
	UpdateStatus(ctx context.Context, id uint, status Status) error
}

// VoucherRepository 是券的出站端口。
type VoucherRepository interface {
	FindByCode(ctx context.Context, code string) (*Voucher, error)
	IncrementUsedCount(ctx context.Context, id uint) error
	InsertRedemption(ctx context.Context, redemption *UserVoucher) error
}

var ErrVoucherNotFound = errors.New("voucher not found")

// SettingsRepository 是下单设置的出站端口。
type SettingsRepository interface {
	Get(ctx context.Context) (*OrderSettings, error)
	Save(ctx context.Context, settings *OrderSettings) error
}
