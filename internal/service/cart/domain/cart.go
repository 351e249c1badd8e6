// internal/service/cart/domain/cart.go
package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrCartItemNotFound = errors.New("cart item not found")

// CartItem 是购物车里的一行。
// 不变量：同一用户同一商品至多一条非赠品行；同一用户同一规则至多一条赠品行。
type CartItem struct {
	ID         uint
	UserID     uint
	ProductID  uint
	Quantity   int
	IsGift     bool
	GiftRuleID *uint
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RemovedGift 记录一次赠品行被自动清退的事实，用于向用户解释。
type RemovedGift struct {
	CartItemID  uint   `json:"cartItemId"`
	ProductName string `json:"productName"`
	Reason      string `json:"reason"`
}

// Repository 是购物车行的出站端口。
type Repository interface {
	ListByUser(ctx context.Context, userID uint) ([]*CartItem, error)
	FindByID(ctx context.Context, userID, itemID uint) (*CartItem, error)
	// FindLine 查找非赠品行，不存在时返回 ErrCartItemNotFound
	FindLine(ctx context.Context, userID, productID uint) (*CartItem, error)
	FindGiftLine(ctx context.Context, userID, ruleID uint) (*CartItem, error)
	Create(ctx context.Context, item *CartItem) error
	Update(ctx context.Context, item *CartItem) error
	Delete(ctx context.Context, userID, itemID uint) error
	DeleteByUser(ctx context.Context, userID uint) error
}
