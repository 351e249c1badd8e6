// internal/service/cart/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/pkg/database"
	"storefront/internal/service/cart/domain"
)

// CartItemModel 是 cart_items 表的 GORM 模型
type CartItemModel struct {
	ID         uint  `gorm:"primaryKey"`
	UserID     uint  `gorm:"index:idx_cart_user;not null"`
	ProductID  uint  `gorm:"not null"`
	Quantity   int   `gorm:"not null;default:1"`
	IsGift     bool  `gorm:"not null;default:false"`
	GiftRuleID *uint `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (CartItemModel) TableName() string { return "cart_items" }

func toDomainItem(m *CartItemModel) *domain.CartItem {
	return &domain.CartItem{
		ID:         m.ID,
		UserID:     m.UserID,
		ProductID:  m.ProductID,
		Quantity:   m.Quantity,
		IsGift:     m.IsGift,
		GiftRuleID: m.GiftRuleID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func fromDomainItem(item *domain.CartItem) *CartItemModel {
	return &CartItemModel{
		ID:         item.ID,
		UserID:     item.UserID,
		ProductID:  item.ProductID,
		Quantity:   item.Quantity,
		IsGift:     item.IsGift,
		GiftRuleID: item.GiftRuleID,
	}
}

// GormCartRepository 是 cart.Repository 的 GORM 实现
type GormCartRepository struct {
	db *gorm.DB
}

func NewGormCartRepository(db *gorm.DB) *GormCartRepository {
	return &GormCartRepository{db: db}
}

func (r *GormCartRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormCartRepository) ListByUser(ctx context.Context, userID uint) ([]*domain.CartItem, error) {
	var models []CartItemModel
	err := r.conn(ctx).Where("user_id = ?", userID).Order("id").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list cart items")
	}
	items := make([]*domain.CartItem, len(models))
	for i := range models {
		items[i] = toDomainItem(&models[i])
	}
	return items, nil
}

func (r *GormCartRepository) FindByID(ctx context.Context, userID, itemID uint) (*domain.CartItem, error) {
	var model CartItemModel
	err := r.conn(ctx).Where("id = ? AND user_id = ?", itemID, userID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCartItemNotFound
		}
		return nil, errors.Wrap(err, "find cart item")
	}
	return toDomainItem(&model), nil
}

func (r *GormCartRepository) FindLine(ctx context.Context, userID, productID uint) (*domain.CartItem, error) {
	var model CartItemModel
	err := r.conn(ctx).
		Where("user_id = ? AND product_id = ? AND is_gift = ?", userID, productID, false).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCartItemNotFound
		}
		return nil, errors.Wrap(err, "find cart line")
	}
	return toDomainItem(&model), nil
}

func (r *GormCartRepository) FindGiftLine(ctx context.Context, userID, ruleID uint) (*domain.CartItem, error) {
	var model CartItemModel
	err := r.conn(ctx).
		Where("user_id = ? AND gift_rule_id = ? AND is_gift = ?", userID, ruleID, true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCartItemNotFound
		}
		return nil, errors.Wrap(err, "find gift line")
	}
	return toDomainItem(&model), nil
}

func (r *GormCartRepository) Create(ctx context.Context, item *domain.CartItem) error {
	model := fromDomainItem(item)
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "create cart item")
	}
	item.ID = model.ID
	return nil
}

func (r *GormCartRepository) Update(ctx context.Context, item *domain.CartItem) error {
	err := r.conn(ctx).Model(&CartItemModel{}).Where("id = ?", item.ID).
		Updates(map[string]interface{}{"quantity": item.Quantity}).Error
	return errors.Wrap(err, "update cart item")
}

func (r *GormCartRepository) Delete(ctx context.Context, userID, itemID uint) error {
	result := r.conn(ctx).Where("id = ? AND user_id = ?", itemID, userID).Delete(&CartItemModel{})
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete cart item")
	}
	if result.RowsAffected == 0 {
		return domain.ErrCartItemNotFound
	}
	return nil
}

func (r *GormCartRepository) DeleteByUser(ctx context.Context, userID uint) error {
	err := r.conn(ctx).Where("user_id = ?", userID).Delete(&CartItemModel{}).Error
	return errors.Wrap(err, "clear cart")
}
