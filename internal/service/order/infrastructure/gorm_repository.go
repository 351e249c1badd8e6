// internal/service/order/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/pkg/database"
	"storefront/internal/service/order/domain"
)

// OrderModel 是 orders 表的 GORM 模型
type OrderModel struct {
	ID            uint    `gorm:"primaryKey"`
	OrderNumber   string  `gorm:"size:64;uniqueIndex;not null"`
	UserID        uint    `gorm:"index;not null"`
	Status        string  `gorm:"size:16;not null"`
	Total         float64 `gorm:"not null"`
	PaymentMethod string  `gorm:"size:32"`
	VoucherCode   string  `gorm:"size:64"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 是 order_items 表的 GORM 模型
type OrderItemModel struct {
	ID            uint    `gorm:"primaryKey"`
	OrderID       uint    `gorm:"index;not null"`
	ProductID     uint    `gorm:"not null"`
	Quantity      int     `gorm:"not null"`
	Price         float64 `gorm:"not null"`
	OriginalPrice float64 `gorm:"not null"`
	IsGift        bool    `gorm:"not null;default:false"`
	GiftRuleID    *uint
}

func (OrderItemModel) TableName() string { return "order_items" }

// VoucherModel 是 vouchers 表的 GORM 模型
type VoucherModel struct {
	ID        uint    `gorm:"primaryKey"`
	Code      string  `gorm:"size:64;uniqueIndex;not null"`
	Discount  float64 `gorm:"not null"`
	IsActive  bool    `gorm:"not null;default:true"`
	UsedCount int     `gorm:"not null;default:0"`
	MaxUses   *int
	CreatedAt time.Time
}

func (VoucherModel) TableName() string { return "vouchers" }

// UserVoucherModel 是 user_vouchers 表的 GORM 模型
type UserVoucherModel struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index;not null"`
	VoucherID uint `gorm:"not null"`
	OrderID   uint `gorm:"not null"`
	UsedAt    time.Time
}

func (UserVoucherModel) TableName() string { return "user_vouchers" }

// OrderSettingsModel 是 order_settings 表的 GORM 模型，单行表
type OrderSettingsModel struct {
	ID                    uint `gorm:"primaryKey"`
	OrderingBlocked       bool
	BlockedUntil          *time.Time
	MinOrderTotal         float64
	MaxOrderTotal         float64
	AllowedPaymentMethods string `gorm:"size:255"`
	UpdatedAt             time.Time
}

func (OrderSettingsModel) TableName() string { return "order_settings" }

func toDomainOrder(m *OrderModel, items []OrderItemModel) *domain.Order {
	order := &domain.Order{
		ID:            m.ID,
		OrderNumber:   m.OrderNumber,
		UserID:        m.UserID,
		Status:        domain.Status(m.Status),
		Total:         m.Total,
		PaymentMethod: m.PaymentMethod,
		VoucherCode:   m.VoucherCode,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:            item.ID,
			OrderID:       item.OrderID,
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Price:         item.Price,
			OriginalPrice: item.OriginalPrice,
			IsGift:        item.IsGift,
			GiftRuleID:    item.GiftRuleID,
		})
	}
	return order
}

// GormOrderRepository 是 OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx := r.conn(ctx)

	model := &OrderModel{
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
		VoucherCode:   order.VoucherCode,
	}
	if err := tx.Create(model).Error; err != nil {
		return errors.Wrap(err, "create order")
	}
	order.ID = model.ID

	for i := range order.Items {
		item := &OrderItemModel{
			OrderID:       model.ID,
			ProductID:     order.Items[i].ProductID,
			Quantity:      order.Items[i].Quantity,
			Price:         order.Items[i].Price,
			OriginalPrice: order.Items[i].OriginalPrice,
			IsGift:        order.Items[i].IsGift,
			GiftRuleID:    order.Items[i].GiftRuleID,
		}
		if err := tx.Create(item).Error; err != nil {
			return errors.Wrap(err, "create order item")
		}
		order.Items[i].ID = item.ID
		order.Items[i].OrderID = model.ID
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uint) (*domain.Order, error) {
	tx := r.conn(ctx)

	var model OrderModel
	if err := tx.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}

	var items []OrderItemModel
	if err := tx.Where("order_id = ?", id).Order("id").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "load order items")
	}
	return toDomainOrder(&model, items), nil
}

func (r *GormOrderRepository) ListByUser(ctx context.Context, userID uint) ([]*domain.Order, error) {
	tx := r.conn(ctx)

	var models []OrderModel
	if err := tx.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	if len(models) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}
	var items []OrderItemModel
	if err := tx.Where("order_id IN ?", ids).Order("id").Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "load order items")
	}
	byOrder := make(map[uint][]OrderItemModel)
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = toDomainOrder(&models[i], byOrder[models[i].ID])
	}
	return orders, nil
}

func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uint, status domain.Status) error {
	result := r.conn(ctx).Model(&OrderModel{}).Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return errors.Wrap(result.Error, "update order status")
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// GormVoucherRepository 是 VoucherRepository 的 GORM 实现
type GormVoucherRepository struct {
	db *gorm.DB
}

func NewGormVoucherRepository(db *gorm.DB) *GormVoucherRepository {
	return &GormVoucherRepository{db: db}
}

func (r *GormVoucherRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormVoucherRepository) FindByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	var model VoucherModel
	if err := r.conn(ctx).Where("code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrVoucherNotFound
		}
		return nil, errors.Wrap(err, "find voucher")
	}
	return &domain.Voucher{
		ID:        model.ID,
		Code:      model.Code,
		Discount:  model.Discount,
		IsActive:  model.IsActive,
		UsedCount: model.UsedCount,
		MaxUses:   model.MaxUses,
		CreatedAt: model.CreatedAt,
	}, nil
}

func (r *GormVoucherRepository) IncrementUsedCount(ctx context.Context, id uint) error {
	err := r.conn(ctx).Model(&VoucherModel{}).Where("id = ?", id).
		UpdateColumn("used_count", gorm.Expr("used_count + 1")).Error
	return errors.Wrap(err, "increment voucher used count")
}

func (r *GormVoucherRepository) InsertRedemption(ctx context.Context, redemption *domain.UserVoucher) error {
	model := &UserVoucherModel{
		UserID:    redemption.UserID,
		VoucherID: redemption.VoucherID,
		OrderID:   redemption.OrderID,
		UsedAt:    redemption.UsedAt,
	}
	if model.UsedAt.IsZero() {
		model.UsedAt = time.Now()
	}
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "insert voucher redemption")
	}
	redemption.ID = model.ID
	return nil
}

// GormSettingsRepository 是 SettingsRepository 的 GORM 实现。
// 设置存成单行，不存在时按全放行的默认值处理。
type GormSettingsRepository struct {
	db *gorm.DB
}

func NewGormSettingsRepository(db *gorm.DB) *GormSettingsRepository {
	return &GormSettingsRepository{db: db}
}

func (r *GormSettingsRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormSettingsRepository) Get(ctx context.Context) (*domain.OrderSettings, error) {
	var model OrderSettingsModel
	err := r.conn(ctx).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.OrderSettings{}, nil
		}
		return nil, errors.Wrap(err, "load order settings")
	}

	settings := &domain.OrderSettings{
		OrderingBlocked: model.OrderingBlocked,
		BlockedUntil:    model.BlockedUntil,
		MinOrderTotal:   model.MinOrderTotal,
		MaxOrderTotal:   model.MaxOrderTotal,
	}
	if model.AllowedPaymentMethods != "" {
		settings.AllowedPaymentMethods = strings.Split(model.AllowedPaymentMethods, ",")
	}
	return settings, nil
}

func (r *GormSettingsRepository) Save(ctx context.Context, settings *domain.OrderSettings) error {
	model := OrderSettingsModel{
		ID:                    1,
		OrderingBlocked:       settings.OrderingBlocked,
		BlockedUntil:          settings.BlockedUntil,
		MinOrderTotal:         settings.MinOrderTotal,
		MaxOrderTotal:         settings.MaxOrderTotal,
		AllowedPaymentMethods: strings.Join(settings.AllowedPaymentMethods, ","),
	}
	err := r.conn(ctx).Save(&model).Error
	return errors.Wrap(err, "save order settings")
}
