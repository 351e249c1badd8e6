// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/pkg/database"
	"storefront/internal/service/inventory/domain"
)

// ProductModel 是 products 表的 GORM 模型
type ProductModel struct {
	ID         uint    `gorm:"primaryKey"`
	Name       string  `gorm:"size:255;not null"`
	Price      float64 `gorm:"not null"`
	CategoryID uint    `gorm:"index"`

	Stock          int `gorm:"not null;default:0"`
	ReservedStock  int `gorm:"not null;default:0"`
	AvailableStock int `gorm:"not null;default:0"`
	TotalSold      int `gorm:"not null;default:0"`
	TotalOrdered   int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProductModel) TableName() string { return "products" }

// StockMovementModel 是 stock_movements 表的 GORM 模型，只插入不更新
type StockMovementModel struct {
	ID        uint   `gorm:"primaryKey"`
	ProductID uint   `gorm:"index;not null"`
	Type      string `gorm:"size:16;not null"`
	Quantity  int    `gorm:"not null"`
	Reason    string `gorm:"size:255"`
	OrderNo   string `gorm:"size:64;index"`
	CreatedAt time.Time
}

func (StockMovementModel) TableName() string { return "stock_movements" }

func toDomainProduct(m *ProductModel) *domain.Product {
	return &domain.Product{
		ID:             m.ID,
		Name:           m.Name,
		Price:          m.Price,
		CategoryID:     m.CategoryID,
		Stock:          m.Stock,
		ReservedStock:  m.ReservedStock,
		AvailableStock: m.AvailableStock,
		TotalSold:      m.TotalSold,
		TotalOrdered:   m.TotalOrdered,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromDomainProduct(p *domain.Product) *ProductModel {
	return &ProductModel{
		ID:             p.ID,
		Name:           p.Name,
		Price:          p.Price,
		CategoryID:     p.CategoryID,
		Stock:          p.Stock,
		ReservedStock:  p.ReservedStock,
		AvailableStock: p.AvailableStock,
		TotalSold:      p.TotalSold,
		TotalOrdered:   p.TotalOrdered,
	}
}

// GormProductRepository 是 inventory.Repository 的 GORM 实现
type GormProductRepository struct {
	db *gorm.DB
}

func NewGormProductRepository(db *gorm.DB) *GormProductRepository {
	return &GormProductRepository{db: db}
}

func (r *GormProductRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormProductRepository) FindByID(ctx context.Context, id uint) (*domain.Product, error) {
	var model ProductModel
	if err := r.conn(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, errors.Wrap(err, "find product")
	}
	return toDomainProduct(&model), nil
}

func (r *GormProductRepository) FindByIDs(ctx context.Context, ids []uint) (map[uint]*domain.Product, error) {
	products := make(map[uint]*domain.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}
	var models []ProductModel
	if err := r.conn(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "find products")
	}
	for i := range models {
		products[models[i].ID] = toDomainProduct(&models[i])
	}
	return products, nil
}

func (r *GormProductRepository) List(ctx context.Context) ([]*domain.Product, error) {
	var models []ProductModel
	if err := r.conn(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products := make([]*domain.Product, len(models))
	for i := range models {
		products[i] = toDomainProduct(&models[i])
	}
	return products, nil
}

func (r *GormProductRepository) Create(ctx context.Context, product *domain.Product) error {
	model := fromDomainProduct(product)
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "create product")
	}
	product.ID = model.ID
	return nil
}

func (r *GormProductRepository) Update(ctx context.Context, product *domain.Product) error {
	err := r.conn(ctx).Model(&ProductModel{}).Where("id = ?", product.ID).
		Select("Name", "Price", "CategoryID").
		Updates(fromDomainProduct(product)).Error
	return errors.Wrap(err, "update product")
}

func (r *GormProductRepository) UpdateStockCounters(ctx context.Context, product *domain.Product) error {
	err := r.conn(ctx).Model(&ProductModel{}).Where("id = ?", product.ID).
		Updates(map[string]interface{}{
			"stock":           product.Stock,
			"reserved_stock":  product.ReservedStock,
			"available_stock": product.AvailableStock,
			"total_sold":      product.TotalSold,
			"total_ordered":   product.TotalOrdered,
		}).Error
	return errors.Wrap(err, "update stock counters")
}

func (r *GormProductRepository) InsertMovement(ctx context.Context, movement *domain.StockMovement) error {
	model := &StockMovementModel{
		ProductID: movement.ProductID,
		Type:      string(movement.Type),
		Quantity:  movement.Quantity,
		Reason:    movement.Reason,
		OrderNo:   movement.OrderNo,
	}
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "insert stock movement")
	}
	movement.ID = model.ID
	movement.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormProductRepository) ListMovements(ctx context.Context, productID uint) ([]*domain.StockMovement, error) {
	var models []StockMovementModel
	err := r.conn(ctx).Where("product_id = ?", productID).Order("id DESC").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list stock movements")
	}
	movements := make([]*domain.StockMovement, len(models))
	for i := range models {
		m := &models[i]
		movements[i] = &domain.StockMovement{
			ID:        m.ID,
			ProductID: m.ProductID,
			Type:      domain.MovementType(m.Type),
			Quantity:  m.Quantity,
			Reason:    m.Reason,
			OrderNo:   m.OrderNo,
			CreatedAt: m.CreatedAt,
		}
	}
	return movements, nil
}
