// internal/service/inventory/domain/product.go
package domain

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product 维护三个库存计数：
// Stock 是实际持有量，ReservedStock 是被未交付订单占用的量，
// AvailableStock = Stock - ReservedStock 是当前可卖量。
type Product struct {
	ID         uint
	Name       string
	Price      float64
	CategoryID uint

	Stock          int
	ReservedStock  int
	AvailableStock int
	TotalSold      int
	TotalOrdered   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecalcAvailable 按不变量重算可卖量。任何计数变更之后都要调用。
func (p *Product) RecalcAvailable() {
	p.AvailableStock = p.Stock - p.ReservedStock
}

// MovementType 是库存流水的类型。
type MovementType string

const (
	MovementIn       MovementType = "IN"
	MovementOut      MovementType = "OUT"
	MovementReserved MovementType = "RESERVED"
	MovementReleased MovementType = "RELEASED"
)

// StockMovement 是只追加的库存审计流水，每次影响库存的操作各记一行。
type StockMovement struct {
	ID        uint
	ProductID uint
	Type      MovementType
	Quantity  int
	Reason    string
	OrderNo   string
	CreatedAt time.Time
}

// Repository 是商品与库存流水的出站端口。
type Repository interface {
	FindByID(ctx context.Context, id uint) (*Product, error)
	FindByIDs(ctx context.Context, ids []uint) (map[uint]*Product, error)
	List(ctx context.Context) ([]*Product, error)
	Create(ctx context.Context, product *Product) error
	Update(ctx context.Context, product *Product) error
	// UpdateStockCounters 只持久化五个库存计数字段
	UpdateStockCounters(ctx context.Context, product *Product) error
	InsertMovement(ctx context.Context, movement *StockMovement) error
	ListMovements(ctx context.Context, productID uint) ([]*StockMovement, error)
}
