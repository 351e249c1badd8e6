// internal/service/inventory/application/ledger.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	"storefront/internal/service/inventory/domain"
)

// 订单状态在台账里只认这两个特殊值，其余状态对库存没有直接含义。
const (
	statusDelivered = "DELIVERED"
	statusCancelled = "CANCELLED"
)

// ReservationLine 是一次台账操作涉及的订单行。
type ReservationLine struct {
	ProductID uint
	Quantity  int
}

// StockLedger 是库存预留台账：所有库存计数的变更都经过这里，
// 每次变更同时落一条 StockMovement 审计流水。
// 调用方负责把多行操作包在同一个事务里，台账本身不开事务。
type StockLedger struct {
	repo   domain.Repository
	tracer trace.Tracer
}

func NewStockLedger(repo domain.Repository, tracer trace.Tracer) *StockLedger {
	return &StockLedger{repo: repo, tracer: tracer}
}

// Reserve 为一条订单行占用库存。可卖量不足直接失败，不做部分占用。
func (l *StockLedger) Reserve(ctx context.Context, orderNo string, productID uint, quantity int) error {
	ctx, span := l.tracer.Start(ctx, "inventory.Reserve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("product.id", int(productID)),
		attribute.Int("quantity", quantity),
	)

	product, err := l.repo.FindByID(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if product.AvailableStock < quantity {
		logger.Ctx(ctx).Warn().
			Uint("product_id", productID).
			Int("available", product.AvailableStock).
			Int("requested", quantity).
			Msg("Reservation rejected: insufficient stock")
		return domain.ErrInsufficientStock
	}

	product.ReservedStock += quantity
	product.TotalOrdered += quantity
	product.RecalcAvailable()

	if err := l.repo.UpdateStockCounters(ctx, product); err != nil {
		span.RecordError(err)
		return err
	}
	return l.repo.InsertMovement(ctx, &domain.StockMovement{
		ProductID: productID,
		Type:      domain.MovementReserved,
		Quantity:  quantity,
		Reason:    "order created",
		OrderNo:   orderNo,
	})
}

// ApplyStatusTransition 按订单状态迁移调整每个商品的库存计数。
// 迁移效果表：
//
//	→ DELIVERED（非 CANCELLED 来）  stock-=q, reserved-=q(钳位), totalSold+=q, OUT
//	→ DELIVERED（CANCELLED 来）     已取消的订单早已释放预留，stock-=q 直接扣可卖量
//	→ CANCELLED（非 DELIVERED 来）  reserved-=q(钳位), 可卖量回补, RELEASED
//	→ CANCELLED（DELIVERED 来）     交付回退：stock+=q, totalSold-=q, RELEASED
//	DELIVERED → 其它非 CANCELLED    交付回退且恢复预留：stock+=q, reserved+=q, totalSold-=q
//	其余迁移                        不动库存
func (l *StockLedger) ApplyStatusTransition(ctx context.Context, orderNo string, lines []ReservationLine, from, to string) error {
	ctx, span := l.tracer.Start(ctx, "inventory.ApplyStatusTransition")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.no", orderNo),
		attribute.String("status.from", from),
		attribute.String("status.to", to),
	)

	for _, line := range lines {
		if err := l.applyLine(ctx, orderNo, line, from, to); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func (l *StockLedger) applyLine(ctx context.Context, orderNo string, line ReservationLine, from, to string) error {
	var movement domain.MovementType
	var reason string

	product, err := l.repo.FindByID(ctx, line.ProductID)
	if err != nil {
		return err
	}
	qty := line.Quantity

	switch {
	case to == statusDelivered && from == statusCancelled:
		// 取消时预留已释放，这里直接消耗实际库存
		product.Stock -= qty
		product.TotalSold += qty
		movement, reason = domain.MovementOut, "order delivered after cancellation"

	case to == statusDelivered && from != statusDelivered:
		l.releaseReserved(ctx, product, qty)
		product.Stock -= qty
		product.TotalSold += qty
		movement, reason = domain.MovementOut, "order delivered"

	case to == statusCancelled && from == statusDelivered:
		product.Stock += qty
		product.TotalSold -= qty
		movement, reason = domain.MovementReleased, "delivered order cancelled"

	case to == statusCancelled:
		l.releaseReserved(ctx, product, qty)
		movement, reason = domain.MovementReleased, "order cancelled"

	case from == statusDelivered && to != statusDelivered:
		// 交付回退到在途状态：库存归还并重新占用
		product.Stock += qty
		product.ReservedStock += qty
		product.TotalSold -= qty
		movement, reason = domain.MovementReleased, "delivery reverted"

	default:
		// PROCESSING/CONFIRMED/SHIPPED 之间的迁移不影响库存
		return nil
	}

	product.RecalcAvailable()
	if err := l.repo.UpdateStockCounters(ctx, product); err != nil {
		return err
	}
	return l.repo.InsertMovement(ctx, &domain.StockMovement{
		ProductID: product.ID,
		Type:      movement,
		Quantity:  qty,
		Reason:    reason,
		OrderNo:   orderNo,
	})
}

// releaseReserved 把预留量减去 qty，但绝不减到负数：
// 预留不足说明早期状态漂移，这里钳位到 0、记告警并继续，而不是让事务失败。
func (l *StockLedger) releaseReserved(ctx context.Context, product *domain.Product, qty int) {
	if product.ReservedStock >= qty {
		product.ReservedStock -= qty
		return
	}
	logger.Ctx(ctx).Warn().
		Uint("product_id", product.ID).
		Int("reserved", product.ReservedStock).
		Int("releasing", qty).
		Msg("Reserved stock drift detected, clamping to zero")
	metrics.StockClampCorrections.Inc()
	product.ReservedStock = 0
}

// Restock 入库：增加实际持有量与可卖量。
func (l *StockLedger) Restock(ctx context.Context, productID uint, quantity int, reason string) (*domain.Product, error) {
	ctx, span := l.tracer.Start(ctx, "inventory.Restock")
	defer span.End()
	span.SetAttributes(attribute.Int("product.id", int(productID)), attribute.Int("quantity", quantity))

	product, err := l.repo.FindByID(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	product.Stock += quantity
	product.RecalcAvailable()
	if err := l.repo.UpdateStockCounters(ctx, product); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := l.repo.InsertMovement(ctx, &domain.StockMovement{
		ProductID: productID,
		Type:      domain.MovementIn,
		Quantity:  quantity,
		Reason:    reason,
	}); err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Uint("product_id", productID).Int("quantity", quantity).Msg("Stock replenished")
	return product, nil
}
