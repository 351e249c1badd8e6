// internal/service/order/application/service.go
package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/database"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	cartdomain "storefront/internal/service/cart/domain"
	inventoryapp "storefront/internal/service/inventory/application"
	inventorydomain "storefront/internal/service/inventory/domain"
	"storefront/internal/service/order/domain"
	"storefront/internal/service/order/port"
	promoapp "storefront/internal/service/promotion/application"
	promodomain "storefront/internal/service/promotion/domain"
)

// CreateOrderInput 是下单入参。订单行来自用户当前购物车，不由客户端提交。
type CreateOrderInput struct {
	PaymentMethod string `json:"paymentMethod"`
	VoucherCode   string `json:"voucherCode,omitempty"`
}

// OrderService 是下单编排器：设置闸门、赠品终审、库存预留、
// 用券、落单、记账、清车，全部收敛在一个事务里。
type OrderService struct {
	orderRepo     domain.OrderRepository
	voucherRepo   domain.VoucherRepository
	settings      domain.SettingsRepository
	cartRepo      cartdomain.Repository
	inventoryRepo inventorydomain.Repository
	ledger        *inventoryapp.StockLedger
	validator     *promoapp.GiftValidator
	ruleRepo      promodomain.GiftRuleRepository
	usageRepo     promodomain.GiftUsageRepository
	products      promodomain.ProductReader
	notifier      port.Notifier
	tx            database.TxRunner
	tracer        trace.Tracer
}

func NewOrderService(
	orderRepo domain.OrderRepository,
	voucherRepo domain.VoucherRepository,
	settings domain.SettingsRepository,
	cartRepo cartdomain.Repository,
	inventoryRepo inventorydomain.Repository,
	ledger *inventoryapp.StockLedger,
	validator *promoapp.GiftValidator,
	ruleRepo promodomain.GiftRuleRepository,
	usageRepo promodomain.GiftUsageRepository,
	products promodomain.ProductReader,
	notifier port.Notifier,
	tx database.TxRunner,
	tracer trace.Tracer,
) *OrderService {
	return &OrderService{
		orderRepo:     orderRepo,
		voucherRepo:   voucherRepo,
		settings:      settings,
		cartRepo:      cartRepo,
		inventoryRepo: inventoryRepo,
		ledger:        ledger,
		validator:     validator,
		ruleRepo:      ruleRepo,
		usageRepo:     usageRepo,
		products:      products,
		notifier:      notifier,
		tx:            tx,
		tracer:        tracer,
	}
}

// CreateOrder 从用户当前购物车创建订单。
// 步骤 1、2 是只读闸门，步骤 3 的全部写入在一个事务里，
// 任何一步失败整体回滚：不存在半个订单或孤儿预留。
func (s *OrderService) CreateOrder(ctx context.Context, userID uint, input *CreateOrderInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("user.id", int(userID)))

	// 1. 全局下单设置闸门
	settings, err := s.settings.Get(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	items, cartLines, total, err := s.loadCartSnapshot(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.NewBusinessRuleError("cart is empty")
	}

	if err := s.checkSettings(ctx, settings, total, input.PaymentMethod); err != nil {
		return nil, err
	}

	// 2. 赠品终审：购物车可能在客户端上次拉取后已经变化
	if err := s.validateGiftLines(ctx, userID, cartLines); err != nil {
		return nil, err
	}

	// 3. 单事务写入
	order := &domain.Order{
		OrderNumber:   "SO-" + uuid.NewString(),
		UserID:        userID,
		Status:        domain.StatusProcessing,
		Total:         total,
		PaymentMethod: input.PaymentMethod,
		VoucherCode:   input.VoucherCode,
	}
	for _, line := range items {
		order.Items = append(order.Items, line)
	}

	var productIDs []uint
	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		for _, item := range order.Items {
			if err := s.ledger.Reserve(txCtx, order.OrderNumber, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, inventorydomain.ErrInsufficientStock) {
					return domain.NewBusinessRuleError("insufficient stock for product %d", item.ProductID)
				}
				return err
			}
			productIDs = append(productIDs, item.ProductID)
		}

		var voucher *domain.Voucher
		if input.VoucherCode != "" {
			voucher, err = s.voucherRepo.FindByCode(txCtx, input.VoucherCode)
			if err != nil {
				if errors.Is(err, domain.ErrVoucherNotFound) {
					return domain.NewBusinessRuleError("voucher %q does not exist", input.VoucherCode)
				}
				return err
			}
			if !voucher.Usable() {
				return domain.NewBusinessRuleError("voucher %q is not usable", input.VoucherCode)
			}
			order.Total -= voucher.Discount
			if order.Total < 0 {
				order.Total = 0
			}
		}

		if err := s.orderRepo.Create(txCtx, order); err != nil {
			return err
		}

		if voucher != nil {
			if err := s.voucherRepo.IncrementUsedCount(txCtx, voucher.ID); err != nil {
				return err
			}
			if err := s.voucherRepo.InsertRedemption(txCtx, &domain.UserVoucher{
				UserID:    userID,
				VoucherID: voucher.ID,
				OrderID:   order.ID,
			}); err != nil {
				return err
			}
		}

		for _, item := range order.Items {
			if !item.IsGift || item.GiftRuleID == nil {
				continue
			}
			if err := s.usageRepo.Insert(txCtx, &promodomain.GiftRuleUsage{
				RuleID:    *item.GiftRuleID,
				UserID:    userID,
				OrderID:   order.ID,
				ProductID: item.ProductID,
			}); err != nil {
				return err
			}
			if err := s.ruleRepo.IncrementTotalUses(txCtx, *item.GiftRuleID); err != nil {
				return err
			}
		}

		return s.cartRepo.DeleteByUser(txCtx, userID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order creation failed")
		return nil, err
	}

	metrics.OrdersCreated.Inc()
	logger.Ctx(ctx).Info().
		Uint("user_id", userID).
		Str("order_no", order.OrderNumber).
		Float64("total", order.Total).
		Msg("Order created")

	// 4. 事务之外的尽力而为广播
	s.notifier.Notify(ctx, "order.created", order)
	s.broadcastStockSnapshots(ctx, productIDs)

	return order, nil
}

// UpdateOrderStatus 迁移订单状态：在一个事务里按迁移表结算每行库存
// 并落新状态，然后广播变更。只有原地迁移会被拒绝。
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID uint, next domain.Status) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateOrderStatus")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order.id", int(orderID)),
		attribute.String("status.next", string(next)),
	)

	if !domain.ValidStatus(next) {
		return nil, domain.NewBusinessRuleError("unknown order status %q", next)
	}

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := order.CanTransitionTo(next); err != nil {
		return nil, err
	}
	previous := order.Status

	lines := make([]inventoryapp.ReservationLine, len(order.Items))
	var productIDs []uint
	for i, item := range order.Items {
		lines[i] = inventoryapp.ReservationLine{ProductID: item.ProductID, Quantity: item.Quantity}
		productIDs = append(productIDs, item.ProductID)
	}

	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.ledger.ApplyStatusTransition(txCtx, order.OrderNumber, lines, string(previous), string(next)); err != nil {
			return err
		}
		return s.orderRepo.UpdateStatus(txCtx, orderID, next)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status transition failed")
		return nil, err
	}
	order.Status = next

	logger.Ctx(ctx).Info().
		Str("order_no", order.OrderNumber).
		Str("from", string(previous)).
		Str("to", string(next)).
		Msg("Order status changed")

	s.notifier.Notify(ctx, "order.status_changed", map[string]interface{}{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"from":        previous,
		"to":          next,
	})
	s.broadcastStockSnapshots(ctx, productIDs)

	return order, nil
}

// GetOrder 加载单个订单。
func (s *OrderService) GetOrder(ctx context.Context, orderID uint) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.GetOrder")
	defer span.End()
	return s.orderRepo.FindByID(ctx, orderID)
}

// ListUserOrders 按时间倒序列出用户订单。
func (s *OrderService) ListUserOrders(ctx context.Context, userID uint) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.ListUserOrders")
	defer span.End()
	return s.orderRepo.ListByUser(ctx, userID)
}

// GetSettings 读取全局下单设置（经缓存）。
func (s *OrderService) GetSettings(ctx context.Context) (*domain.OrderSettings, error) {
	ctx, span := s.tracer.Start(ctx, "order.GetSettings")
	defer span.End()
	return s.settings.Get(ctx)
}

// UpdateSettings 更新全局下单设置并使缓存失效。
func (s *OrderService) UpdateSettings(ctx context.Context, settings *domain.OrderSettings) error {
	ctx, span := s.tracer.Start(ctx, "order.UpdateSettings")
	defer span.End()

	if err := s.settings.Save(ctx, settings); err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Bool("ordering_blocked", settings.OrderingBlocked).Msg("Order settings updated")
	return nil
}

// loadCartSnapshot 把购物车行转成订单行：赠品价格归零，
// 真实价格存进 OriginalPrice，订单总额只累计非赠品行。
// 同时产出规则引擎用的行快照，供赠品终审复用。
func (s *OrderService) loadCartSnapshot(ctx context.Context, userID uint) ([]domain.OrderItem, []promodomain.CartLine, float64, error) {
	cartItems, err := s.cartRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(cartItems) == 0 {
		return nil, nil, 0, nil
	}

	ids := make([]uint, 0, len(cartItems))
	for _, item := range cartItems {
		ids = append(ids, item.ProductID)
	}
	infos, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, nil, 0, err
	}

	var items []domain.OrderItem
	var lines []promodomain.CartLine
	var total float64
	for _, item := range cartItems {
		info, ok := infos[item.ProductID]
		if !ok {
			return nil, nil, 0, domain.NewBusinessRuleError("product %d no longer exists", item.ProductID)
		}

		price := info.Price
		if item.IsGift {
			price = 0
		} else {
			total += price * float64(item.Quantity)
		}
		items = append(items, domain.OrderItem{
			ProductID:     item.ProductID,
			Quantity:      item.Quantity,
			Price:         price,
			OriginalPrice: info.Price,
			IsGift:        item.IsGift,
			GiftRuleID:    item.GiftRuleID,
		})
		lines = append(lines, promodomain.CartLine{
			LineID:     item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			Price:      info.Price,
			CategoryID: info.CategoryID,
			IsGift:     item.IsGift,
			GiftRuleID: item.GiftRuleID,
		})
	}
	return items, lines, total, nil
}

func (s *OrderService) checkSettings(ctx context.Context, settings *domain.OrderSettings, total float64, paymentMethod string) error {
	now := time.Now()
	if settings.BlockedNow(now) {
		logger.Ctx(ctx).Warn().Msg("Order rejected: ordering is blocked")
		return domain.NewBusinessRuleError("ordering is currently blocked")
	}
	if settings.MinOrderTotal > 0 && total < settings.MinOrderTotal {
		return domain.NewBusinessRuleError("order total %.2f is below the minimum of %.2f", total, settings.MinOrderTotal)
	}
	if settings.MaxOrderTotal > 0 && total > settings.MaxOrderTotal {
		return domain.NewBusinessRuleError("order total %.2f exceeds the maximum of %.2f", total, settings.MaxOrderTotal)
	}
	if !settings.PaymentAllowed(paymentMethod) {
		return domain.NewBusinessRuleError("payment method %q is not allowed", paymentMethod)
	}
	return nil
}

// validateGiftLines 下单前对赠品行做最后一道校验，任何一行无效都整单拒绝。
func (s *OrderService) validateGiftLines(ctx context.Context, userID uint, lines []promodomain.CartLine) error {
	hasGift := false
	for _, line := range lines {
		if line.IsGift {
			hasGift = true
			break
		}
	}
	if !hasGift {
		return nil
	}

	validation, err := s.validator.ValidateGiftsInOrder(ctx, userID, lines)
	if err != nil {
		return err
	}
	if !validation.IsValid {
		return domain.NewBusinessRuleError("invalid gift lines: %s", strings.Join(validation.Errors, "; "))
	}
	return nil
}

// broadcastStockSnapshots 给每个受影响商品广播最新库存快照，失败只记日志。
func (s *OrderService) broadcastStockSnapshots(ctx context.Context, productIDs []uint) {
	if len(productIDs) == 0 {
		return
	}
	seen := make(map[uint]bool, len(productIDs))
	unique := productIDs[:0]
	for _, id := range productIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	products, err := s.inventoryRepo.FindByIDs(ctx, unique)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Failed to load stock snapshots for broadcast")
		return
	}
	for _, product := range products {
		s.notifier.Notify(ctx, "stock.updated", map[string]interface{}{
			"productId":      product.ID,
			"stock":          product.Stock,
			"reservedStock":  product.ReservedStock,
			"availableStock": product.AvailableStock,
		})
	}
}
