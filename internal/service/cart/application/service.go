// internal/service/cart/application/service.go
package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/metrics"
	"storefront/internal/service/cart/domain"
	promoapp "storefront/internal/service/promotion/application"
	promodomain "storefront/internal/service/promotion/domain"
)

// CartItemView 是面向接口层的购物车行视图，已带上商品快照。
type CartItemView struct {
	ID         uint    `json:"id"`
	ProductID  uint    `json:"productId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	CategoryID uint    `json:"categoryId"`
	IsGift     bool    `json:"isGift"`
	GiftRuleID *uint   `json:"giftRuleId,omitempty"`
	LineTotal  float64 `json:"lineTotal"`
}

// CartView 是整个购物车的视图。Subtotal 不含赠品行。
type CartView struct {
	Items    []CartItemView `json:"items"`
	Subtotal float64        `json:"subtotal"`
}

// MutationResult 是每次购物车变更后的统一返回：
// 新的购物车状态、被清退的赠品、以及变更后的可领取规则列表。
type MutationResult struct {
	Cart          *CartView              `json:"cart"`
	RemovedGifts  []domain.RemovedGift   `json:"removedGifts,omitempty"`
	EligibleRules []promoapp.EligibleRule `json:"eligibleRules,omitempty"`
}

// CartService 维护购物车并负责赠品行与规则状态的对账。
// 任何改变非赠品行的操作之后都要跑一遍 ReevaluateGifts，
// 保证购物车里不存在"失去资格但还躺着"的赠品。
type CartService struct {
	repo      domain.Repository
	ruleRepo  promodomain.GiftRuleRepository
	usageRepo promodomain.GiftUsageRepository
	products  promodomain.ProductReader
	promo     *promoapp.PromotionService
	validator *promoapp.GiftValidator
	evaluator *promodomain.Evaluator
	tracer    trace.Tracer
}

func NewCartService(
	repo domain.Repository,
	ruleRepo promodomain.GiftRuleRepository,
	usageRepo promodomain.GiftUsageRepository,
	products promodomain.ProductReader,
	promo *promoapp.PromotionService,
	validator *promoapp.GiftValidator,
	evaluator *promodomain.Evaluator,
	tracer trace.Tracer,
) *CartService {
	return &CartService{
		repo:      repo,
		ruleRepo:  ruleRepo,
		usageRepo: usageRepo,
		products:  products,
		promo:     promo,
		validator: validator,
		evaluator: evaluator,
		tracer:    tracer,
	}
}

// GetCart 返回购物车视图。
func (s *CartService) GetCart(ctx context.Context, userID uint) (*CartView, error) {
	ctx, span := s.tracer.Start(ctx, "cart.GetCart")
	defer span.End()

	_, view, _, err := s.snapshot(ctx, userID)
	return view, err
}

// AddItem 把商品加入购物车。已有同商品的非赠品行时合并数量。
func (s *CartService) AddItem(ctx context.Context, userID, productID uint, quantity int) (*MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "cart.AddItem")
	defer span.End()
	span.SetAttributes(
		attribute.Int("product.id", int(productID)),
		attribute.Int("quantity", quantity),
	)

	if quantity <= 0 {
		return nil, promodomain.NewValidationError("quantity", "quantity must be positive")
	}

	infos, err := s.products.FindByIDs(ctx, []uint{productID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if _, ok := infos[productID]; !ok {
		return nil, promodomain.NewValidationError("productId", "product %d does not exist", productID)
	}

	line, err := s.repo.FindLine(ctx, userID, productID)
	switch {
	case err == nil:
		line.Quantity += quantity
		if err := s.repo.Update(ctx, line); err != nil {
			span.RecordError(err)
			return nil, err
		}
	case errors.Is(err, domain.ErrCartItemNotFound):
		line = &domain.CartItem{UserID: userID, ProductID: productID, Quantity: quantity}
		if err := s.repo.Create(ctx, line); err != nil {
			span.RecordError(err)
			return nil, err
		}
	default:
		span.RecordError(err)
		return nil, err
	}

	return s.reconcileAndView(ctx, userID)
}

// UpdateQuantity 调整某行数量；数量归零等同删除该行。
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID uint, quantity int) (*MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "cart.UpdateQuantity")
	defer span.End()
	span.SetAttributes(attribute.Int("item.id", int(itemID)), attribute.Int("quantity", quantity))

	item, err := s.repo.FindByID(ctx, userID, itemID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if quantity <= 0 {
		if err := s.repo.Delete(ctx, userID, itemID); err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		item.Quantity = quantity
		if err := s.repo.Update(ctx, item); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	return s.reconcileAndView(ctx, userID)
}

// RemoveItem 删除某行。
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID uint) (*MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "cart.RemoveItem")
	defer span.End()
	span.SetAttributes(attribute.Int("item.id", int(itemID)))

	if err := s.repo.Delete(ctx, userID, itemID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return s.reconcileAndView(ctx, userID)
}

// GetEligibleGifts 返回当前购物车可领取的规则与赠品选项。
func (s *CartService) GetEligibleGifts(ctx context.Context, userID uint) ([]promoapp.EligibleRule, error) {
	ctx, span := s.tracer.Start(ctx, "cart.GetEligibleGifts")
	defer span.End()

	_, _, lines, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.promo.GetEligibleGifts(ctx, promodomain.NewEvaluationContext(userID, lines))
}

// AddGiftProduct 在完整校验通过后插入一条数量为 1 的赠品行。
// 校验失败不是系统错误：结果原样返回给接口层展示原因。
func (s *CartService) AddGiftProduct(ctx context.Context, userID, ruleID, productID uint) (*promoapp.GiftSelectionResult, *MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "cart.AddGiftProduct")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rule.id", int(ruleID)),
		attribute.Int("product.id", int(productID)),
	)

	_, _, lines, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.validator.ValidateGiftSelection(ctx, ruleID, productID, promodomain.NewEvaluationContext(userID, lines))
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if !result.IsValid {
		logger.Ctx(ctx).Info().
			Uint("user_id", userID).Uint("rule_id", ruleID).
			Str("reason", result.Error).
			Msg("Gift selection rejected")
		return result, nil, nil
	}

	gift := &domain.CartItem{
		UserID:     userID,
		ProductID:  productID,
		Quantity:   1,
		IsGift:     true,
		GiftRuleID: &ruleID,
	}
	if err := s.repo.Create(ctx, gift); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	metrics.GiftsGranted.Inc()

	_, view, _, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return result, &MutationResult{Cart: view}, nil
}

// ReevaluateGifts 对账：逐条复核购物车里的赠品行，清退失去资格的，
// 然后重算可领取列表。购物车没变时重复调用不产生任何写入。
func (s *CartService) ReevaluateGifts(ctx context.Context, userID uint) ([]domain.RemovedGift, []promoapp.EligibleRule, error) {
	ctx, span := s.tracer.Start(ctx, "cart.ReevaluateGifts")
	defer span.End()

	items, _, lines, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	infos, err := s.productInfos(ctx, items)
	if err != nil {
		return nil, nil, err
	}

	var removed []domain.RemovedGift
	for _, item := range items {
		if !item.IsGift {
			continue
		}

		reason, err := s.giftEvictionReason(ctx, item, lines)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		if reason == "" {
			continue
		}

		if err := s.repo.Delete(ctx, userID, item.ID); err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
		metrics.GiftsEvicted.Inc()
		removed = append(removed, domain.RemovedGift{
			CartItemID:  item.ID,
			ProductName: infos[item.ProductID].Name,
			Reason:      reason,
		})
		logger.Ctx(ctx).Info().
			Uint("user_id", userID).Uint("cart_item_id", item.ID).
			Str("reason", reason).
			Msg("Gift evicted from cart")
	}

	// 清退之后基于新状态重算可领取列表
	_, _, freshLines, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	eligible, err := s.promo.GetEligibleGifts(ctx, promodomain.NewEvaluationContext(userID, freshLines))
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return removed, eligible, nil
}

// giftEvictionReason 判定一条赠品行是否仍然成立，返回空串表示保留。
// 求值上下文要把该行自己的规则从"已占用"里剔除，否则合法赠品会被自己顶掉。
func (s *CartService) giftEvictionReason(ctx context.Context, item *domain.CartItem, lines []promodomain.CartLine) (string, error) {
	if item.GiftRuleID == nil {
		return "Gift is not linked to any rule", nil
	}

	rule, err := s.ruleRepo.FindByID(ctx, *item.GiftRuleID)
	if err != nil {
		if errors.Is(err, promodomain.ErrRuleNotFound) {
			return "Gift rule no longer exists", nil
		}
		return "", err
	}

	evalCtx := promodomain.NewEvaluationContext(item.UserID, lines)
	delete(evalCtx.ExistingGiftRuleIDs, rule.ID)

	if rule.MaxUsesPerCustomer != nil {
		usage, err := s.usageRepo.CountByUserForRules(ctx, item.UserID, []uint{rule.ID})
		if err != nil {
			return "", err
		}
		evalCtx.UserRuleUsage = usage
	}

	eval := s.evaluator.EvaluateRule(rule, evalCtx)
	if eval.IsEligible {
		return "", nil
	}
	return eval.Reason, nil
}

func (s *CartService) reconcileAndView(ctx context.Context, userID uint) (*MutationResult, error) {
	removed, eligible, err := s.ReevaluateGifts(ctx, userID)
	if err != nil {
		return nil, err
	}
	_, view, _, err := s.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &MutationResult{Cart: view, RemovedGifts: removed, EligibleRules: eligible}, nil
}

// snapshot 一次性加载购物车行、商品快照，并产出视图与求值用的行快照。
func (s *CartService) snapshot(ctx context.Context, userID uint) ([]*domain.CartItem, *CartView, []promodomain.CartLine, error) {
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}

	infos, err := s.productInfos(ctx, items)
	if err != nil {
		return nil, nil, nil, err
	}

	view := &CartView{Items: make([]CartItemView, 0, len(items))}
	lines := make([]promodomain.CartLine, 0, len(items))
	for _, item := range items {
		info := infos[item.ProductID]

		price := info.Price
		if item.IsGift {
			price = 0
		}
		lineTotal := price * float64(item.Quantity)
		view.Items = append(view.Items, CartItemView{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Name:       info.Name,
			Price:      price,
			Quantity:   item.Quantity,
			CategoryID: info.CategoryID,
			IsGift:     item.IsGift,
			GiftRuleID: item.GiftRuleID,
			LineTotal:  lineTotal,
		})
		if !item.IsGift {
			view.Subtotal += lineTotal
		}

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
	return items, view, lines, nil
}

func (s *CartService) productInfos(ctx context.Context, items []*domain.CartItem) (map[uint]promodomain.ProductInfo, error) {
	if len(items) == 0 {
		return map[uint]promodomain.ProductInfo{}, nil
	}
	ids := make([]uint, 0, len(items))
	seen := make(map[uint]bool, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	infos, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load product snapshots")
	}
	return infos, nil
}
