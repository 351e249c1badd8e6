// internal/service/promotion/application/validator.go
package application

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/promotion/domain"
)

// 赠品选择校验特有的失败文案，与求值器的 Reason 常量共同构成对外契约。
const (
	ReasonRuleNotFound     = "Gift rule not found"
	ReasonNotGiftOption    = "Product is not a gift option for this rule"
	ReasonProductNoStock   = "Gift product is out of stock"
	ReasonRuleStockDrained = "Gift stock for this rule is exhausted"
)

// GiftValidator 在用户挑选赠品和下单前两个时点上校验赠品行的合法性。
// 与资格聚合判定不同，这里针对的是"规则 + 具体赠品"的组合。
type GiftValidator struct {
	ruleRepo  domain.GiftRuleRepository
	usageRepo domain.GiftUsageRepository
	products  domain.ProductReader
	evaluator *domain.Evaluator
	tracer    trace.Tracer
}

func NewGiftValidator(
	ruleRepo domain.GiftRuleRepository,
	usageRepo domain.GiftUsageRepository,
	products domain.ProductReader,
	evaluator *domain.Evaluator,
	tracer trace.Tracer,
) *GiftValidator {
	return &GiftValidator{
		ruleRepo:  ruleRepo,
		usageRepo: usageRepo,
		products:  products,
		evaluator: evaluator,
		tracer:    tracer,
	}
}

// ValidateGiftSelection 校验"用户从规则 ruleID 中挑选赠品 productID"是否合法。
// 检查按固定顺序执行，首个失败即返回：
// 规则存在 → 启用 → 有效期 → 属于赠品选项 → 商品有货 → 规则配额有余 →
// 购物车内未重复 → 个人上限 → 全局上限 → 条件树仍满足。
func (v *GiftValidator) ValidateGiftSelection(ctx context.Context, ruleID, productID uint, evalCtx *domain.EvaluationContext) (*GiftSelectionResult, error) {
	ctx, span := v.tracer.Start(ctx, "promotion.ValidateGiftSelection")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rule.id", int(ruleID)),
		attribute.Int("product.id", int(productID)),
	)

	rule, err := v.ruleRepo.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return &GiftSelectionResult{Error: ReasonRuleNotFound}, nil
		}
		span.RecordError(err)
		return nil, err
	}

	return v.validateAgainstRule(ctx, rule, productID, evalCtx)
}

func (v *GiftValidator) validateAgainstRule(ctx context.Context, rule *domain.GiftRule, productID uint, evalCtx *domain.EvaluationContext) (*GiftSelectionResult, error) {
	if !rule.IsActive {
		return &GiftSelectionResult{Error: domain.ReasonNotActive}, nil
	}

	now := evalCtx.Now
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return &GiftSelectionResult{Error: domain.ReasonNotYetValid}, nil
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return &GiftSelectionResult{Error: domain.ReasonExpired}, nil
	}

	var giftProduct *domain.GiftProduct
	for i := range rule.GiftProducts {
		if rule.GiftProducts[i].ProductID == productID {
			giftProduct = &rule.GiftProducts[i]
			break
		}
	}
	if giftProduct == nil {
		return &GiftSelectionResult{Error: ReasonNotGiftOption}, nil
	}

	infos, err := v.products.FindByIDs(ctx, []uint{productID})
	if err != nil {
		return nil, err
	}
	info, ok := infos[productID]
	if !ok || info.Stock <= 0 {
		return &GiftSelectionResult{Error: ReasonProductNoStock}, nil
	}
	if giftProduct.RemainingStock != nil && *giftProduct.RemainingStock <= 0 {
		return &GiftSelectionResult{Error: ReasonRuleStockDrained}, nil
	}

	if evalCtx.ExistingGiftRuleIDs[rule.ID] {
		return &GiftSelectionResult{Error: domain.ReasonAlreadySelected}, nil
	}

	if rule.MaxUsesPerCustomer != nil {
		used, err := v.usageRepo.CountByRuleAndUser(ctx, rule.ID, evalCtx.UserID)
		if err != nil {
			return nil, err
		}
		if used >= *rule.MaxUsesPerCustomer {
			return &GiftSelectionResult{Error: domain.ReasonCustomerLimitReached}, nil
		}
	}

	if rule.MaxTotalUses != nil && rule.CurrentTotalUses >= *rule.MaxTotalUses {
		return &GiftSelectionResult{Error: domain.ReasonUsageLimitReached}, nil
	}

	if !v.evaluator.EvaluateConditions(rule, evalCtx) {
		return &GiftSelectionResult{Error: domain.ReasonConditionsNotMet}, nil
	}

	return &GiftSelectionResult{IsValid: true}, nil
}

// ValidateGiftsInOrder 在下单前对购物车中全部赠品行做最终校验。
// 与逐项选择不同，这里收集所有无效行，一次性反馈给用户。
// 每个赠品行的校验快照要剔除该行自身：检查"购物车内未重复"时
// 只应看到其他行，否则每个赠品都会被自己顶掉。
func (v *GiftValidator) ValidateGiftsInOrder(ctx context.Context, userID uint, items []domain.CartLine) (*GiftOrderValidation, error) {
	ctx, span := v.tracer.Start(ctx, "promotion.ValidateGiftsInOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("user.id", int(userID)))

	validation := &GiftOrderValidation{IsValid: true}

	for _, line := range items {
		if !line.IsGift {
			continue
		}
		if line.GiftRuleID == nil {
			validation.IsValid = false
			validation.InvalidGifts = append(validation.InvalidGifts, line.LineID)
			validation.Errors = append(validation.Errors,
				fmt.Sprintf("gift %d: not linked to any rule", line.ProductID))
			continue
		}

		// 剔除当前行后重建快照
		others := make([]domain.CartLine, 0, len(items)-1)
		for _, other := range items {
			if other.LineID == line.LineID {
				continue
			}
			others = append(others, other)
		}
		evalCtx := domain.NewEvaluationContext(userID, others)

		result, err := v.ValidateGiftSelection(ctx, *line.GiftRuleID, line.ProductID, evalCtx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if !result.IsValid {
			validation.IsValid = false
			validation.InvalidGifts = append(validation.InvalidGifts, line.LineID)
			validation.Errors = append(validation.Errors,
				fmt.Sprintf("gift %d: %s", line.ProductID, result.Error))
		}
	}

	if !validation.IsValid {
		logger.Ctx(ctx).Warn().
			Uint("user_id", userID).
			Strs("errors", validation.Errors).
			Msg("Gift lines failed order validation")
	}
	return validation, nil
}
