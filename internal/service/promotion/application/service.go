// internal/service/promotion/application/service.go
package application

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/database"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/promotion/domain"
)

// PromotionService 定义了赠品规则引擎提供的所有业务用例：
// 规则 CRUD、资格聚合判定与用量统计。
// 规则聚合跨三张表（规则、条件树、赠品选项），所有写入走同一个事务。
type PromotionService struct {
	ruleRepo  domain.GiftRuleRepository
	usageRepo domain.GiftUsageRepository
	products  domain.ProductReader
	evaluator *domain.Evaluator
	tx        database.TxRunner
	tracer    trace.Tracer
}

// NewPromotionService 创建一个新的规则引擎服务实例。
func NewPromotionService(
	ruleRepo domain.GiftRuleRepository,
	usageRepo domain.GiftUsageRepository,
	products domain.ProductReader,
	evaluator *domain.Evaluator,
	tx database.TxRunner,
	tracer trace.Tracer,
) *PromotionService {
	return &PromotionService{
		ruleRepo:  ruleRepo,
		usageRepo: usageRepo,
		products:  products,
		evaluator: evaluator,
		tx:        tx,
		tracer:    tracer,
	}
}

// CreateRule 校验入参形状后持久化规则聚合。
// 引用了不存在的商品或时间区间倒置都会以 ValidationError 拒绝。
func (s *PromotionService) CreateRule(ctx context.Context, input *CreateGiftRuleInput, createdBy uint) (*domain.GiftRule, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.CreateRule")
	defer span.End()
	span.SetAttributes(attribute.String("rule.name", input.Name))

	if err := s.validateRuleShape(input); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.verifyProductsExist(ctx, giftProductIDs(input.GiftProducts)); err != nil {
		span.RecordError(err)
		return nil, err
	}

	rule := &domain.GiftRule{
		Name:               input.Name,
		Description:        input.Description,
		IsActive:           true,
		Priority:           input.Priority,
		ConditionLogic:     normalizeLogic(input.ConditionLogic),
		MaxUsesPerCustomer: input.MaxUsesPerCustomer,
		MaxTotalUses:       input.MaxTotalUses,
		ValidFrom:          input.ValidFrom,
		ValidUntil:         input.ValidUntil,
		Conditions:         toDomainConditions(input.Conditions),
		GiftProducts:       toDomainGiftProducts(input.GiftProducts),
		CreatedBy:          createdBy,
	}

	// 规则行、条件树、赠品选项要么全部落库要么全部不落
	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		return s.ruleRepo.Create(txCtx, rule)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist gift rule")
		return nil, err
	}

	logger.Ctx(ctx).Info().Uint("rule_id", rule.ID).Str("name", rule.Name).Msg("Gift rule created")
	return rule, nil
}

// UpdateRule 部分更新基础字段；conditions / giftProductIds 一旦给出，
// 整体先删后建替换对应子集合，而不是做增量 diff。
func (s *PromotionService) UpdateRule(ctx context.Context, id uint, input *UpdateGiftRuleInput) (*domain.GiftRule, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.UpdateRule")
	defer span.End()
	span.SetAttributes(attribute.Int("rule.id", int(id)))

	rule, err := s.ruleRepo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.IsActive != nil {
		rule.IsActive = *input.IsActive
	}
	if input.Priority != nil {
		rule.Priority = *input.Priority
	}
	if input.ConditionLogic != nil {
		rule.ConditionLogic = normalizeLogic(*input.ConditionLogic)
	}
	if input.MaxUsesPerCustomer != nil {
		rule.MaxUsesPerCustomer = input.MaxUsesPerCustomer
	}
	if input.MaxTotalUses != nil {
		rule.MaxTotalUses = input.MaxTotalUses
	}
	if input.ValidFrom != nil {
		rule.ValidFrom = input.ValidFrom
	}
	if input.ValidUntil != nil {
		rule.ValidUntil = input.ValidUntil
	}
	if rule.ValidFrom != nil && rule.ValidUntil != nil && !rule.ValidFrom.Before(*rule.ValidUntil) {
		return nil, domain.NewValidationError("validFrom", "validFrom must be before validUntil")
	}

	if input.Conditions != nil {
		for i := range *input.Conditions {
			if err := validateConditionInput(&(*input.Conditions)[i], "conditions"); err != nil {
				return nil, err
			}
		}
		if len(*input.Conditions) == 0 {
			return nil, domain.NewValidationError("conditions", "at least one condition is required")
		}
	}
	if input.GiftProducts != nil {
		if len(*input.GiftProducts) == 0 {
			return nil, domain.NewValidationError("giftProducts", "at least one gift product is required")
		}
		if err := s.verifyProductsExist(ctx, giftProductIDs(*input.GiftProducts)); err != nil {
			return nil, err
		}
	}

	// 子集合替换是先删后建，中途失败不能留下半套条件树
	err = s.tx.Transaction(ctx, func(txCtx context.Context) error {
		if err := s.ruleRepo.Update(txCtx, rule); err != nil {
			return err
		}
		if input.Conditions != nil {
			if err := s.ruleRepo.ReplaceConditions(txCtx, id, toDomainConditions(*input.Conditions)); err != nil {
				return err
			}
		}
		if input.GiftProducts != nil {
			if err := s.ruleRepo.ReplaceGiftProducts(txCtx, id, toDomainGiftProducts(*input.GiftProducts)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Ctx(ctx).Info().Uint("rule_id", id).Msg("Gift rule updated")
	return s.ruleRepo.FindByID(ctx, id)
}

// DeleteRule 删除规则。用量台账属于历史事实，保留不动。
func (s *PromotionService) DeleteRule(ctx context.Context, id uint) error {
	ctx, span := s.tracer.Start(ctx, "promotion.DeleteRule")
	defer span.End()

	err := s.tx.Transaction(ctx, func(txCtx context.Context) error {
		return s.ruleRepo.Delete(txCtx, id)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Uint("rule_id", id).Msg("Gift rule deleted")
	return nil
}

// GetRule 加载单条规则聚合。
func (s *PromotionService) GetRule(ctx context.Context, id uint) (*domain.GiftRule, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.GetRule")
	defer span.End()
	return s.ruleRepo.FindByID(ctx, id)
}

// GetActiveRules 返回启用且在有效期内的规则，按优先级降序。
// 用量上限与购物车内重复领取属于使用时语境，这里不做检查。
func (s *PromotionService) GetActiveRules(ctx context.Context) ([]*domain.GiftRule, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.GetActiveRules")
	defer span.End()
	return s.ruleRepo.FindActive(ctx, time.Now())
}

// EvaluateAllRules 对全部生效规则逐条判定，返回完整的判定结果列表。
// 调用方自行筛选 isEligible 的条目。
func (s *PromotionService) EvaluateAllRules(ctx context.Context, evalCtx *domain.EvaluationContext) ([]RuleEvaluationResult, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.EvaluateAllRules")
	defer span.End()
	span.SetAttributes(
		attribute.Int("user.id", int(evalCtx.UserID)),
		attribute.Float64("cart.subtotal", evalCtx.Subtotal),
	)

	rules, err := s.ruleRepo.FindActive(ctx, evalCtx.Now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	// 只为设置了个人上限的规则解析台账计数，避免无谓查询
	var cappedIDs []uint
	for _, rule := range rules {
		if rule.MaxUsesPerCustomer != nil {
			cappedIDs = append(cappedIDs, rule.ID)
		}
	}
	if len(cappedIDs) > 0 {
		usage, err := s.usageRepo.CountByUserForRules(ctx, evalCtx.UserID, cappedIDs)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		evalCtx.UserRuleUsage = usage
	}

	results := make([]RuleEvaluationResult, 0, len(rules))
	for _, rule := range rules {
		eval := s.evaluator.EvaluateRule(rule, evalCtx)
		results = append(results, RuleEvaluationResult{
			Rule:       rule,
			IsEligible: eval.IsEligible,
			Reason:     eval.Reason,
		})
	}
	span.SetAttributes(attribute.Int("rules.evaluated", len(results)))
	return results, nil
}

// GetEligibleGifts 返回当前购物车可领取的规则，且每条规则只带仍有货的赠品选项。
// 过滤后一个赠品都不剩的规则整条丢弃：给不出东西的规则没有展示意义。
func (s *PromotionService) GetEligibleGifts(ctx context.Context, evalCtx *domain.EvaluationContext) ([]EligibleRule, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.GetEligibleGifts")
	defer span.End()

	results, err := s.EvaluateAllRules(ctx, evalCtx)
	if err != nil {
		return nil, err
	}

	var productIDs []uint
	for _, result := range results {
		if !result.IsEligible {
			continue
		}
		for _, gp := range result.Rule.GiftProducts {
			productIDs = append(productIDs, gp.ProductID)
		}
	}
	if len(productIDs) == 0 {
		return nil, nil
	}

	infos, err := s.products.FindByIDs(ctx, productIDs)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var eligible []EligibleRule
	for _, result := range results {
		if !result.IsEligible {
			continue
		}
		var options []EligibleGiftProduct
		for _, gp := range result.Rule.GiftProducts {
			info, ok := infos[gp.ProductID]
			if !ok || info.Stock <= 0 {
				continue
			}
			if gp.RemainingStock != nil && *gp.RemainingStock <= 0 {
				continue
			}
			options = append(options, EligibleGiftProduct{
				ProductID:           gp.ProductID,
				Name:                info.Name,
				Price:               info.Price,
				Stock:               info.Stock,
				MaxQuantityPerOrder: gp.MaxQuantityPerOrder,
				RemainingStock:      gp.RemainingStock,
			})
		}
		if len(options) == 0 {
			continue
		}
		eligible = append(eligible, EligibleRule{Rule: result.Rule, GiftProducts: options})
	}
	return eligible, nil
}

// GetRuleStatistics 聚合某条规则的用量台账：总量、独立用户数、
// 送出的总价值、按赠品拆分、按天的时间序列（升序）。
func (s *PromotionService) GetRuleStatistics(ctx context.Context, id uint) (*RuleStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "promotion.GetRuleStatistics")
	defer span.End()
	span.SetAttributes(attribute.Int("rule.id", int(id)))

	rule, err := s.ruleRepo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	usages, err := s.usageRepo.ListByRule(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var productIDs []uint
	seen := make(map[uint]bool)
	for _, usage := range usages {
		if !seen[usage.ProductID] {
			seen[usage.ProductID] = true
			productIDs = append(productIDs, usage.ProductID)
		}
	}
	infos := map[uint]domain.ProductInfo{}
	if len(productIDs) > 0 {
		infos, err = s.products.FindByIDs(ctx, productIDs)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	stats := &RuleStatistics{RuleID: rule.ID, RuleName: rule.Name, TotalUses: len(usages)}

	users := make(map[uint]bool)
	perProduct := make(map[uint]*ProductUsageStat)
	perDay := make(map[string]int)
	for _, usage := range usages {
		users[usage.UserID] = true

		info := infos[usage.ProductID]
		stats.TotalValueGiven += info.Price

		stat, ok := perProduct[usage.ProductID]
		if !ok {
			stat = &ProductUsageStat{ProductID: usage.ProductID, ProductName: info.Name}
			perProduct[usage.ProductID] = stat
		}
		stat.Count++
		stat.ValueGiven += info.Price

		perDay[usage.UsedAt.Format("2006-01-02")]++
	}
	stats.DistinctUsers = len(users)

	for _, stat := range perProduct {
		stats.ByProduct = append(stats.ByProduct, *stat)
	}
	sort.Slice(stats.ByProduct, func(i, j int) bool {
		return stats.ByProduct[i].ProductID < stats.ByProduct[j].ProductID
	})

	for date, count := range perDay {
		stats.DailyUsage = append(stats.DailyUsage, DailyUsageStat{Date: date, Count: count})
	}
	sort.Slice(stats.DailyUsage, func(i, j int) bool {
		return stats.DailyUsage[i].Date < stats.DailyUsage[j].Date
	})

	return stats, nil
}

// --- 入参校验与转换 ---

func (s *PromotionService) validateRuleShape(input *CreateGiftRuleInput) error {
	if input.Name == "" {
		return domain.NewValidationError("name", "name is required")
	}
	if len(input.Conditions) == 0 {
		return domain.NewValidationError("conditions", "at least one condition is required")
	}
	if len(input.GiftProducts) == 0 {
		return domain.NewValidationError("giftProducts", "at least one gift product is required")
	}
	if input.ValidFrom != nil && input.ValidUntil != nil && !input.ValidFrom.Before(*input.ValidUntil) {
		return domain.NewValidationError("validFrom", "validFrom must be before validUntil")
	}
	for i := range input.Conditions {
		if err := validateConditionInput(&input.Conditions[i], "conditions"); err != nil {
			return err
		}
	}
	return nil
}

func validateConditionInput(cond *ConditionInput, field string) error {
	if len(cond.SubConditions) > 0 {
		for i := range cond.SubConditions {
			if err := validateConditionInput(&cond.SubConditions[i], field+".subConditions"); err != nil {
				return err
			}
		}
		return nil
	}

	switch domain.ConditionType(cond.Type) {
	case domain.ConditionMinAmount:
		if cond.MinAmount == nil {
			return domain.NewValidationError(field, "MIN_AMOUNT condition requires minAmount")
		}
	case domain.ConditionSpecificProduct, domain.ConditionProductQuantity:
		if cond.ProductID == nil {
			return domain.NewValidationError(field, "%s condition requires productId", cond.Type)
		}
	case domain.ConditionProductCategory:
		if cond.CategoryID == nil {
			return domain.NewValidationError(field, "PRODUCT_CATEGORY condition requires categoryId")
		}
	case domain.ConditionCustomExpression:
		if cond.Expression == "" {
			return domain.NewValidationError(field, "CUSTOM_EXPRESSION condition requires expression")
		}
	default:
		return domain.NewValidationError(field, "unknown condition type %q", cond.Type)
	}
	return nil
}

func (s *PromotionService) verifyProductsExist(ctx context.Context, ids []uint) error {
	infos, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := infos[id]; !ok {
			return domain.NewValidationError("giftProducts", "product %d does not exist", id)
		}
	}
	return nil
}

func giftProductIDs(inputs []GiftProductInput) []uint {
	ids := make([]uint, len(inputs))
	for i, in := range inputs {
		ids[i] = in.ProductID
	}
	return ids
}

func toDomainConditions(inputs []ConditionInput) []*domain.GiftCondition {
	conds := make([]*domain.GiftCondition, len(inputs))
	for i := range inputs {
		in := &inputs[i]
		conds[i] = &domain.GiftCondition{
			Type:              domain.ConditionType(in.Type),
			Logic:             normalizeLogic(in.Logic),
			MinAmount:         in.MinAmount,
			ProductID:         in.ProductID,
			MinQuantity:       in.MinQuantity,
			CategoryID:        in.CategoryID,
			MinCategoryAmount: in.MinCategoryAmount,
			Expression:        in.Expression,
			Children:          toDomainConditions(in.SubConditions),
		}
	}
	return conds
}

func toDomainGiftProducts(inputs []GiftProductInput) []domain.GiftProduct {
	products := make([]domain.GiftProduct, len(inputs))
	for i, in := range inputs {
		maxQty := in.MaxQuantityPerOrder
		if maxQty <= 0 {
			maxQty = 1
		}
		products[i] = domain.GiftProduct{
			ProductID:           in.ProductID,
			MaxQuantityPerOrder: maxQty,
			RemainingStock:      in.RemainingStock,
		}
	}
	return products
}

func normalizeLogic(logic string) domain.Logic {
	if domain.Logic(logic) == domain.LogicOr {
		return domain.LogicOr
	}
	return domain.LogicAnd
}
