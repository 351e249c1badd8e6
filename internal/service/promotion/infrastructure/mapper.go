// internal/service/promotion/infrastructure/mapper.go
package infrastructure

import (
	"storefront/internal/service/promotion/domain"
)

// toDomainRule 将数据库模型转换为领域模型。
// conditions 传入平铺行，由领域层的 BuildConditionTree 负责组装。
func toDomainRule(model *GiftRuleModel, conditions []GiftConditionModel, products []GiftProductModel) *domain.GiftRule {
	if model == nil {
		return nil
	}

	flat := make([]*domain.GiftCondition, len(conditions))
	for i := range conditions {
		flat[i] = toDomainCondition(&conditions[i])
	}

	giftProducts := make([]domain.GiftProduct, len(products))
	for i := range products {
		giftProducts[i] = domain.GiftProduct{
			ID:                  products[i].ID,
			RuleID:              products[i].RuleID,
			ProductID:           products[i].ProductID,
			MaxQuantityPerOrder: products[i].MaxQuantityPerOrder,
			RemainingStock:      products[i].RemainingStock,
		}
	}

	return &domain.GiftRule{
		ID:                 model.ID,
		Name:               model.Name,
		Description:        model.Description,
		IsActive:           model.IsActive,
		Priority:           model.Priority,
		ConditionLogic:     domain.Logic(model.ConditionLogic),
		MaxUsesPerCustomer: model.MaxUsesPerCustomer,
		MaxTotalUses:       model.MaxTotalUses,
		CurrentTotalUses:   model.CurrentTotalUses,
		ValidFrom:          model.ValidFrom,
		ValidUntil:         model.ValidUntil,
		Conditions:         domain.BuildConditionTree(flat),
		GiftProducts:       giftProducts,
		CreatedBy:          model.CreatedBy,
		CreatedAt:          model.CreatedAt,
		UpdatedAt:          model.UpdatedAt,
	}
}

func toDomainCondition(model *GiftConditionModel) *domain.GiftCondition {
	return &domain.GiftCondition{
		ID:                model.ID,
		RuleID:            model.RuleID,
		ParentID:          model.ParentID,
		Type:              domain.ConditionType(model.Type),
		Logic:             domain.Logic(model.Logic),
		MinAmount:         model.MinAmount,
		ProductID:         model.ProductID,
		MinQuantity:       model.MinQuantity,
		CategoryID:        model.CategoryID,
		MinCategoryAmount: model.MinCategoryAmount,
		Expression:        model.Expression,
	}
}

func fromDomainRule(rule *domain.GiftRule) *GiftRuleModel {
	return &GiftRuleModel{
		ID:                 rule.ID,
		Name:               rule.Name,
		Description:        rule.Description,
		IsActive:           rule.IsActive,
		Priority:           rule.Priority,
		ConditionLogic:     string(rule.ConditionLogic),
		MaxUsesPerCustomer: rule.MaxUsesPerCustomer,
		MaxTotalUses:       rule.MaxTotalUses,
		CurrentTotalUses:   rule.CurrentTotalUses,
		ValidFrom:          rule.ValidFrom,
		ValidUntil:         rule.ValidUntil,
		CreatedBy:          rule.CreatedBy,
	}
}

func fromDomainCondition(ruleID uint, parentID *uint, cond *domain.GiftCondition) *GiftConditionModel {
	return &GiftConditionModel{
		RuleID:            ruleID,
		ParentID:          parentID,
		Type:              string(cond.Type),
		Logic:             string(cond.Logic),
		MinAmount:         cond.MinAmount,
		ProductID:         cond.ProductID,
		MinQuantity:       cond.MinQuantity,
		CategoryID:        cond.CategoryID,
		MinCategoryAmount: cond.MinCategoryAmount,
		Expression:        cond.Expression,
	}
}

func fromDomainGiftProduct(ruleID uint, gp *domain.GiftProduct) *GiftProductModel {
	return &GiftProductModel{
		RuleID:              ruleID,
		ProductID:           gp.ProductID,
		MaxQuantityPerOrder: gp.MaxQuantityPerOrder,
		RemainingStock:      gp.RemainingStock,
	}
}

func toDomainUsage(model *GiftRuleUsageModel) *domain.GiftRuleUsage {
	return &domain.GiftRuleUsage{
		ID:        model.ID,
		RuleID:    model.RuleID,
		UserID:    model.UserID,
		OrderID:   model.OrderID,
		ProductID: model.ProductID,
		UsedAt:    model.UsedAt,
	}
}
