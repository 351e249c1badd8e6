// internal/service/promotion/application/dto.go
package application

import (
	"time"

	"storefront/internal/service/promotion/domain"
)

// ConditionInput 是创建/更新规则时的条件节点入参，可递归嵌套。
type ConditionInput struct {
	Type  string `json:"type"`
	Logic string `json:"logic,omitempty"`

	MinAmount         *float64 `json:"minAmount,omitempty"`
	ProductID         *uint    `json:"productId,omitempty"`
	MinQuantity       *int     `json:"minQuantity,omitempty"`
	CategoryID        *uint    `json:"categoryId,omitempty"`
	MinCategoryAmount *float64 `json:"minCategoryAmount,omitempty"`
	Expression        string   `json:"expression,omitempty"`

	SubConditions []ConditionInput `json:"subConditions,omitempty"`
}

// GiftProductInput 指定规则的一个赠品选项。
type GiftProductInput struct {
	ProductID           uint `json:"productId"`
	MaxQuantityPerOrder int  `json:"maxQuantityPerOrder,omitempty"`
	RemainingStock      *int `json:"remainingStock,omitempty"`
}

// CreateGiftRuleInput 是创建规则用例的输入数据。
type CreateGiftRuleInput struct {
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Priority       int    `json:"priority,omitempty"`
	ConditionLogic string `json:"conditionLogic,omitempty"`

	MaxUsesPerCustomer *int `json:"maxUsesPerCustomer,omitempty"`
	MaxTotalUses       *int `json:"maxTotalUses,omitempty"`

	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`

	Conditions   []ConditionInput   `json:"conditions"`
	GiftProducts []GiftProductInput `json:"giftProducts"`
}

// UpdateGiftRuleInput 是部分更新入参。nil 字段保持不变；
// Conditions / GiftProducts 一旦给出则整体替换对应子集合。
type UpdateGiftRuleInput struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	IsActive       *bool   `json:"isActive,omitempty"`
	Priority       *int    `json:"priority,omitempty"`
	ConditionLogic *string `json:"conditionLogic,omitempty"`

	MaxUsesPerCustomer *int `json:"maxUsesPerCustomer,omitempty"`
	MaxTotalUses       *int `json:"maxTotalUses,omitempty"`

	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`

	Conditions   *[]ConditionInput   `json:"conditions,omitempty"`
	GiftProducts *[]GiftProductInput `json:"giftProducts,omitempty"`
}

// RuleEvaluationResult 是单条规则针对某个购物车的判定结果。
type RuleEvaluationResult struct {
	Rule       *domain.GiftRule `json:"rule"`
	IsEligible bool             `json:"isEligible"`
	Reason     string           `json:"reason,omitempty"`
}

// EligibleGiftProduct 是可领取规则下仍有货的赠品选项。
type EligibleGiftProduct struct {
	ProductID           uint    `json:"productId"`
	Name                string  `json:"name"`
	Price               float64 `json:"price"`
	Stock               int     `json:"stock"`
	MaxQuantityPerOrder int     `json:"maxQuantityPerOrder"`
	RemainingStock      *int    `json:"remainingStock,omitempty"`
}

// EligibleRule 是当前购物车可领取的规则及其有货赠品列表。
type EligibleRule struct {
	Rule         *domain.GiftRule      `json:"rule"`
	GiftProducts []EligibleGiftProduct `json:"giftProducts"`
}

// ProductUsageStat 是统计口径下按赠品聚合的一行。
type ProductUsageStat struct {
	ProductID   uint    `json:"productId"`
	ProductName string  `json:"productName"`
	Count       int     `json:"count"`
	ValueGiven  float64 `json:"valueGiven"`
}

// DailyUsageStat 是按天聚合的用量，时间升序。
type DailyUsageStat struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// RuleStatistics 聚合某条规则的用量台账。
type RuleStatistics struct {
	RuleID          uint               `json:"ruleId"`
	RuleName        string             `json:"ruleName"`
	TotalUses       int                `json:"totalUses"`
	DistinctUsers   int                `json:"distinctUsers"`
	TotalValueGiven float64            `json:"totalValueGiven"`
	ByProduct       []ProductUsageStat `json:"byProduct"`
	DailyUsage      []DailyUsageStat   `json:"dailyUsage"`
}

// GiftSelectionResult 是赠品选择校验的结果；Error 是面向用户的原因文案。
type GiftSelectionResult struct {
	IsValid bool   `json:"isValid"`
	Error   string `json:"error,omitempty"`
}

// GiftOrderValidation 是下单前对全部赠品行的校验结果。
// 与逐项选择不同，这里收集所有无效行而不是首个。
type GiftOrderValidation struct {
	IsValid bool `json:"isValid"`
	// InvalidGifts 是无效赠品对应的购物车行 ID
	InvalidGifts []uint   `json:"invalidGifts,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}
