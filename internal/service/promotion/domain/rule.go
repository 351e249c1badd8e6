// internal/service/promotion/domain/rule.go
package domain

import "time"

// Logic 定义了条件组合的布尔逻辑。
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// GiftRule 是一条配置好的赠品促销规则，是本上下文的聚合根。
// 规则由后台创建，拥有一棵条件树和一组可选赠品。
type GiftRule struct {
	ID          uint
	Name        string
	Description string
	IsActive    bool

	// Priority 仅用于展示排序，所有满足的规则都会返回，不存在胜出淘汰
	Priority int

	// ConditionLogic 是顶层条件之间的组合逻辑
	ConditionLogic Logic

	// 用量上限。nil 表示不设限。
	MaxUsesPerCustomer *int
	MaxTotalUses       *int

	// CurrentTotalUses 单调递增：每个包含本规则赠品的已提交订单加一，
	// 订单取消也不回退（防刷策略，见 DESIGN.md）。
	CurrentTotalUses int

	ValidFrom  *time.Time
	ValidUntil *time.Time

	Conditions   []*GiftCondition
	GiftProducts []GiftProduct

	CreatedBy uint
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InValidityWindow 判断规则在给定时间点是否处于有效期内。
func (r *GiftRule) InValidityWindow(now time.Time) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	return true
}

// GiftProduct 把规则关联到一个可作为赠品的商品。
type GiftProduct struct {
	ID     uint
	RuleID uint

	ProductID           uint
	MaxQuantityPerOrder int

	// RemainingStock 是规则维度的赠品余量上限，独立于商品的全局库存。
	// nil 表示只受全局库存约束。
	RemainingStock *int
}

// GiftRuleUsage 是追加写入的用量台账，记录某用户在某订单中领取了某规则的某赠品。
// 只增不改不删，供用量上限检查与统计聚合使用。
type GiftRuleUsage struct {
	ID        uint
	RuleID    uint
	UserID    uint
	OrderID   uint
	ProductID uint
	UsedAt    time.Time
}
