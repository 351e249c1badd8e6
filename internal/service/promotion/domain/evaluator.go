// internal/service/promotion/domain/evaluator.go
package domain

import "time"

// 规则判定失败的原因文案。接口层和测试都依赖这些确切字符串，不要随意改动。
const (
	ReasonNotActive            = "Rule is not active"
	ReasonNotYetValid          = "Rule is not yet valid"
	ReasonExpired              = "Rule has expired"
	ReasonUsageLimitReached    = "Rule usage limit reached"
	ReasonCustomerLimitReached = "Per-customer usage limit reached"
	ReasonAlreadySelected      = "Gift already selected from this rule"
	ReasonConditionsNotMet     = "Conditions not met"
)

// CartLine 是求值所需的购物车行快照。
type CartLine struct {
	LineID     uint
	ProductID  uint
	Quantity   int
	Price      float64
	CategoryID uint
	IsGift     bool
	GiftRuleID *uint
}

// EvaluationContext 是一次规则求值的完整输入。
// 求值器是纯函数式的：所有需要的外部状态（含用量台账的计数）
// 都由调用方预先解析进来，求值过程不触碰存储。
type EvaluationContext struct {
	UserID    uint
	CartItems []CartLine

	// Subtotal 只统计非赠品行的 price*quantity，赠品行永远不计入门槛
	Subtotal float64

	// ExistingGiftRuleIDs 当前购物车中已占用的规则（每规则至多一个赠品行）
	ExistingGiftRuleIDs map[uint]bool

	// UserRuleUsage 该用户在各规则上的历史领取次数（来自用量台账）
	UserRuleUsage map[uint]int

	Now time.Time
}

// NewEvaluationContext 从购物车快照构建求值上下文，按约定计算非赠品小计。
func NewEvaluationContext(userID uint, items []CartLine) *EvaluationContext {
	evalCtx := &EvaluationContext{
		UserID:              userID,
		CartItems:           items,
		ExistingGiftRuleIDs: make(map[uint]bool),
		UserRuleUsage:       make(map[uint]int),
		Now:                 time.Now(),
	}
	for _, item := range items {
		if item.IsGift {
			if item.GiftRuleID != nil {
				evalCtx.ExistingGiftRuleIDs[*item.GiftRuleID] = true
			}
			continue
		}
		evalCtx.Subtotal += item.Price * float64(item.Quantity)
	}
	return evalCtx
}

// RuleEvaluation 是单条规则的判定结果。
// 所有失败都以返回值表达，求值器从不抛出，也从不写存储。
type RuleEvaluation struct {
	IsEligible bool
	Reason     string
}

// ExpressionEngine 是 CUSTOM_EXPRESSION 条件的出站端口，
// 由基础设施层的表达式引擎适配器实现。
type ExpressionEngine interface {
	Evaluate(expression string, fact map[string]interface{}) (bool, error)
}

// Evaluator 对购物车快照判定条件与规则的满足情况，无任何副作用。
type Evaluator struct {
	expr ExpressionEngine
}

// NewEvaluator 创建求值器。expr 可以为 nil，此时表达式条件一律判 false。
func NewEvaluator(expr ExpressionEngine) *Evaluator {
	return &Evaluator{expr: expr}
}

// EvaluateRule 按固定顺序检查一条规则，首个失败项决定 Reason。
// 检查顺序是对外契约：启用状态 → 有效期 → 全局用量 → 个人用量 → 重复领取 → 条件树。
func (e *Evaluator) EvaluateRule(rule *GiftRule, evalCtx *EvaluationContext) RuleEvaluation {
	if !rule.IsActive {
		return RuleEvaluation{Reason: ReasonNotActive}
	}

	now := evalCtx.Now
	if now.IsZero() {
		now = time.Now()
	}
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return RuleEvaluation{Reason: ReasonNotYetValid}
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return RuleEvaluation{Reason: ReasonExpired}
	}

	if rule.MaxTotalUses != nil && rule.CurrentTotalUses >= *rule.MaxTotalUses {
		return RuleEvaluation{Reason: ReasonUsageLimitReached}
	}

	if rule.MaxUsesPerCustomer != nil && evalCtx.UserRuleUsage[rule.ID] >= *rule.MaxUsesPerCustomer {
		return RuleEvaluation{Reason: ReasonCustomerLimitReached}
	}

	if evalCtx.ExistingGiftRuleIDs[rule.ID] {
		return RuleEvaluation{Reason: ReasonAlreadySelected}
	}

	if !e.EvaluateConditions(rule, evalCtx) {
		return RuleEvaluation{Reason: ReasonConditionsNotMet}
	}

	return RuleEvaluation{IsEligible: true}
}

// EvaluateConditions 只判定规则的条件树，不做状态/用量/重复检查。
// 赠品选择校验在独立完成前五项检查后复用此入口。
func (e *Evaluator) EvaluateConditions(rule *GiftRule, evalCtx *EvaluationContext) bool {
	return e.evaluateGroup(rule.Conditions, rule.ConditionLogic, evalCtx)
}

// EvaluateCondition 判定单个条件节点。
// 组合节点忽略自身 Type，按自身 Logic 递归组合子节点；叶子节点按 Type 判定。
func (e *Evaluator) EvaluateCondition(cond *GiftCondition, evalCtx *EvaluationContext) bool {
	if cond.IsGroup() {
		return e.evaluateGroup(cond.Children, cond.Logic, evalCtx)
	}

	switch cond.Type {
	case ConditionMinAmount:
		// 边界取闭区间：小计恰好等于门槛时满足
		return cond.MinAmount != nil && evalCtx.Subtotal >= *cond.MinAmount

	case ConditionSpecificProduct, ConditionProductQuantity:
		if cond.ProductID == nil {
			return false
		}
		minQty := 1
		if cond.MinQuantity != nil {
			minQty = *cond.MinQuantity
		}
		for _, item := range evalCtx.CartItems {
			if !item.IsGift && item.ProductID == *cond.ProductID && item.Quantity >= minQty {
				return true
			}
		}
		return false

	case ConditionProductCategory:
		if cond.CategoryID == nil {
			return false
		}
		var total float64
		found := false
		for _, item := range evalCtx.CartItems {
			if !item.IsGift && item.CategoryID == *cond.CategoryID {
				found = true
				total += item.Price * float64(item.Quantity)
			}
		}
		if !found {
			return false
		}
		if cond.MinCategoryAmount != nil {
			return total >= *cond.MinCategoryAmount
		}
		return true

	case ConditionCustomExpression:
		if e.expr == nil || cond.Expression == "" {
			return false
		}
		ok, err := e.expr.Evaluate(cond.Expression, map[string]interface{}{
			"subtotal":  evalCtx.Subtotal,
			"itemCount": nonGiftItemCount(evalCtx.CartItems),
			"userId":    evalCtx.UserID,
		})
		if err != nil {
			return false
		}
		return ok
	}

	return false
}

// evaluateGroup 组合一组条件。空列表按约定恒真。
func (e *Evaluator) evaluateGroup(conds []*GiftCondition, logic Logic, evalCtx *EvaluationContext) bool {
	if len(conds) == 0 {
		return true
	}
	if logic == LogicOr {
		for _, cond := range conds {
			if e.EvaluateCondition(cond, evalCtx) {
				return true
			}
		}
		return false
	}
	// 未显式指定时按 AND 处理
	for _, cond := range conds {
		if !e.EvaluateCondition(cond, evalCtx) {
			return false
		}
	}
	return true
}

func nonGiftItemCount(items []CartLine) int {
	count := 0
	for _, item := range items {
		if !item.IsGift {
			count += item.Quantity
		}
	}
	return count
}
