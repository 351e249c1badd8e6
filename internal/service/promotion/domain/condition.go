// internal/service/promotion/domain/condition.go
package domain

// ConditionType 区分叶子条件的判定方式。
type ConditionType string

const (
	// ConditionMinAmount 购物车非赠品小计达到 MinAmount
	ConditionMinAmount ConditionType = "MIN_AMOUNT"
	// ConditionSpecificProduct 购物车内某商品数量达标
	ConditionSpecificProduct ConditionType = "SPECIFIC_PRODUCT"
	// ConditionProductCategory 购物车内某品类存在，且（可选）品类金额达标
	ConditionProductCategory ConditionType = "PRODUCT_CATEGORY"
	// ConditionProductQuantity 与 SPECIFIC_PRODUCT 同语义，仅为后台 UI 语义区分保留
	ConditionProductQuantity ConditionType = "PRODUCT_QUANTITY"
	// ConditionCustomExpression 自由表达式条件，交由表达式引擎求值
	ConditionCustomExpression ConditionType = "CUSTOM_EXPRESSION"
)

// GiftCondition 是条件树的一个节点。
// 不变式：有 Children 的节点按自身 Logic 递归组合子节点（忽略 Type），
// 没有 Children 的节点按 Type 做叶子判定。
type GiftCondition struct {
	ID       uint
	RuleID   uint
	ParentID *uint

	Type  ConditionType
	Logic Logic

	// 叶子条件的类型参数
	MinAmount         *float64
	ProductID         *uint
	MinQuantity       *int
	CategoryID        *uint
	MinCategoryAmount *float64
	Expression        string

	Children []*GiftCondition
}

// IsGroup 判断节点是否为组合节点。
func (c *GiftCondition) IsGroup() bool {
	return len(c.Children) > 0
}

// BuildConditionTree 把持久层取出的平铺节点组装成树。
// 单次遍历建立 parentID→children 索引，避免每个节点反复扫描全量兄弟列表。
// 输入顺序在各层级内保持稳定。
func BuildConditionTree(rows []*GiftCondition) []*GiftCondition {
	children := make(map[uint][]*GiftCondition, len(rows))
	var roots []*GiftCondition

	for _, row := range rows {
		if row.ParentID == nil {
			roots = append(roots, row)
		} else {
			children[*row.ParentID] = append(children[*row.ParentID], row)
		}
	}
	for _, row := range rows {
		row.Children = children[row.ID]
	}
	return roots
}
