// internal/service/promotion/domain/repository.go
package domain

import (
	"context"
	"time"
)

// GiftRuleRepository 定义了规则聚合的持久化接口。
// 位于领域层，由基础设施层的 GORM 实现提供。
type GiftRuleRepository interface {
	// Create 持久化规则及其条件树、赠品行。调用方负责事务边界。
	Create(ctx context.Context, rule *GiftRule) error

	// FindByID 加载完整聚合（含条件树与赠品行）。未找到返回 ErrRuleNotFound。
	FindByID(ctx context.Context, id uint) (*GiftRule, error)

	// FindActive 返回启用且处于有效期内的规则，按 priority 降序、创建时间降序。
	FindActive(ctx context.Context, now time.Time) ([]*GiftRule, error)

	// Update 更新规则基础字段（不含子集合）。
	Update(ctx context.Context, rule *GiftRule) error

	// ReplaceConditions 全量替换条件树（先删后建，非增量 diff）。
	ReplaceConditions(ctx context.Context, ruleID uint, conditions []*GiftCondition) error

	// ReplaceGiftProducts 全量替换赠品集合。
	ReplaceGiftProducts(ctx context.Context, ruleID uint, products []GiftProduct) error

	// Delete 删除规则并级联删除条件与赠品行；用量台账保留。
	Delete(ctx context.Context, id uint) error

	// IncrementTotalUses 将 current_total_uses 原子加一。
	IncrementTotalUses(ctx context.Context, id uint) error
}

// GiftUsageRepository 是追加写入的用量台账接口。
type GiftUsageRepository interface {
	Insert(ctx context.Context, usage *GiftRuleUsage) error

	CountByRuleAndUser(ctx context.Context, ruleID, userID uint) (int, error)

	// CountByUserForRules 批量解析某用户在一组规则上的领取次数，供求值上下文使用。
	CountByUserForRules(ctx context.Context, userID uint, ruleIDs []uint) (map[uint]int, error)

	ListByRule(ctx context.Context, ruleID uint) ([]*GiftRuleUsage, error)
}

// ProductInfo 是本上下文需要了解的商品最小视图。
type ProductInfo struct {
	ID         uint
	Name       string
	Price      float64
	Stock      int
	CategoryID uint
}

// ProductReader 是读取商品信息的出站端口，由库存上下文适配。
type ProductReader interface {
	FindByIDs(ctx context.Context, ids []uint) (map[uint]ProductInfo, error)
}
