package application

import (
	"context"
	"sort"
	"time"

	"storefront/internal/service/promotion/domain"
)

// 包内共享的内存版仓储，行为对齐 GORM 实现的契约。

type fakeRuleRepo struct {
	nextID uint
	rules  map[uint]*domain.GiftRule
	order  []uint
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{nextID: 1, rules: make(map[uint]*domain.GiftRule)}
}

func (r *fakeRuleRepo) add(rule *domain.GiftRule) *domain.GiftRule {
	if rule.ID == 0 {
		rule.ID = r.nextID
	}
	if rule.ID >= r.nextID {
		r.nextID = rule.ID + 1
	}
	r.rules[rule.ID] = rule
	r.order = append(r.order, rule.ID)
	return rule
}

func (r *fakeRuleRepo) Create(_ context.Context, rule *domain.GiftRule) error {
	r.add(rule)
	return nil
}

func (r *fakeRuleRepo) FindByID(_ context.Context, id uint) (*domain.GiftRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, domain.ErrRuleNotFound
	}
	return rule, nil
}

func (r *fakeRuleRepo) FindActive(_ context.Context, now time.Time) ([]*domain.GiftRule, error) {
	var active []*domain.GiftRule
	for _, id := range r.order {
		rule := r.rules[id]
		if rule.IsActive && rule.InValidityWindow(now) {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active, nil
}

func (r *fakeRuleRepo) Update(_ context.Context, rule *domain.GiftRule) error {
	stored, ok := r.rules[rule.ID]
	if !ok {
		return domain.ErrRuleNotFound
	}
	stored.Name = rule.Name
	stored.Description = rule.Description
	stored.IsActive = rule.IsActive
	stored.Priority = rule.Priority
	stored.ConditionLogic = rule.ConditionLogic
	stored.MaxUsesPerCustomer = rule.MaxUsesPerCustomer
	stored.MaxTotalUses = rule.MaxTotalUses
	stored.ValidFrom = rule.ValidFrom
	stored.ValidUntil = rule.ValidUntil
	return nil
}

func (r *fakeRuleRepo) ReplaceConditions(_ context.Context, ruleID uint, conditions []*domain.GiftCondition) error {
	rule, ok := r.rules[ruleID]
	if !ok {
		return domain.ErrRuleNotFound
	}
	rule.Conditions = conditions
	return nil
}

func (r *fakeRuleRepo) ReplaceGiftProducts(_ context.Context, ruleID uint, products []domain.GiftProduct) error {
	rule, ok := r.rules[ruleID]
	if !ok {
		return domain.ErrRuleNotFound
	}
	rule.GiftProducts = products
	return nil
}

func (r *fakeRuleRepo) Delete(_ context.Context, id uint) error {
	if _, ok := r.rules[id]; !ok {
		return domain.ErrRuleNotFound
	}
	delete(r.rules, id)
	for i, stored := range r.order {
		if stored == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *fakeRuleRepo) IncrementTotalUses(_ context.Context, id uint) error {
	rule, ok := r.rules[id]
	if !ok {
		return domain.ErrRuleNotFound
	}
	rule.CurrentTotalUses++
	return nil
}

type fakeUsageRepo struct {
	usages []*domain.GiftRuleUsage
}

func (r *fakeUsageRepo) Insert(_ context.Context, usage *domain.GiftRuleUsage) error {
	usage.ID = uint(len(r.usages) + 1)
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now()
	}
	r.usages = append(r.usages, usage)
	return nil
}

func (r *fakeUsageRepo) CountByRuleAndUser(_ context.Context, ruleID, userID uint) (int, error) {
	count := 0
	for _, usage := range r.usages {
		if usage.RuleID == ruleID && usage.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (r *fakeUsageRepo) CountByUserForRules(_ context.Context, userID uint, ruleIDs []uint) (map[uint]int, error) {
	wanted := make(map[uint]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		wanted[id] = true
	}
	counts := make(map[uint]int)
	for _, usage := range r.usages {
		if usage.UserID == userID && wanted[usage.RuleID] {
			counts[usage.RuleID]++
		}
	}
	return counts, nil
}

func (r *fakeUsageRepo) ListByRule(_ context.Context, ruleID uint) ([]*domain.GiftRuleUsage, error) {
	var usages []*domain.GiftRuleUsage
	for _, usage := range r.usages {
		if usage.RuleID == ruleID {
			usages = append(usages, usage)
		}
	}
	return usages, nil
}

type fakeProductReader struct {
	products map[uint]domain.ProductInfo
}

func (r *fakeProductReader) FindByIDs(_ context.Context, ids []uint) (map[uint]domain.ProductInfo, error) {
	found := make(map[uint]domain.ProductInfo, len(ids))
	for _, id := range ids {
		if info, ok := r.products[id]; ok {
			found[id] = info
		}
	}
	return found, nil
}

// passthroughTx 直接执行 fn，事务边界的存在性由专门的测试覆盖。
type passthroughTx struct{}

func (passthroughTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func intPtr(n int) *int           { return &n }
func uintPtr(n uint) *uint        { return &n }
func floatPtr(f float64) *float64 { return &f }
