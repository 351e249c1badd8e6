package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"storefront/internal/service/promotion/domain"
)

func newServiceFixture() (*PromotionService, *fakeRuleRepo, *fakeUsageRepo, *fakeProductReader) {
	ruleRepo := newFakeRuleRepo()
	usageRepo := &fakeUsageRepo{}
	products := &fakeProductReader{products: map[uint]domain.ProductInfo{
		10: {ID: 10, Name: "Keyboard", Price: 50, Stock: 100, CategoryID: 1},
		99: {ID: 99, Name: "Sticker Pack", Price: 5, Stock: 20, CategoryID: 2},
		77: {ID: 77, Name: "Sold Out Mug", Price: 8, Stock: 0, CategoryID: 2},
	}}
	service := NewPromotionService(ruleRepo, usageRepo, products, domain.NewEvaluator(nil), passthroughTx{}, otel.Tracer("test"))
	return service, ruleRepo, usageRepo, products
}

func validCreateInput() *CreateGiftRuleInput {
	return &CreateGiftRuleInput{
		Name:           "spend 100 get stickers",
		ConditionLogic: "AND",
		Conditions: []ConditionInput{
			{Type: "MIN_AMOUNT", MinAmount: floatPtr(100)},
		},
		GiftProducts: []GiftProductInput{
			{ProductID: 99, MaxQuantityPerOrder: 1},
		},
	}
}

func TestCreateRule(t *testing.T) {
	t.Parallel()

	t.Run("persists a well-formed rule", func(t *testing.T) {
		service, ruleRepo, _, _ := newServiceFixture()

		rule, err := service.CreateRule(context.Background(), validCreateInput(), 7)
		require.NoError(t, err)
		require.NotZero(t, rule.ID)
		require.True(t, rule.IsActive)
		require.Equal(t, uint(7), rule.CreatedBy)
		require.Len(t, ruleRepo.rules, 1)
	})

	tests := []struct {
		name   string
		mutate func(*CreateGiftRuleInput)
	}{
		{"missing name", func(in *CreateGiftRuleInput) { in.Name = "" }},
		{"no conditions", func(in *CreateGiftRuleInput) { in.Conditions = nil }},
		{"no gift products", func(in *CreateGiftRuleInput) { in.GiftProducts = nil }},
		{"MIN_AMOUNT without amount", func(in *CreateGiftRuleInput) { in.Conditions[0].MinAmount = nil }},
		{"unknown condition type", func(in *CreateGiftRuleInput) { in.Conditions[0].Type = "FULL_MOON" }},
		{"unknown gift product", func(in *CreateGiftRuleInput) { in.GiftProducts[0].ProductID = 404 }},
		{"inverted validity window", func(in *CreateGiftRuleInput) {
			from := time.Now().Add(time.Hour)
			until := time.Now()
			in.ValidFrom, in.ValidUntil = &from, &until
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, _, _, _ := newServiceFixture()
			input := validCreateInput()
			tt.mutate(input)

			_, err := service.CreateRule(context.Background(), input, 7)
			require.Error(t, err)
			require.True(t, domain.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestUpdateRuleReplacesChildSets(t *testing.T) {
	t.Parallel()
	service, _, _, _ := newServiceFixture()

	rule, err := service.CreateRule(context.Background(), validCreateInput(), 7)
	require.NoError(t, err)

	newConds := []ConditionInput{
		{Type: "SPECIFIC_PRODUCT", ProductID: uintPtr(10), MinQuantity: intPtr(3)},
	}
	newProducts := []GiftProductInput{{ProductID: 10, MaxQuantityPerOrder: 2}}
	name := "renamed"
	updated, err := service.UpdateRule(context.Background(), rule.ID, &UpdateGiftRuleInput{
		Name:         &name,
		Conditions:   &newConds,
		GiftProducts: &newProducts,
	})
	require.NoError(t, err)
	require.Equal(t, "renamed", updated.Name)
	require.Len(t, updated.Conditions, 1)
	require.Equal(t, domain.ConditionSpecificProduct, updated.Conditions[0].Type)
	require.Len(t, updated.GiftProducts, 1)
	require.Equal(t, uint(10), updated.GiftProducts[0].ProductID)
}

func TestUpdateRuleNotFound(t *testing.T) {
	t.Parallel()
	service, _, _, _ := newServiceFixture()

	_, err := service.UpdateRule(context.Background(), 404, &UpdateGiftRuleInput{})
	require.ErrorIs(t, err, domain.ErrRuleNotFound)
}

func TestDeleteRuleKeepsUsageLedger(t *testing.T) {
	t.Parallel()
	service, ruleRepo, usageRepo, _ := newServiceFixture()

	rule, err := service.CreateRule(context.Background(), validCreateInput(), 7)
	require.NoError(t, err)
	usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: rule.ID, UserID: 42, OrderID: 1, ProductID: 99})

	require.NoError(t, service.DeleteRule(context.Background(), rule.ID))
	require.Empty(t, ruleRepo.rules)
	require.Len(t, usageRepo.usages, 1)

	require.ErrorIs(t, service.DeleteRule(context.Background(), rule.ID), domain.ErrRuleNotFound)
}

func TestEvaluateAllRulesResolvesUsageCounts(t *testing.T) {
	t.Parallel()
	service, ruleRepo, usageRepo, _ := newServiceFixture()

	capped := ruleRepo.add(&domain.GiftRule{
		Name:               "once per customer",
		IsActive:           true,
		MaxUsesPerCustomer: intPtr(1),
		GiftProducts:       []domain.GiftProduct{{ProductID: 99}},
	})
	open := ruleRepo.add(&domain.GiftRule{
		Name:         "no caps",
		IsActive:     true,
		GiftProducts: []domain.GiftProduct{{ProductID: 99}},
	})
	usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: capped.ID, UserID: 42, OrderID: 1, ProductID: 99})

	evalCtx := domain.NewEvaluationContext(42, []domain.CartLine{
		{LineID: 1, ProductID: 10, Quantity: 1, Price: 50},
	})
	results, err := service.EvaluateAllRules(context.Background(), evalCtx)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := make(map[uint]RuleEvaluationResult)
	for _, result := range results {
		byID[result.Rule.ID] = result
	}
	require.False(t, byID[capped.ID].IsEligible)
	require.Equal(t, domain.ReasonCustomerLimitReached, byID[capped.ID].Reason)
	require.True(t, byID[open.ID].IsEligible)
}

func TestGetEligibleGiftsFiltersStock(t *testing.T) {
	t.Parallel()
	service, ruleRepo, _, _ := newServiceFixture()

	// 两个赠品选项，其中一个全局无货
	mixed := ruleRepo.add(&domain.GiftRule{
		Name:     "mixed stock",
		IsActive: true,
		GiftProducts: []domain.GiftProduct{
			{ProductID: 99, MaxQuantityPerOrder: 1},
			{ProductID: 77, MaxQuantityPerOrder: 1},
		},
	})
	// 唯一选项的规则配额耗尽，应整条消失
	drained := ruleRepo.add(&domain.GiftRule{
		Name:     "drained",
		IsActive: true,
		GiftProducts: []domain.GiftProduct{
			{ProductID: 99, MaxQuantityPerOrder: 1, RemainingStock: intPtr(0)},
		},
	})

	evalCtx := domain.NewEvaluationContext(42, []domain.CartLine{
		{LineID: 1, ProductID: 10, Quantity: 1, Price: 50},
	})
	eligible, err := service.GetEligibleGifts(context.Background(), evalCtx)
	require.NoError(t, err)

	require.Len(t, eligible, 1)
	require.Equal(t, mixed.ID, eligible[0].Rule.ID)
	require.Len(t, eligible[0].GiftProducts, 1)
	require.Equal(t, uint(99), eligible[0].GiftProducts[0].ProductID)

	for _, entry := range eligible {
		require.NotEqual(t, drained.ID, entry.Rule.ID)
	}
}

func TestGetRuleStatistics(t *testing.T) {
	t.Parallel()
	service, ruleRepo, usageRepo, _ := newServiceFixture()

	rule := ruleRepo.add(&domain.GiftRule{Name: "stats", IsActive: true})
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: rule.ID, UserID: 1, OrderID: 1, ProductID: 99, UsedAt: day1})
	usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: rule.ID, UserID: 1, OrderID: 2, ProductID: 99, UsedAt: day2})
	usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: rule.ID, UserID: 2, OrderID: 3, ProductID: 77, UsedAt: day2})

	stats, err := service.GetRuleStatistics(context.Background(), rule.ID)
	require.NoError(t, err)

	require.Equal(t, 3, stats.TotalUses)
	require.Equal(t, 2, stats.DistinctUsers)
	require.InDelta(t, 5+5+8, stats.TotalValueGiven, 0.001)

	require.Len(t, stats.ByProduct, 2)
	require.Equal(t, uint(77), stats.ByProduct[0].ProductID)
	require.Equal(t, 1, stats.ByProduct[0].Count)
	require.Equal(t, uint(99), stats.ByProduct[1].ProductID)
	require.Equal(t, 2, stats.ByProduct[1].Count)

	require.Equal(t, []DailyUsageStat{
		{Date: "2026-03-01", Count: 1},
		{Date: "2026-03-02", Count: 2},
	}, stats.DailyUsage)

	_, err = service.GetRuleStatistics(context.Background(), 404)
	require.ErrorIs(t, err, domain.ErrRuleNotFound)
}

// ---- 事务边界 ----

type txMarkerKey struct{}

// markingTx 给事务内的 ctx 打标记，让仓储装饰器能分辨写入是否发生在事务里。
type markingTx struct {
	calls int
}

func (m *markingTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(context.WithValue(ctx, txMarkerKey{}, true))
}

// txAwareRuleRepo 记录所有发生在事务之外的写操作。
type txAwareRuleRepo struct {
	*fakeRuleRepo
	outsideTx []string
}

func (r *txAwareRuleRepo) note(ctx context.Context, op string) {
	if ctx.Value(txMarkerKey{}) == nil {
		r.outsideTx = append(r.outsideTx, op)
	}
}

func (r *txAwareRuleRepo) Create(ctx context.Context, rule *domain.GiftRule) error {
	r.note(ctx, "Create")
	return r.fakeRuleRepo.Create(ctx, rule)
}

func (r *txAwareRuleRepo) Update(ctx context.Context, rule *domain.GiftRule) error {
	r.note(ctx, "Update")
	return r.fakeRuleRepo.Update(ctx, rule)
}

func (r *txAwareRuleRepo) ReplaceConditions(ctx context.Context, ruleID uint, conds []*domain.GiftCondition) error {
	r.note(ctx, "ReplaceConditions")
	return r.fakeRuleRepo.ReplaceConditions(ctx, ruleID, conds)
}

func (r *txAwareRuleRepo) ReplaceGiftProducts(ctx context.Context, ruleID uint, products []domain.GiftProduct) error {
	r.note(ctx, "ReplaceGiftProducts")
	return r.fakeRuleRepo.ReplaceGiftProducts(ctx, ruleID, products)
}

func (r *txAwareRuleRepo) Delete(ctx context.Context, id uint) error {
	r.note(ctx, "Delete")
	return r.fakeRuleRepo.Delete(ctx, id)
}

// 规则聚合跨规则行、条件树与赠品选项三张表，
// 创建、更新（先删后建替换）与删除的所有写入必须落在同一个事务里。
func TestRulePersistenceRunsInOneTransaction(t *testing.T) {
	t.Parallel()

	ruleRepo := &txAwareRuleRepo{fakeRuleRepo: newFakeRuleRepo()}
	usageRepo := &fakeUsageRepo{}
	products := &fakeProductReader{products: map[uint]domain.ProductInfo{
		99: {ID: 99, Name: "Sticker Pack", Price: 5, Stock: 20, CategoryID: 2},
	}}
	tx := &markingTx{}
	service := NewPromotionService(ruleRepo, usageRepo, products, domain.NewEvaluator(nil), tx, otel.Tracer("test"))

	rule, err := service.CreateRule(context.Background(), validCreateInput(), 7)
	require.NoError(t, err)
	require.Equal(t, 1, tx.calls)

	newConds := []ConditionInput{{Type: "MIN_AMOUNT", MinAmount: floatPtr(200)}}
	newProducts := []GiftProductInput{{ProductID: 99, MaxQuantityPerOrder: 2}}
	_, err = service.UpdateRule(context.Background(), rule.ID, &UpdateGiftRuleInput{
		Conditions:   &newConds,
		GiftProducts: &newProducts,
	})
	require.NoError(t, err)
	require.Equal(t, 2, tx.calls)

	require.NoError(t, service.DeleteRule(context.Background(), rule.ID))
	require.Equal(t, 3, tx.calls)

	// 没有任何一次写入发生在事务之外
	require.Empty(t, ruleRepo.outsideTx)
}
