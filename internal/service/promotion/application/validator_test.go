package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"storefront/internal/service/promotion/domain"
)

func newValidatorFixture() (*GiftValidator, *fakeRuleRepo, *fakeUsageRepo, *fakeProductReader) {
	ruleRepo := newFakeRuleRepo()
	usageRepo := &fakeUsageRepo{}
	products := &fakeProductReader{products: map[uint]domain.ProductInfo{
		10: {ID: 10, Name: "Keyboard", Price: 50, Stock: 100, CategoryID: 1},
		99: {ID: 99, Name: "Sticker Pack", Price: 5, Stock: 20, CategoryID: 2},
		77: {ID: 77, Name: "Sold Out Mug", Price: 8, Stock: 0, CategoryID: 2},
	}}
	validator := NewGiftValidator(ruleRepo, usageRepo, products, domain.NewEvaluator(nil), otel.Tracer("test"))
	return validator, ruleRepo, usageRepo, products
}

// 标准夹具：满 100 送贴纸
func spendRule(repo *fakeRuleRepo) *domain.GiftRule {
	return repo.add(&domain.GiftRule{
		Name:           "spend 100 get stickers",
		IsActive:       true,
		ConditionLogic: domain.LogicAnd,
		Conditions: []*domain.GiftCondition{
			{Type: domain.ConditionMinAmount, MinAmount: floatPtr(100)},
		},
		GiftProducts: []domain.GiftProduct{
			{ProductID: 99, MaxQuantityPerOrder: 1},
		},
	})
}

func qualifyingCart() *domain.EvaluationContext {
	return domain.NewEvaluationContext(42, []domain.CartLine{
		{LineID: 1, ProductID: 10, Quantity: 2, Price: 50, CategoryID: 1},
	})
}

func TestValidateGiftSelection(t *testing.T) {
	t.Parallel()

	t.Run("valid selection", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, qualifyingCart())
		require.NoError(t, err)
		require.True(t, result.IsValid)
		require.Empty(t, result.Error)
	})

	t.Run("unknown rule", func(t *testing.T) {
		validator, _, _, _ := newValidatorFixture()
		result, err := validator.ValidateGiftSelection(context.Background(), 404, 99, qualifyingCart())
		require.NoError(t, err)
		require.False(t, result.IsValid)
		require.Equal(t, ReasonRuleNotFound, result.Error)
	})

	t.Run("inactive rule", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)
		rule.IsActive = false

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, domain.ReasonNotActive, result.Error)
	})

	t.Run("product not a gift option", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 10, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, ReasonNotGiftOption, result.Error)
	})

	t.Run("product out of stock", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)
		rule.GiftProducts = []domain.GiftProduct{{ProductID: 77, MaxQuantityPerOrder: 1}}

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 77, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, ReasonProductNoStock, result.Error)
	})

	t.Run("rule quota for the gift exhausted", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)
		rule.GiftProducts = []domain.GiftProduct{{ProductID: 99, MaxQuantityPerOrder: 1, RemainingStock: intPtr(0)}}

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, ReasonRuleStockDrained, result.Error)
	})

	t.Run("second gift from same rule rejected", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		cart := domain.NewEvaluationContext(42, []domain.CartLine{
			{LineID: 1, ProductID: 10, Quantity: 2, Price: 50},
			{LineID: 2, ProductID: 99, Quantity: 1, Price: 0, IsGift: true, GiftRuleID: uintPtr(rule.ID)},
		})
		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, cart)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonAlreadySelected, result.Error)
	})

	t.Run("per-customer cap reached", func(t *testing.T) {
		validator, ruleRepo, usageRepo, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)
		rule.MaxUsesPerCustomer = intPtr(1)
		usageRepo.Insert(context.Background(), &domain.GiftRuleUsage{RuleID: rule.ID, UserID: 42, OrderID: 1, ProductID: 99})

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, domain.ReasonCustomerLimitReached, result.Error)
	})

	t.Run("global cap reached", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)
		rule.MaxTotalUses = intPtr(5)
		rule.CurrentTotalUses = 5

		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, qualifyingCart())
		require.NoError(t, err)
		require.Equal(t, domain.ReasonUsageLimitReached, result.Error)
	})

	t.Run("conditions no longer met", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		cart := domain.NewEvaluationContext(42, []domain.CartLine{
			{LineID: 1, ProductID: 10, Quantity: 1, Price: 50},
		})
		result, err := validator.ValidateGiftSelection(context.Background(), rule.ID, 99, cart)
		require.NoError(t, err)
		require.Equal(t, domain.ReasonConditionsNotMet, result.Error)
	})
}

func TestValidateGiftsInOrder(t *testing.T) {
	t.Parallel()

	t.Run("own gift line does not evict itself", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		lines := []domain.CartLine{
			{LineID: 1, ProductID: 10, Quantity: 2, Price: 50},
			{LineID: 2, ProductID: 99, Quantity: 1, Price: 0, IsGift: true, GiftRuleID: uintPtr(rule.ID)},
		}
		validation, err := validator.ValidateGiftsInOrder(context.Background(), 42, lines)
		require.NoError(t, err)
		require.True(t, validation.IsValid)
		require.Empty(t, validation.InvalidGifts)
	})

	t.Run("all failures are collected", func(t *testing.T) {
		validator, ruleRepo, _, _ := newValidatorFixture()
		rule := spendRule(ruleRepo)

		// 两条赠品行都无效：一条规则已删，一条条件不再满足
		lines := []domain.CartLine{
			{LineID: 1, ProductID: 10, Quantity: 1, Price: 50},
			{LineID: 2, ProductID: 99, Quantity: 1, Price: 0, IsGift: true, GiftRuleID: uintPtr(rule.ID)},
			{LineID: 3, ProductID: 77, Quantity: 1, Price: 0, IsGift: true, GiftRuleID: uintPtr(404)},
		}
		validation, err := validator.ValidateGiftsInOrder(context.Background(), 42, lines)
		require.NoError(t, err)
		require.False(t, validation.IsValid)
		// InvalidGifts 记录的是购物车行 ID，不是商品 ID
		require.Equal(t, []uint{2, 3}, validation.InvalidGifts)
		require.Len(t, validation.Errors, 2)
		require.Contains(t, validation.Errors[0], domain.ReasonConditionsNotMet)
		require.Contains(t, validation.Errors[1], ReasonRuleNotFound)
	})

	t.Run("non-gift lines are ignored", func(t *testing.T) {
		validator, _, _, _ := newValidatorFixture()
		lines := []domain.CartLine{{LineID: 1, ProductID: 10, Quantity: 1, Price: 50}}
		validation, err := validator.ValidateGiftsInOrder(context.Background(), 42, lines)
		require.NoError(t, err)
		require.True(t, validation.IsValid)
	})
}
