package application

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"storefront/internal/service/cart/domain"
	promoapp "storefront/internal/service/promotion/application"
	promodomain "storefront/internal/service/promotion/domain"
)

type fakeCartRepo struct {
	nextID uint
	items  map[uint]*domain.CartItem
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{nextID: 1, items: make(map[uint]*domain.CartItem)}
}

func (r *fakeCartRepo) ListByUser(_ context.Context, userID uint) ([]*domain.CartItem, error) {
	var items []*domain.CartItem
	for _, item := range r.items {
		if item.UserID == userID {
			copied := *item
			items = append(items, &copied)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *fakeCartRepo) FindByID(_ context.Context, userID, itemID uint) (*domain.CartItem, error) {
	item, ok := r.items[itemID]
	if !ok || item.UserID != userID {
		return nil, domain.ErrCartItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *fakeCartRepo) FindLine(_ context.Context, userID, productID uint) (*domain.CartItem, error) {
	for _, item := range r.items {
		if item.UserID == userID && item.ProductID == productID && !item.IsGift {
			copied := *item
			return &copied, nil
		}
	}
	return nil, domain.ErrCartItemNotFound
}

func (r *fakeCartRepo) FindGiftLine(_ context.Context, userID, ruleID uint) (*domain.CartItem, error) {
	for _, item := range r.items {
		if item.UserID == userID && item.IsGift && item.GiftRuleID != nil && *item.GiftRuleID == ruleID {
			copied := *item
			return &copied, nil
		}
	}
	return nil, domain.ErrCartItemNotFound
}

func (r *fakeCartRepo) Create(_ context.Context, item *domain.CartItem) error {
	item.ID = r.nextID
	r.nextID++
	copied := *item
	r.items[item.ID] = &copied
	return nil
}

func (r *fakeCartRepo) Update(_ context.Context, item *domain.CartItem) error {
	stored, ok := r.items[item.ID]
	if !ok {
		return domain.ErrCartItemNotFound
	}
	stored.Quantity = item.Quantity
	return nil
}

func (r *fakeCartRepo) Delete(_ context.Context, userID, itemID uint) error {
	item, ok := r.items[itemID]
	if !ok || item.UserID != userID {
		return domain.ErrCartItemNotFound
	}
	delete(r.items, itemID)
	return nil
}

func (r *fakeCartRepo) DeleteByUser(_ context.Context, userID uint) error {
	for id, item := range r.items {
		if item.UserID == userID {
			delete(r.items, id)
		}
	}
	return nil
}

type fakeRuleRepo struct {
	nextID uint
	rules  map[uint]*promodomain.GiftRule
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{nextID: 1, rules: make(map[uint]*promodomain.GiftRule)}
}

func (r *fakeRuleRepo) add(rule *promodomain.GiftRule) *promodomain.GiftRule {
	rule.ID = r.nextID
	r.nextID++
	r.rules[rule.ID] = rule
	return rule
}

func (r *fakeRuleRepo) Create(_ context.Context, rule *promodomain.GiftRule) error {
	r.add(rule)
	return nil
}

func (r *fakeRuleRepo) FindByID(_ context.Context, id uint) (*promodomain.GiftRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, promodomain.ErrRuleNotFound
	}
	return rule, nil
}

func (r *fakeRuleRepo) FindActive(_ context.Context, now time.Time) ([]*promodomain.GiftRule, error) {
	var active []*promodomain.GiftRule
	for id := uint(1); id < r.nextID; id++ {
		rule, ok := r.rules[id]
		if ok && rule.IsActive && rule.InValidityWindow(now) {
			active = append(active, rule)
		}
	}
	return active, nil
}

func (r *fakeRuleRepo) Update(_ context.Context, rule *promodomain.GiftRule) error { return nil }
func (r *fakeRuleRepo) ReplaceConditions(_ context.Context, _ uint, _ []*promodomain.GiftCondition) error {
	return nil
}
func (r *fakeRuleRepo) ReplaceGiftProducts(_ context.Context, _ uint, _ []promodomain.GiftProduct) error {
	return nil
}
func (r *fakeRuleRepo) Delete(_ context.Context, id uint) error {
	delete(r.rules, id)
	return nil
}
func (r *fakeRuleRepo) IncrementTotalUses(_ context.Context, id uint) error {
	if rule, ok := r.rules[id]; ok {
		rule.CurrentTotalUses++
	}
	return nil
}

type fakeUsageRepo struct {
	usages []*promodomain.GiftRuleUsage
}

func (r *fakeUsageRepo) Insert(_ context.Context, usage *promodomain.GiftRuleUsage) error {
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
	counts := make(map[uint]int)
	for _, id := range ruleIDs {
		n, _ := r.CountByRuleAndUser(context.Background(), id, userID)
		if n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}

func (r *fakeUsageRepo) ListByRule(_ context.Context, ruleID uint) ([]*promodomain.GiftRuleUsage, error) {
	return nil, nil
}

type fakeProductReader struct {
	products map[uint]promodomain.ProductInfo
}

func (r *fakeProductReader) FindByIDs(_ context.Context, ids []uint) (map[uint]promodomain.ProductInfo, error) {
	found := make(map[uint]promodomain.ProductInfo, len(ids))
	for _, id := range ids {
		if info, ok := r.products[id]; ok {
			found[id] = info
		}
	}
	return found, nil
}

func floatPtr(f float64) *float64 { return &f }

type passthroughTx struct{}

func (passthroughTx) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type cartFixture struct {
	service  *CartService
	cartRepo *fakeCartRepo
	ruleRepo *fakeRuleRepo
}

// 夹具：商品 10 单价 50；规则"满 100 送贴纸(99)"
func newCartFixture() *cartFixture {
	cartRepo := newFakeCartRepo()
	ruleRepo := newFakeRuleRepo()
	usageRepo := &fakeUsageRepo{}
	products := &fakeProductReader{products: map[uint]promodomain.ProductInfo{
		10: {ID: 10, Name: "Keyboard", Price: 50, Stock: 100, CategoryID: 1},
		99: {ID: 99, Name: "Sticker Pack", Price: 5, Stock: 20, CategoryID: 2},
	}}
	ruleRepo.add(&promodomain.GiftRule{
		Name:           "spend 100 get stickers",
		IsActive:       true,
		ConditionLogic: promodomain.LogicAnd,
		Conditions: []*promodomain.GiftCondition{
			{Type: promodomain.ConditionMinAmount, MinAmount: floatPtr(100)},
		},
		GiftProducts: []promodomain.GiftProduct{{ProductID: 99, MaxQuantityPerOrder: 1}},
	})

	evaluator := promodomain.NewEvaluator(nil)
	tracer := otel.Tracer("test")
	promoService := promoapp.NewPromotionService(ruleRepo, usageRepo, products, evaluator, passthroughTx{}, tracer)
	validator := promoapp.NewGiftValidator(ruleRepo, usageRepo, products, evaluator, tracer)

	service := NewCartService(cartRepo, ruleRepo, usageRepo, products, promoService, validator, evaluator, tracer)
	return &cartFixture{service: service, cartRepo: cartRepo, ruleRepo: ruleRepo}
}

const userID = 42

func TestAddItemMergesLines(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 1)
	require.NoError(t, err)
	result, err := f.service.AddItem(context.Background(), userID, 10, 1)
	require.NoError(t, err)

	require.Len(t, result.Cart.Items, 1)
	require.Equal(t, 2, result.Cart.Items[0].Quantity)
	require.Equal(t, 100.0, result.Cart.Subtotal)

	// 小计到门槛后规则进入可领取列表
	require.Len(t, result.EligibleRules, 1)
}

func TestEligibleRulesBelowThreshold(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	result, err := f.service.AddItem(context.Background(), userID, 10, 1)
	require.NoError(t, err)
	require.Empty(t, result.EligibleRules)
}

func TestAddGiftAndDoubleDip(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)

	selection, result, err := f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)
	require.True(t, selection.IsValid)
	require.Len(t, result.Cart.Items, 2)

	// 同一规则第二次领取必须失败
	selection, _, err = f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)
	require.False(t, selection.IsValid)
	require.Equal(t, promodomain.ReasonAlreadySelected, selection.Error)
}

func TestGiftSurvivesReconciliationWhileEligible(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)
	_, _, err = f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)

	// 赠品行不应被自己的规则以"重复领取"为由顶掉
	removed, eligible, err := f.service.ReevaluateGifts(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, removed)
	// 规则已被占用，不再出现在可领取列表里
	require.Empty(t, eligible)

	cart, err := f.service.GetCart(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
}

func TestGiftEvictedWhenConditionsBreak(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)
	_, _, err = f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)

	// 数量降到门槛之下，赠品应随之被清退
	result, err := f.service.UpdateQuantity(context.Background(), userID, 1, 1)
	require.NoError(t, err)

	require.Len(t, result.RemovedGifts, 1)
	require.Equal(t, "Sticker Pack", result.RemovedGifts[0].ProductName)
	require.Equal(t, promodomain.ReasonConditionsNotMet, result.RemovedGifts[0].Reason)
	require.Len(t, result.Cart.Items, 1)
}

func TestGiftEvictedWhenRuleDeleted(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)
	_, _, err = f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)

	f.ruleRepo.Delete(context.Background(), 1)

	removed, _, err := f.service.ReevaluateGifts(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	require.Equal(t, "Gift rule no longer exists", removed[0].Reason)
}

func TestReconciliationIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)
	_, _, err = f.service.AddGiftProduct(context.Background(), userID, 1, 99)
	require.NoError(t, err)

	// 制造一次清退
	_, err = f.service.UpdateQuantity(context.Background(), userID, 1, 1)
	require.NoError(t, err)

	// 购物车未再变化，第二次对账不得产生任何清退
	removed, _, err := f.service.ReevaluateGifts(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, removed)
}

func TestRemoveItemClearsCart(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)

	result, err := f.service.RemoveItem(context.Background(), userID, 1)
	require.NoError(t, err)
	require.Empty(t, result.Cart.Items)

	_, err = f.service.RemoveItem(context.Background(), userID, 1)
	require.ErrorIs(t, err, domain.ErrCartItemNotFound)
}

func TestUpdateQuantityToZeroRemovesLine(t *testing.T) {
	t.Parallel()
	f := newCartFixture()

	_, err := f.service.AddItem(context.Background(), userID, 10, 2)
	require.NoError(t, err)

	result, err := f.service.UpdateQuantity(context.Background(), userID, 1, 0)
	require.NoError(t, err)
	require.Empty(t, result.Cart.Items)
}
