// internal/service/promotion/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"storefront/internal/pkg/database"
	"storefront/internal/service/promotion/domain"
)

// GormGiftRuleRepository 是 GiftRuleRepository 的 GORM 实现
type GormGiftRuleRepository struct {
	db *gorm.DB
}

func NewGormGiftRuleRepository(db *gorm.DB) *GormGiftRuleRepository {
	return &GormGiftRuleRepository{db: db}
}

func (r *GormGiftRuleRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

// Create 持久化规则聚合。条件树按层级递归插入，父节点先落库拿到 ID
// 后再插子节点，保证 parent_id 引用成立。
func (r *GormGiftRuleRepository) Create(ctx context.Context, rule *domain.GiftRule) error {
	tx := r.conn(ctx)

	model := fromDomainRule(rule)
	if err := tx.Create(model).Error; err != nil {
		return errors.Wrap(err, "create gift rule")
	}
	rule.ID = model.ID

	if err := r.insertConditions(tx, model.ID, nil, rule.Conditions); err != nil {
		return err
	}

	for i := range rule.GiftProducts {
		gp := fromDomainGiftProduct(model.ID, &rule.GiftProducts[i])
		if err := tx.Create(gp).Error; err != nil {
			return errors.Wrap(err, "create gift product")
		}
		rule.GiftProducts[i].ID = gp.ID
		rule.GiftProducts[i].RuleID = model.ID
	}
	return nil
}

func (r *GormGiftRuleRepository) insertConditions(tx *gorm.DB, ruleID uint, parentID *uint, conds []*domain.GiftCondition) error {
	for _, cond := range conds {
		model := fromDomainCondition(ruleID, parentID, cond)
		if err := tx.Create(model).Error; err != nil {
			return errors.Wrap(err, "create gift condition")
		}
		cond.ID = model.ID
		cond.RuleID = ruleID
		if err := r.insertConditions(tx, ruleID, &model.ID, cond.Children); err != nil {
			return err
		}
	}
	return nil
}

func (r *GormGiftRuleRepository) FindByID(ctx context.Context, id uint) (*domain.GiftRule, error) {
	tx := r.conn(ctx)

	var model GiftRuleModel
	if err := tx.First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRuleNotFound
		}
		return nil, errors.Wrap(err, "find gift rule")
	}

	conditions, products, err := r.loadChildren(tx, []uint{id})
	if err != nil {
		return nil, err
	}
	return toDomainRule(&model, conditions[id], products[id]), nil
}

func (r *GormGiftRuleRepository) FindActive(ctx context.Context, now time.Time) ([]*domain.GiftRule, error) {
	tx := r.conn(ctx)

	var models []GiftRuleModel
	err := tx.
		Where("is_active = ?", true).
		Where("valid_from IS NULL OR valid_from <= ?", now).
		Where("valid_until IS NULL OR valid_until >= ?", now).
		Order("priority DESC, created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "find active gift rules")
	}
	if len(models) == 0 {
		return nil, nil
	}

	ids := make([]uint, len(models))
	for i := range models {
		ids[i] = models[i].ID
	}
	conditions, products, err := r.loadChildren(tx, ids)
	if err != nil {
		return nil, err
	}

	rules := make([]*domain.GiftRule, len(models))
	for i := range models {
		rules[i] = toDomainRule(&models[i], conditions[models[i].ID], products[models[i].ID])
	}
	return rules, nil
}

// loadChildren 批量加载一组规则的条件与赠品行，避免 N+1 查询。
func (r *GormGiftRuleRepository) loadChildren(tx *gorm.DB, ruleIDs []uint) (map[uint][]GiftConditionModel, map[uint][]GiftProductModel, error) {
	var conditionRows []GiftConditionModel
	if err := tx.Where("rule_id IN ?", ruleIDs).Order("id").Find(&conditionRows).Error; err != nil {
		return nil, nil, errors.Wrap(err, "load gift conditions")
	}
	var productRows []GiftProductModel
	if err := tx.Where("rule_id IN ?", ruleIDs).Order("id").Find(&productRows).Error; err != nil {
		return nil, nil, errors.Wrap(err, "load gift products")
	}

	conditions := make(map[uint][]GiftConditionModel)
	for _, row := range conditionRows {
		conditions[row.RuleID] = append(conditions[row.RuleID], row)
	}
	products := make(map[uint][]GiftProductModel)
	for _, row := range productRows {
		products[row.RuleID] = append(products[row.RuleID], row)
	}
	return conditions, products, nil
}

func (r *GormGiftRuleRepository) Update(ctx context.Context, rule *domain.GiftRule) error {
	model := fromDomainRule(rule)
	err := r.conn(ctx).Model(&GiftRuleModel{}).Where("id = ?", rule.ID).
		Select("Name", "Description", "IsActive", "Priority", "ConditionLogic",
			"MaxUsesPerCustomer", "MaxTotalUses", "ValidFrom", "ValidUntil").
		Updates(model).Error
	return errors.Wrap(err, "update gift rule")
}

func (r *GormGiftRuleRepository) ReplaceConditions(ctx context.Context, ruleID uint, conditions []*domain.GiftCondition) error {
	tx := r.conn(ctx)
	if err := tx.Where("rule_id = ?", ruleID).Delete(&GiftConditionModel{}).Error; err != nil {
		return errors.Wrap(err, "delete old conditions")
	}
	return r.insertConditions(tx, ruleID, nil, conditions)
}

func (r *GormGiftRuleRepository) ReplaceGiftProducts(ctx context.Context, ruleID uint, products []domain.GiftProduct) error {
	tx := r.conn(ctx)
	if err := tx.Where("rule_id = ?", ruleID).Delete(&GiftProductModel{}).Error; err != nil {
		return errors.Wrap(err, "delete old gift products")
	}
	for i := range products {
		if err := tx.Create(fromDomainGiftProduct(ruleID, &products[i])).Error; err != nil {
			return errors.Wrap(err, "create gift product")
		}
	}
	return nil
}

// Delete 级联删除条件与赠品行；gift_rule_usages 作为历史台账保留。
func (r *GormGiftRuleRepository) Delete(ctx context.Context, id uint) error {
	tx := r.conn(ctx)
	if err := tx.Where("rule_id = ?", id).Delete(&GiftConditionModel{}).Error; err != nil {
		return errors.Wrap(err, "delete conditions")
	}
	if err := tx.Where("rule_id = ?", id).Delete(&GiftProductModel{}).Error; err != nil {
		return errors.Wrap(err, "delete gift products")
	}
	result := tx.Delete(&GiftRuleModel{}, id)
	if result.Error != nil {
		return errors.Wrap(result.Error, "delete gift rule")
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (r *GormGiftRuleRepository) IncrementTotalUses(ctx context.Context, id uint) error {
	err := r.conn(ctx).Model(&GiftRuleModel{}).Where("id = ?", id).
		UpdateColumn("current_total_uses", gorm.Expr("current_total_uses + 1")).Error
	return errors.Wrap(err, "increment total uses")
}

// GormGiftUsageRepository 是 GiftUsageRepository 的 GORM 实现
type GormGiftUsageRepository struct {
	db *gorm.DB
}

func NewGormGiftUsageRepository(db *gorm.DB) *GormGiftUsageRepository {
	return &GormGiftUsageRepository{db: db}
}

func (r *GormGiftUsageRepository) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, r.db)
}

func (r *GormGiftUsageRepository) Insert(ctx context.Context, usage *domain.GiftRuleUsage) error {
	model := &GiftRuleUsageModel{
		RuleID:    usage.RuleID,
		UserID:    usage.UserID,
		OrderID:   usage.OrderID,
		ProductID: usage.ProductID,
		UsedAt:    usage.UsedAt,
	}
	if model.UsedAt.IsZero() {
		model.UsedAt = time.Now()
	}
	if err := r.conn(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "insert gift rule usage")
	}
	usage.ID = model.ID
	return nil
}

func (r *GormGiftUsageRepository) CountByRuleAndUser(ctx context.Context, ruleID, userID uint) (int, error) {
	var count int64
	err := r.conn(ctx).Model(&GiftRuleUsageModel{}).
		Where("rule_id = ? AND user_id = ?", ruleID, userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count gift rule usage")
	}
	return int(count), nil
}

func (r *GormGiftUsageRepository) CountByUserForRules(ctx context.Context, userID uint, ruleIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(ruleIDs))
	if len(ruleIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		RuleID uint
		Total  int
	}
	err := r.conn(ctx).Model(&GiftRuleUsageModel{}).
		Select("rule_id, COUNT(*) AS total").
		Where("user_id = ? AND rule_id IN ?", userID, ruleIDs).
		Group("rule_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "count gift rule usages")
	}
	for _, row := range rows {
		counts[row.RuleID] = row.Total
	}
	return counts, nil
}

func (r *GormGiftUsageRepository) ListByRule(ctx context.Context, ruleID uint) ([]*domain.GiftRuleUsage, error) {
	var models []GiftRuleUsageModel
	err := r.conn(ctx).Where("rule_id = ?", ruleID).Order("used_at").Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list gift rule usages")
	}
	usages := make([]*domain.GiftRuleUsage, len(models))
	for i := range models {
		usages[i] = toDomainUsage(&models[i])
	}
	return usages, nil
}
