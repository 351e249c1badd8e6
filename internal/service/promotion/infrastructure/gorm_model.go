// internal/service/promotion/infrastructure/gorm_model.go
package infrastructure

import "time"

// GiftRuleModel 对应数据库中的 gift_rules 表
type GiftRuleModel struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	IsActive    bool   `gorm:"default:true;index"`
	Priority    int    `gorm:"default:0"`

	ConditionLogic string `gorm:"size:8;default:AND"`

	MaxUsesPerCustomer *int
	MaxTotalUses       *int
	CurrentTotalUses   int `gorm:"default:0"`

	ValidFrom  *time.Time
	ValidUntil *time.Time

	CreatedBy uint
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (GiftRuleModel) TableName() string {
	return "gift_rules"
}

// GiftConditionModel 对应 gift_conditions 表。
// 条件树以平铺行存储，通过 parent_id 自引用。
type GiftConditionModel struct {
	ID       uint  `gorm:"primaryKey"`
	RuleID   uint  `gorm:"index;not null"`
	ParentID *uint `gorm:"index"`

	Type  string `gorm:"size:32;not null"`
	Logic string `gorm:"size:8"`

	MinAmount         *float64 `gorm:"type:decimal(12,2)"`
	ProductID         *uint
	MinQuantity       *int
	CategoryID        *uint
	MinCategoryAmount *float64 `gorm:"type:decimal(12,2)"`
	Expression        string   `gorm:"type:text"`
}

func (GiftConditionModel) TableName() string {
	return "gift_conditions"
}

// GiftProductModel 对应 gift_products 表
type GiftProductModel struct {
	ID     uint `gorm:"primaryKey"`
	RuleID uint `gorm:"index;not null"`

	ProductID           uint `gorm:"index;not null"`
	MaxQuantityPerOrder int  `gorm:"default:1"`
	RemainingStock      *int
}

func (GiftProductModel) TableName() string {
	return "gift_products"
}

// GiftRuleUsageModel 对应 gift_rule_usages 表，追加写入
type GiftRuleUsageModel struct {
	ID        uint `gorm:"primaryKey"`
	RuleID    uint `gorm:"index;not null"`
	UserID    uint `gorm:"index;not null"`
	OrderID   uint `gorm:"index;not null"`
	ProductID uint `gorm:"not null"`
	UsedAt    time.Time
}

func (GiftRuleUsageModel) TableName() string {
	return "gift_rule_usages"
}
