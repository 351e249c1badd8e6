package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildConditionTree(t *testing.T) {
	t.Parallel()

	// 平铺行：1 和 4 是根，2/3 挂在 1 下，5 挂在 3 下
	rows := []*GiftCondition{
		{ID: 1, Logic: LogicOr},
		{ID: 2, ParentID: uintPtr(1), Type: ConditionMinAmount, MinAmount: floatPtr(100)},
		{ID: 3, ParentID: uintPtr(1), Logic: LogicAnd},
		{ID: 4, Type: ConditionSpecificProduct, ProductID: uintPtr(9)},
		{ID: 5, ParentID: uintPtr(3), Type: ConditionProductCategory, CategoryID: uintPtr(2)},
	}

	roots := BuildConditionTree(rows)

	require.Len(t, roots, 2)
	require.Equal(t, uint(1), roots[0].ID)
	require.Equal(t, uint(4), roots[1].ID)

	require.True(t, roots[0].IsGroup())
	require.Len(t, roots[0].Children, 2)
	require.Equal(t, uint(2), roots[0].Children[0].ID)
	require.Equal(t, uint(3), roots[0].Children[1].ID)

	nested := roots[0].Children[1]
	require.True(t, nested.IsGroup())
	require.Len(t, nested.Children, 1)
	require.Equal(t, uint(5), nested.Children[0].ID)

	require.False(t, roots[1].IsGroup())
}

func TestBuildConditionTreeEmpty(t *testing.T) {
	t.Parallel()
	require.Empty(t, BuildConditionTree(nil))
}
