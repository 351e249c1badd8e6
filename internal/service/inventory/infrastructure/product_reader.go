// internal/service/inventory/infrastructure/product_reader.go
package infrastructure

import (
	"context"

	inventorydomain "storefront/internal/service/inventory/domain"
	promodomain "storefront/internal/service/promotion/domain"
)

// PromotionProductReader 把库存上下文的商品读取适配成规则引擎
// 需要的 ProductReader 端口，规则引擎因此不依赖库存的领域模型。
type PromotionProductReader struct {
	repo inventorydomain.Repository
}

func NewPromotionProductReader(repo inventorydomain.Repository) *PromotionProductReader {
	return &PromotionProductReader{repo: repo}
}

func (r *PromotionProductReader) FindByIDs(ctx context.Context, ids []uint) (map[uint]promodomain.ProductInfo, error) {
	products, err := r.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	infos := make(map[uint]promodomain.ProductInfo, len(products))
	for id, p := range products {
		infos[id] = promodomain.ProductInfo{
			ID:         p.ID,
			Name:       p.Name,
			Price:      p.Price,
			Stock:      p.Stock,
			CategoryID: p.CategoryID,
		}
	}
	return infos, nil
}
