// internal/service/inventory/application/product_service.go
package application

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/service/inventory/domain"
	promodomain "storefront/internal/service/promotion/domain"
)

// CreateProductInput 是创建商品的入参。
type CreateProductInput struct {
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	CategoryID   uint    `json:"categoryId"`
	InitialStock int     `json:"initialStock"`
}

// UpdateProductInput 是部分更新入参，nil 字段不变。
type UpdateProductInput struct {
	Name       *string  `json:"name,omitempty"`
	Price      *float64 `json:"price,omitempty"`
	CategoryID *uint    `json:"categoryId,omitempty"`
}

// ProductService 提供商品目录的增删改查。库存计数的变更不在这里，
// 全部走 StockLedger。
type ProductService struct {
	repo   domain.Repository
	tracer trace.Tracer
}

func NewProductService(repo domain.Repository, tracer trace.Tracer) *ProductService {
	return &ProductService{repo: repo, tracer: tracer}
}

func (s *ProductService) CreateProduct(ctx context.Context, input *CreateProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CreateProduct")
	defer span.End()
	span.SetAttributes(attribute.String("product.name", input.Name))

	if input.Name == "" {
		return nil, promodomain.NewValidationError("name", "name is required")
	}
	if input.Price < 0 {
		return nil, promodomain.NewValidationError("price", "price must not be negative")
	}
	if input.InitialStock < 0 {
		return nil, promodomain.NewValidationError("initialStock", "initial stock must not be negative")
	}

	product := &domain.Product{
		Name:           input.Name,
		Price:          input.Price,
		CategoryID:     input.CategoryID,
		Stock:          input.InitialStock,
		AvailableStock: input.InitialStock,
	}
	if err := s.repo.Create(ctx, product); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if input.InitialStock > 0 {
		if err := s.repo.InsertMovement(ctx, &domain.StockMovement{
			ProductID: product.ID,
			Type:      domain.MovementIn,
			Quantity:  input.InitialStock,
			Reason:    "initial stock",
		}); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	logger.Ctx(ctx).Info().Uint("product_id", product.ID).Str("name", product.Name).Msg("Product created")
	return product, nil
}

func (s *ProductService) UpdateProduct(ctx context.Context, id uint, input *UpdateProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.UpdateProduct")
	defer span.End()

	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if input.Name != nil {
		product.Name = *input.Name
	}
	if input.Price != nil {
		if *input.Price < 0 {
			return nil, promodomain.NewValidationError("price", "price must not be negative")
		}
		product.Price = *input.Price
	}
	if input.CategoryID != nil {
		product.CategoryID = *input.CategoryID
	}

	if err := s.repo.Update(ctx, product); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return product, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id uint) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.GetProduct")
	defer span.End()
	return s.repo.FindByID(ctx, id)
}

func (s *ProductService) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ListProducts")
	defer span.End()
	return s.repo.List(ctx)
}

func (s *ProductService) ListMovements(ctx context.Context, productID uint) ([]*domain.StockMovement, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ListMovements")
	defer span.End()

	// 确认商品存在，让未知 id 得到 404 而不是空列表
	if _, err := s.repo.FindByID(ctx, productID); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return s.repo.ListMovements(ctx, productID)
}
