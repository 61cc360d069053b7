package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianshop/meridian/internal/models"
)

// ProductStore is the read-only view of catalog data the settlement path
// needs. Catalog management is a separate concern and not handled here.
type ProductStore struct {
	pool *pgxpool.Pool
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

// GetPricing returns the current pricing for a product, or for one of its
// variations when variationID is set. Variation prices override product
// prices; name and SKU come from the variation when it defines them.
func (s *ProductStore) GetPricing(ctx context.Context, productID uuid.UUID, variationID *uuid.UUID) (*models.ProductPricing, error) {
	p := &models.ProductPricing{ProductID: productID, VariationID: variationID}

	err := conn(ctx, s.pool).QueryRow(ctx, `
		SELECT name, sku, regular_price, sale_price, sale_start, sale_end
		FROM products WHERE id = $1
	`, productID).Scan(&p.Name, &p.SKU, &p.RegularPrice, &p.SalePrice, &p.SaleStart, &p.SaleEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load product pricing: %w", err)
	}

	if variationID == nil {
		return p, nil
	}

	var (
		varName, varSKU string
		v               models.ProductPricing
	)
	err = conn(ctx, s.pool).QueryRow(ctx, `
		SELECT COALESCE(name, ''), COALESCE(sku, ''), regular_price, sale_price, sale_start, sale_end
		FROM product_variations WHERE id = $1 AND product_id = $2
	`, *variationID, productID).Scan(&varName, &varSKU, &v.RegularPrice, &v.SalePrice, &v.SaleStart, &v.SaleEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to load variation pricing: %w", err)
	}

	p.RegularPrice = v.RegularPrice
	p.SalePrice = v.SalePrice
	p.SaleStart = v.SaleStart
	p.SaleEnd = v.SaleEnd
	if varName != "" {
		p.Name = varName
	}
	if varSKU != "" {
		p.SKU = varSKU
	}
	return p, nil
}
