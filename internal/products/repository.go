package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/shoppad-backend/internal/repo"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when no product matches the lookup.
var ErrNotFound = errors.New("product not found")

// Repository reads the seeded catalog. The catalog is never written here.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// List returns every product ordered by category, then name.
func (r *Repository) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.DB(ctx).Order("category ASC").Order("name ASC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Categories returns the distinct categories in alphabetical order.
func (r *Repository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.DB(ctx).Model(&models.Product{}).
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).Error
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*models.Product, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *Repository) FindByBarcode(ctx context.Context, barcode string) (*models.Product, error) {
	return r.first(ctx, "barcode = ?", barcode)
}

func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	return r.Count(ctx, &models.Product{})
}

func (r *Repository) first(ctx context.Context, query string, arg any) (*models.Product, error) {
	var product models.Product
	err := r.DB(ctx).Where(query, arg).Take(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	return &product, nil
}
