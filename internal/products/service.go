package product

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
)

type repository interface {
	List(ctx context.Context) ([]models.Product, error)
	Categories(ctx context.Context) ([]string, error)
	FindByID(ctx context.Context, id string) (*models.Product, error)
	FindByBarcode(ctx context.Context, barcode string) (*models.Product, error)
	CountAll(ctx context.Context) (int64, error)
}

// Service exposes read-only catalog lookups.
type Service interface {
	Catalog(ctx context.Context) (*Catalog, error)
	Get(ctx context.Context, id string) (*models.Product, error)
	ResolveBarcode(ctx context.Context, barcode string) (*models.Product, error)
	Count(ctx context.Context) (int64, error)
}

// Catalog is the product listing grouped for display.
type Catalog struct {
	Products   []models.Product `json:"products"`
	Categories []string         `json:"categories"`
}

type service struct {
	repo repository
}

func NewService(repo repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("product repository is required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Catalog(ctx context.Context) (*Catalog, error) {
	products, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	categories, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load categories")
	}
	if products == nil {
		products = []models.Product{}
	}
	if categories == nil {
		categories = []string{}
	}
	return &Catalog{Products: products, Categories: categories}, nil
}

func (s *service) Get(ctx context.Context, id string) (*models.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	product, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	return product, nil
}

// ResolveBarcode returns nil without error when no product carries barcode;
// an unknown scan is still a valid scan.
func (s *service) ResolveBarcode(ctx context.Context, barcode string) (*models.Product, error) {
	product, err := s.repo.FindByBarcode(ctx, barcode)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve barcode")
	}
	return product, nil
}

func (s *service) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.CountAll(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count products")
	}
	return n, nil
}
