package weight

import (
	"context"
	"errors"

	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shoppad-backend/pkg/errors"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

type repository interface {
	Create(ctx context.Context, reading *models.WeightReading) error
	Recent(ctx context.Context, limit int) ([]models.WeightReading, error)
	Latest(ctx context.Context) (*models.WeightReading, error)
	CountAll(ctx context.Context) (int64, error)
}

// Service is the read and append surface over persisted readings.
type Service interface {
	Record(ctx context.Context, reading *models.WeightReading) error
	History(ctx context.Context, limit int) ([]models.WeightReading, error)
	Latest(ctx context.Context) (*models.WeightReading, error)
	Count(ctx context.Context) (int64, error)
}

type service struct {
	repo repository
}

func NewService(repo repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("weight repository is required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, reading *models.WeightReading) error {
	if err := s.repo.Create(ctx, reading); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to store weight reading")
	}
	return nil
}

// History clamps limit to [1, MaxHistoryLimit]; zero or less means the default.
func (s *service) History(ctx context.Context, limit int) ([]models.WeightReading, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	readings, err := s.repo.Recent(ctx, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load weight readings")
	}
	if readings == nil {
		readings = []models.WeightReading{}
	}
	return readings, nil
}

func (s *service) Latest(ctx context.Context) (*models.WeightReading, error) {
	reading, err := s.repo.Latest(ctx)
	if errors.Is(err, ErrNoReadings) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no weight readings recorded")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to load latest weight")
	}
	return reading, nil
}

func (s *service) Count(ctx context.Context) (int64, error) {
	n, err := s.repo.CountAll(ctx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "failed to count weight readings")
	}
	return n, nil
}
