package weight

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/shoppad-backend/internal/repo"
	"github.com/angelmondragon/shoppad-backend/pkg/db/models"
	"gorm.io/gorm"
)

// ErrNoReadings is returned by Latest when nothing has been recorded yet.
var ErrNoReadings = errors.New("no weight readings recorded")

// Repository appends and reads scale samples.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Create(ctx context.Context, reading *models.WeightReading) error {
	if err := r.DB(ctx).Create(reading).Error; err != nil {
		return fmt.Errorf("insert weight reading: %w", err)
	}
	return nil
}

// Recent returns up to limit readings, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]models.WeightReading, error) {
	var readings []models.WeightReading
	err := r.DB(ctx).Order("recorded_at DESC").Order("id DESC").Limit(limit).Find(&readings).Error
	if err != nil {
		return nil, fmt.Errorf("list weight readings: %w", err)
	}
	return readings, nil
}

func (r *Repository) Latest(ctx context.Context) (*models.WeightReading, error) {
	var reading models.WeightReading
	err := r.DB(ctx).Order("recorded_at DESC").Order("id DESC").Take(&reading).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoReadings
	}
	if err != nil {
		return nil, fmt.Errorf("latest weight reading: %w", err)
	}
	return &reading, nil
}

func (r *Repository) CountAll(ctx context.Context) (int64, error) {
	return r.Count(ctx, &models.WeightReading{})
}
