package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base is embedded by the gorm-backed repositories.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the connection bound to ctx when one is given.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Count returns the number of rows in model's table.
func (b Base) Count(ctx context.Context, model any) (int64, error) {
	var n int64
	if err := b.DB(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
