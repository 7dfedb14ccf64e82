package utils

import (
	"context"
	"errors"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"gorm.io/gorm"
)

// FetchModel fetches a record scoped to the business id, preloading the given
// associations. Returns ErrorRecordNotFound when no row matches.
func FetchModel[T any](ctx context.Context, businessId string, id int, associations ...string) (*T, error) {
	db := config.GetDB()
	if db == nil {
		return nil, errors.New("database not initialized")
	}

	query := db.WithContext(ctx)
	for _, association := range associations {
		query = query.Preload(association)
	}

	var result T
	err := query.Where("business_id = ? AND id = ?", businessId, id).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ValidateResourceId checks that a referenced record exists for the business.
// id = 0 means "not provided" and passes.
func ValidateResourceId[T any](ctx context.Context, businessId string, id int) error {
	if id == 0 {
		return nil
	}
	_, err := FetchModel[T](ctx, businessId, id)
	return err
}
