package repository

import (
	"errors"

	"github.com/amirasaad/ecclesia/pkg/domain"
	"gorm.io/gorm"
)

// MapGormErrorToDomain converts GORM errors to domain errors.
// It traverses the error chain so wrapped GORM errors are still mapped.
func MapGormErrorToDomain(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrAlreadyExists
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	}
	return err
}

// WrapError wraps a GORM operation and automatically maps errors.
func WrapError(op func() error) error {
	return MapGormErrorToDomain(op())
}
