package validation

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"ErrandDispatchPlatform/pkg/errors"
)

// Validator предоставляет общие функции валидации входных данных.
// Все методы возвращают *errors.Error, готовый к отдаче клиенту.
type Validator struct{}

// NewValidator создает новый Validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCoordinates проверяет широту [-90, 90] и долготу [-180, 180]
func (v *Validator) ValidateCoordinates(lat, lng float64) error {
	if lat != lat || lng != lng {
		return errors.New(errors.ErrInvalidPosition, "coordinates must be numbers")
	}
	if lat < -90 || lat > 90 {
		return errors.New(errors.ErrInvalidPosition, fmt.Sprintf("latitude out of range: %v", lat))
	}
	if lng < -180 || lng > 180 {
		return errors.New(errors.ErrInvalidPosition, fmt.Sprintf("longitude out of range: %v", lng))
	}
	return nil
}

// ValidateEnum проверяет значение на соответствие enum
func (v *Validator) ValidateEnum(value string, allowedValues []string, fieldName string) error {
	if value == "" {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s is required", fieldName))
	}
	for _, allowed := range allowedValues {
		if value == allowed {
			return nil
		}
	}
	return errors.New(errors.ErrValidation, fmt.Sprintf("invalid %s: %s, allowed values: %v", fieldName, value, allowedValues))
}

// ValidateStringLength проверяет длину строки в символах
func (v *Validator) ValidateStringLength(value, fieldName string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if length < min {
		if min == 1 {
			return errors.New(errors.ErrValidation, fmt.Sprintf("%s is required", fieldName))
		}
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s must be at least %d characters, got: %d", fieldName, min, length))
	}
	if length > max {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s must not exceed %d characters, got: %d", fieldName, max, length))
	}
	return nil
}

// ValidateUUID проверяет формат UUID
func (v *Validator) ValidateUUID(value string, fieldName string) error {
	if value == "" {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s is required", fieldName))
	}
	if _, err := uuid.Parse(value); err != nil {
		return errors.New(errors.ErrValidation, fmt.Sprintf("invalid %s format", fieldName))
	}
	return nil
}

// ValidateAmount проверяет денежную сумму в минимальных единицах: 0 <= value <= max
func (v *Validator) ValidateAmount(value int64, fieldName string, max int64) error {
	if value < 0 {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s must not be negative, got: %d", fieldName, value))
	}
	if value > max {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s must not exceed %d, got: %d", fieldName, max, value))
	}
	return nil
}

// ValidatePositive проверяет строго положительное число
func (v *Validator) ValidatePositive(value float64, fieldName string) error {
	if !(value > 0) {
		return errors.New(errors.ErrValidation, fmt.Sprintf("%s must be positive", fieldName))
	}
	return nil
}
