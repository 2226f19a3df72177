package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator caches struct metadata per type.
var validate = validator.New()

// Validate runs struct-tag validation (`validate:"required"`) on target.
func Validate(target any) error {
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// UnmarshalValid decodes cfg into target and validates the result.
func UnmarshalValid(cfg interface{ Unmarshal(any) error }, target any) error {
	if err := cfg.Unmarshal(target); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return Validate(target)
}
