package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"memberpay/internal/types"
)

// Validator wraps go-playground/validator and reports failures as
// validation AppErrors keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator builds a Validator that names fields by their json tag and
// registers the "provider" tag.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		return types.ProviderTag(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns nil or an AppError whose details map
// each failing field to the rule it broke.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	fields := make(map[string]any, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		fields[fe.Field()] = rule
		names = append(names, fe.Field())
	}

	return types.NewAppError(
		types.ErrCodeValidationMissingField,
		"invalid request: "+strings.Join(names, ", "),
		err,
	).WithDetails(map[string]any{"fields": fields})
}
