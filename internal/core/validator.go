package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"carebase/internal/types"
)

// Validator wraps go-playground/validator with domain-specific rules and
// translates field errors into the platform's structured AppError format.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	registerEnumValidation(v, "staff_role", string(types.RoleRepresentative), string(types.RoleAdmin), string(types.RoleCaregiver))
	registerEnumValidation(v, "plan_tier", string(types.PlanFree), string(types.PlanStandard), string(types.PlanAI), string(types.PlanDemo))
	registerEnumValidation(v, "care_level",
		string(types.CareLevelSupport1), string(types.CareLevelSupport2),
		string(types.CareLevelCare1), string(types.CareLevelCare2), string(types.CareLevelCare3),
		string(types.CareLevelCare4), string(types.CareLevelCare5),
	)
	registerEnumValidation(v, "device_kind", string(types.DeviceKindTablet), string(types.DeviceKindSensor), string(types.DeviceKindStation))

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// registerEnumValidation registers a tag that passes when the field value is
// one of the allowed strings. Empty values pass so optional fields can use
// the tag without also requiring "omitempty" semantics in every struct.
func registerEnumValidation(v *validator.Validate, tag string, allowed ...string) {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	// Registration only fails for an empty tag name; these are constants.
	_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		val := fl.Field().String()
		if val == "" {
			return true
		}
		_, ok := set[val]
		return ok
	})
}

// ValidateStruct validates the given struct against its `validate` tags.
// On failure it returns a *types.AppError with code
// validation_invalid_field and a details map keyed by the offending field
// (snake_case) describing the failed rule.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError means the input was not a struct; that is a
		// programming error, not a client error.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not be performed", err)
	}

	details := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		details[toSnakeCase(fe.Field())] = describeRule(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationInvalidField,
		"one or more fields failed validation",
		nil,
		details,
	)
}

// describeRule renders a short, client-facing description of a failed rule.
func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "staff_role", "plan_tier", "care_level", "device_kind":
		return "is not a recognized value"
	default:
		return "failed rule: " + fe.Tag()
	}
}

// toSnakeCase converts a Go field name (e.g. BillingEmail) to the snake_case
// form used in JSON payloads (billing_email).
func toSnakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
