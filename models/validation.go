package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var imageTagPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)

// supportedRecordTypes are the record types ConfigureDns can upsert with a
// single endpoint value
var supportedRecordTypes = map[string]bool{
	"A":     true,
	"AAAA":  true,
	"CNAME": true,
	"TXT":   true,
}

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("%s: %s (value: %q)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ves ValidationErrors) Error() string {
	if len(ves) == 0 {
		return ""
	}
	if len(ves) == 1 {
		return ves[0].Error()
	}

	var messages []string
	for _, ve := range ves {
		messages = append(messages, ve.Error())
	}
	return fmt.Sprintf("multiple validation errors: %s", strings.Join(messages, "; "))
}

// NewValidator creates a new validator with custom validation rules
func NewValidator() *validator.Validate {
	v := validator.New()

	v.RegisterValidation("tenant_key", validateTenantKey)
	v.RegisterValidation("tier", validateTier)
	v.RegisterValidation("image_tag", validateImageTag)
	v.RegisterValidation("record_type", validateRecordType)

	return v
}

var requestValidator = NewValidator()

// Validate runs tag-based validation on an activity request
func Validate(req interface{}) error {
	if err := requestValidator.Struct(req); err != nil {
		return convertValidatorErrors(err)
	}
	return nil
}

// convertValidatorErrors converts go-playground validator errors to our custom format
func convertValidatorErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	var result ValidationErrors
	for _, ve := range validationErrors {
		result = append(result, ValidationError{
			Field:   ve.Field(),
			Message: getValidationMessage(ve),
			Value:   fmt.Sprintf("%v", ve.Value()),
		})
	}
	return result
}

// getValidationMessage returns a human-readable message for validation errors
func getValidationMessage(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", ve.Param())
	case "fqdn":
		return "must be a fully-qualified domain name"
	case "tenant_key":
		return "must be a valid DNS-1123 label (lowercase alphanumeric and hyphens, at most 63 characters)"
	case "tier":
		return fmt.Sprintf("must be one of %s, %s, %s", TierSilo, TierPooled, TierBridge)
	case "image_tag":
		return "must be a valid container image tag"
	case "record_type":
		return "must be one of A, AAAA, CNAME, TXT"
	default:
		return ve.Error()
	}
}

func validateTenantKey(fl validator.FieldLevel) bool {
	return IsValidTenantKey(fl.Field().String())
}

func validateTier(fl validator.FieldLevel) bool {
	return TenantTier(fl.Field().String()).IsValid()
}

func validateImageTag(fl validator.FieldLevel) bool {
	return imageTagPattern.MatchString(fl.Field().String())
}

func validateRecordType(fl validator.FieldLevel) bool {
	return supportedRecordTypes[fl.Field().String()]
}

// IsValidTenantKey checks if a string is a valid DNS-1123 label
func IsValidTenantKey(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}

	// Must start and end with alphanumeric
	if !isAlphaNumeric(name[0]) || !isAlphaNumeric(name[len(name)-1]) {
		return false
	}

	for _, char := range name {
		if char > 127 || (!isAlphaNumeric(byte(char)) && char != '-') {
			return false
		}
	}

	return true
}

func isAlphaNumeric(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
