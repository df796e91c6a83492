// Package inputval provides request input validation using waffle/pantry/validate.
//
// This package wraps pantry/validate to provide a convenient interface for
// validating decoded API payloads with struct tags. Define an input struct
// with validate tags, populate it from the request body, and call Validate
// to get user-friendly error messages.
//
// Example:
//
//	type CreateItemInput struct {
//	    Name string `json:"name" validate:"required,max=300" label:"Name"`
//	    Type string `json:"type" validate:"required,itemtype" label:"Type"`
//	}
//
//	if result := inputval.Validate(input); result.HasErrors() {
//	    // result.First() gives the first error message for display
//	    jsonutil.BadRequest(w, result.First())
//	    return
//	}
package inputval

import (
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/waffle/pantry/validate"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mossrock/roomdrop/internal/app/system/slug"
	"github.com/mossrock/roomdrop/internal/domain/models"
)

// Result holds validation results with user-friendly messages.
type Result struct {
	Errors []FieldError
}

// FieldError represents a validation error for a single field.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// First returns the first error message, or empty string if no errors.
func (r *Result) First() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// All returns all error messages joined with "; ".
func (r *Result) All() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// customValidator is a singleton validator with custom rules registered.
var (
	customValidator *validate.Validator
	validatorOnce   sync.Once
)

// getValidator returns the singleton validator with custom rules.
func getValidator() *validate.Validator {
	validatorOnce.Do(func() {
		customValidator = validate.New(validate.WithStopOnFirstError())

		// itemtype: validates against the item type enum
		customValidator.RegisterRuleFunc("itemtype", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidItemType(s)
			}
			return false
		}, "itemtype")

		// slug: validates that string is a sanitized room slug
		customValidator.RegisterRuleFunc("slug", func(value any) bool {
			if s, ok := value.(string); ok {
				return slug.Valid(s)
			}
			return false
		}, "slug")

		// objectid: validates that string is a valid MongoDB ObjectID hex
		customValidator.RegisterRuleFunc("objectid", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidObjectID(s)
			}
			return false
		}, "objectid")
	})
	return customValidator
}

// Validate validates a struct and returns a Result with user-friendly errors.
// The struct should have `validate` tags for rules and optional `label` tags
// for user-friendly field names.
//
// Supported validation rules (from pantry/validate):
//   - required: field must not be empty
//   - oneof=a b c: field must be one of the specified values
//   - min=N: string length or numeric value must be >= N
//   - max=N: string length or numeric value must be <= N
//
// Custom validation rules (registered by this package):
//   - itemtype: field must be a valid item type (folder, document)
//   - slug: field must be a sanitized room slug
//   - objectid: field must be a valid MongoDB ObjectID hex string
func Validate(s any) *Result {
	result := &Result{}

	v := getValidator()
	err := v.Struct(s)
	if err == nil {
		return result
	}

	// Get field labels from struct tags
	labels := getFieldLabels(s)

	if errs, ok := err.(validate.Errors); ok {
		for _, e := range errs {
			label := labels[e.Field]
			if label == "" {
				label = e.Field
			}

			msg := formatMessage(label, e.Rule, e.Param)
			result.Errors = append(result.Errors, FieldError{
				Field:   e.Field,
				Label:   label,
				Message: msg,
			})
		}
	}

	return result
}

// getFieldLabels extracts the "label" tag from struct fields.
func getFieldLabels(s any) map[string]string {
	labels := make(map[string]string)

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return labels
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		// Get the field name (use json tag if available)
		fieldName := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" && parts[0] != "-" {
				fieldName = parts[0]
			}
		}

		// Get the label
		if label := field.Tag.Get("label"); label != "" {
			labels[fieldName] = label
		}
	}

	return labels
}

// formatMessage creates a user-friendly message for a validation rule.
func formatMessage(label, rule, param string) string {
	switch rule {
	case "required":
		return label + " is required."
	case "oneof", "enum":
		return label + " must be one of: " + strings.ReplaceAll(param, " ", ", ") + "."
	case "min":
		return label + " must be at least " + param + " characters."
	case "max":
		return label + " must be at most " + param + " characters."
	case "itemtype":
		return label + " must be one of: " + strings.Join(models.AllItemTypeValues(), ", ") + "."
	case "slug":
		return label + " must contain only letters, digits, hyphens, and underscores."
	case "objectid":
		return label + " is not a valid ID."
	default:
		return label + " is invalid."
	}
}

// IsValidItemType checks if the given type (case-insensitive) is a valid item type.
func IsValidItemType(s string) bool {
	return models.ValidItemType(strings.ToLower(strings.TrimSpace(s)))
}

// IsValidObjectID checks if the given string is a valid MongoDB ObjectID hex.
func IsValidObjectID(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := primitive.ObjectIDFromHex(s)
	return err == nil
}
