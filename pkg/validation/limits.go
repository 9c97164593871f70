package validation

import (
	"fmt"

	dErrors "ilm/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize is the maximum allowed request body size (64 KB).
	MaxBodySize = 64 * 1024
)

// Slice element count limits
const (
	// MaxEvents is the most behaviour events accepted in one batch.
	MaxEvents = 500

	// MaxFormFields is the most fields a tracked or submitted form may declare.
	MaxFormFields = 100
)

// String element length limits
const (
	// MaxFieldNameLength is the maximum length of a form field name.
	MaxFieldNameLength = 100

	// MaxFieldValueLength is the maximum length of one submitted field value.
	MaxFieldValueLength = 10000

	// MaxEmailLength is the maximum length of an email address.
	MaxEmailLength = 255
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates that each string in a slice does not exceed the maximum length.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if len(v) > max {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
		}
	}
	return nil
}
