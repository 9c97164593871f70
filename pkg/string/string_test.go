package string

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"firstName":          "first_name",
		"referenceTelephone": "reference_telephone",
		"ID":                 "id",
		"applicationID":      "application_id",
		"email":              "email",
	}
	for in, want := range tests {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestStripChars(t *testing.T) {
	assert.Equal(t, "+447722440395", StripChars("+44 (7722) 440-395", " -()"))
	assert.Equal(t, "", StripChars("", " "))
}

func TestTrimStrings(t *testing.T) {
	a, b := "  x ", "\ty\n"
	TrimStrings(&a, &b)
	assert.Equal(t, "x", a)
	assert.Equal(t, "y", b)
}

func TestDedupeAndTrim(t *testing.T) {
	assert.Equal(t, []string{"foo", "bar"}, DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "}))
	assert.Empty(t, DedupeAndTrim(nil))
}

func TestDedupeAndTrimLower(t *testing.T) {
	assert.Equal(t, []string{"free money", "casino"}, DedupeAndTrimLower([]string{" Free Money", "CASINO", "free money "}))
}
