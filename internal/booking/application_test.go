package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "ilm/pkg/domain-errors"
)

func validFields() map[string]string {
	return map[string]string{
		"firstName":        "Sarah",
		"lastName":         "Khan",
		"email":            "sarah.khan@example.com",
		"phone":            "07722 440395",
		"roomType":         "ensuite",
		"checkInDate":      "2024-09-14",
		"parkingRequired":  "on",
		"agreeTerms":       "on",
		"agreePrivacy":     "on",
		"agreeHalalPolicy": "on",
		"website":          "",
	}
}

func TestApplicationID(t *testing.T) {
	assert.Equal(t, "RH-ILM-26420042", applicationID(1705326432642, 42))
	assert.Equal(t, "RH-ILM-00070000", applicationID(7, 0))

	id := GenerateApplicationID(time.Date(2024, 1, 15, 13, 47, 12, 642_000_000, time.UTC))
	assert.True(t, IsApplicationID(id), id)
	assert.Equal(t, "RH-ILM-2642", id[:11])
}

func TestIsApplicationID(t *testing.T) {
	assert.True(t, IsApplicationID("RH-ILM-12345678"))
	assert.False(t, IsApplicationID("RH-ILM-1234567"))
	assert.False(t, IsApplicationID("RH-ILM-1234567x"))
	assert.False(t, IsApplicationID("XX-ILM-12345678"))
	assert.False(t, IsApplicationID(""))
}

func TestNormalizeFields(t *testing.T) {
	in := validFields()
	in["firstName"] = "  Sarah "
	out := NormalizeFields(in)

	assert.Equal(t, "yes", out["parkingRequired"])
	assert.Equal(t, "yes", out["agreeTerms"])
	assert.Equal(t, "Sarah", out["firstName"])
	assert.Equal(t, "on", in["agreeTerms"], "input is not modified")
}

func TestParseApplication(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]string)
		msg    string
	}{
		{"valid", func(map[string]string) {}, ""},
		{"missing first name", func(f map[string]string) { delete(f, "firstName") }, "first_name is required"},
		{"bad email", func(f map[string]string) { f["email"] = "sarah" }, "email must be a valid email"},
		{"bad phone", func(f map[string]string) { f["phone"] = "12345" },
			"phone must be a valid phone number (e.g., 07722440395 or +447722440395)"},
		{"terms not accepted", func(f map[string]string) { delete(f, "agreeTerms") }, "agree_terms is invalid"},
		{"bad optional reference email", func(f map[string]string) { f["referenceEmail"] = "nope" },
			"reference_email must be a valid email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields()
			tt.mutate(fields)
			app, err := ParseApplication(NormalizeFields(fields))
			if tt.msg == "" {
				require.NoError(t, err)
				assert.Equal(t, "yes", app.ParkingRequired)
				return
			}
			var de *dErrors.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, dErrors.CodeValidation, de.Code)
			assert.Equal(t, tt.msg, de.Message)
		})
	}
}
