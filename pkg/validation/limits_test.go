package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "ilm/pkg/domain-errors"
)

// LimitsSuite tests the trust-boundary helpers: max must pass, max+1 must fail.
type LimitsSuite struct {
	suite.Suite
}

func TestLimitsSuite(t *testing.T) {
	suite.Run(t, new(LimitsSuite))
}

func (s *LimitsSuite) TestCheckSliceCount() {
	s.Run("passes when count equals max", func() {
		s.NoError(CheckSliceCount("events", MaxEvents, MaxEvents))
	})

	s.Run("passes when count is zero", func() {
		s.NoError(CheckSliceCount("events", 0, MaxEvents))
	})

	s.Run("fails when count exceeds max", func() {
		err := CheckSliceCount("events", MaxEvents+1, MaxEvents)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "too many events: max 500 allowed")
	})
}

func (s *LimitsSuite) TestCheckStringLength() {
	s.Run("passes at max", func() {
		s.NoError(CheckStringLength("message", strings.Repeat("a", MaxFieldValueLength), MaxFieldValueLength))
	})

	s.Run("fails above max", func() {
		err := CheckStringLength("message", strings.Repeat("a", MaxFieldValueLength+1), MaxFieldValueLength)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Contains(err.Error(), "message exceeds max length of 10000")
	})
}

func (s *LimitsSuite) TestCheckEachStringLength() {
	s.NoError(CheckEachStringLength("field name", []string{"name", "email"}, MaxFieldNameLength))

	err := CheckEachStringLength("field name", []string{"name", strings.Repeat("x", MaxFieldNameLength+1)}, MaxFieldNameLength)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
