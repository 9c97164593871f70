// Package booking prepares and submits accommodation applications to the
// remote booking endpoint.
package booking

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	dErrors "ilm/pkg/domain-errors"
	s "ilm/pkg/string"
	"ilm/pkg/validation"
)

const (
	ApplicationIDPrefix = "RH-ILM-"
	FieldApplicationID  = "applicationId"

	checkboxOn  = "on"
	checkboxYes = "yes"
)

// GenerateApplicationID returns RH-ILM- followed by the last four digits of
// now in epoch milliseconds and four random digits.
func GenerateApplicationID(now time.Time) string {
	return applicationID(now.UnixMilli(), rand.IntN(10000))
}

func applicationID(epochMS int64, random int) string {
	ts := fmt.Sprintf("%04d", epochMS)
	return fmt.Sprintf("%s%s%04d", ApplicationIDPrefix, ts[len(ts)-4:], random)
}

// Application is the validated shape of a booking form. Every value stays a
// string because the endpoint receives the form as posted.
type Application struct {
	ApplicationID string `json:"applicationId"`

	FirstName      string `json:"firstName" validate:"required,notblank"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName" validate:"required,notblank"`
	DateOfBirth    string `json:"dateOfBirth"`
	Gender         string `json:"gender"`
	Nationality    string `json:"nationality"`
	PassportNumber string `json:"passportNumber"`

	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"required,phone"`
	HomeAddress string `json:"homeAddress"`

	University      string `json:"university"`
	OtherUniversity string `json:"otherUniversity"`
	CourseOfStudy   string `json:"courseOfStudy"`
	StudentID       string `json:"studentId"`
	YearOfStudy     string `json:"yearOfStudy"`

	RoomType            string `json:"roomType" validate:"required"`
	CheckInDate         string `json:"checkInDate" validate:"required"`
	ContractLength      string `json:"contractLength"`
	RoomPreferences     string `json:"roomPreferences"`
	ParkingRequired     string `json:"parkingRequired"`
	BikeStorageRequired string `json:"bikeStorageRequired"`

	DietaryRequirements string `json:"dietaryRequirements"`
	MedicalConditions   string `json:"medicalConditions"`
	AdditionalInfo      string `json:"additionalInfo"`

	ReferenceName         string `json:"referenceName"`
	ReferenceRelationship string `json:"referenceRelationship"`
	ReferenceEmail        string `json:"referenceEmail" validate:"omitempty,email"`
	ReferenceTelephone    string `json:"referenceTelephone" validate:"omitempty,phone"`

	ProvideGuarantorLater string `json:"provideGuarantorLater"`
	GuarantorName         string `json:"guarantorName"`
	GuarantorRelationship string `json:"guarantorRelationship"`
	GuarantorEmail        string `json:"guarantorEmail" validate:"omitempty,email"`
	GuarantorTelephone    string `json:"guarantorTelephone" validate:"omitempty,phone"`
	GuarantorAddress      string `json:"guarantorAddress"`

	EmergencyName     string `json:"emergencyName"`
	EmergencyRelation string `json:"emergencyRelation"`
	EmergencyPhone    string `json:"emergencyPhone" validate:"omitempty,phone"`
	EmergencyEmail    string `json:"emergencyEmail" validate:"omitempty,email"`

	AgreeTerms       string `json:"agreeTerms" validate:"eq=yes"`
	AgreePrivacy     string `json:"agreePrivacy" validate:"eq=yes"`
	AgreeHalalPolicy string `json:"agreeHalalPolicy" validate:"eq=yes"`
}

// NormalizeFields copies fields with checkbox values "on" turned into "yes"
// and surrounding whitespace removed.
func NormalizeFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		s.TrimStrings(&v)
		if v == checkboxOn {
			v = checkboxYes
		}
		out[k] = v
	}
	return out
}

// ParseApplication validates normalized fields against Application.
func ParseApplication(fields map[string]string) (*Application, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid booking form")
	}
	var app Application
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid booking form")
	}
	if err := validation.Validate(app); err != nil {
		return nil, err
	}
	return &app, nil
}

// IsApplicationID reports whether id has the generated shape.
func IsApplicationID(id string) bool {
	rest, ok := strings.CutPrefix(id, ApplicationIDPrefix)
	if !ok || len(rest) != 8 {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
