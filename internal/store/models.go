package store

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage layouts for dates. Values are written as local wall-clock text so
// the database stays readable by other SQLite tooling.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Gender is the optional patient gender. The database rejects anything other
// than the three constants below; the empty value is stored as NULL.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// IsValid reports whether g is one of the accepted values. The empty Gender
// is valid and means "not recorded".
func (g Gender) IsValid() bool {
	switch g {
	case "", GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}

// Patient is a full patient row.
type Patient struct {
	ID          int64
	Name        string
	LastName    string
	FullName    string
	PhoneNumber string
	Email       string
	Gender      Gender
	Birthday    time.Time
	Address     string
	Note        string
}

// NewPatient carries the caller-supplied fields of a patient. It is used for
// both inserts and full-row updates.
type NewPatient struct {
	Name        string
	LastName    string
	Birthday    time.Time
	PhoneNumber string
	Email       string
	Gender      Gender
	Address     string
	Note        string
}

func (p NewPatient) validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(p.LastName) == "" {
		errs = append(errs, errors.New("last name is required"))
	}
	if p.Birthday.IsZero() {
		errs = append(errs, errors.New("birthday is required"))
	}
	return errors.Join(errs...)
}

// PatientSummary is the list projection used by patient pickers and search.
type PatientSummary struct {
	ID          int64
	FullName    string
	PhoneNumber string
	Email       string
}

// Appointment is a full appointment row. DiagnoseSound is the path of the
// dictation recording, if any.
type Appointment struct {
	ID            int64
	PatientID     int64
	Date          time.Time
	DiagnoseText  string
	DiagnoseSound string
}

// NewAppointment carries the caller-supplied fields of an appointment.
type NewAppointment struct {
	PatientID     int64
	Date          time.Time
	DiagnoseText  string
	DiagnoseSound string
}

func (a NewAppointment) validate() error {
	var errs []error
	if a.PatientID <= 0 {
		errs = append(errs, fmt.Errorf("patient id %d is invalid", a.PatientID))
	}
	if a.Date.IsZero() {
		errs = append(errs, errors.New("date is required"))
	}
	return errors.Join(errs...)
}

// AppointmentSummary is the per-patient history projection.
type AppointmentSummary struct {
	ID           int64
	Date         time.Time
	DiagnoseText string
}

// DayEntry is one numbered line of the day sheet.
type DayEntry struct {
	Order         int
	AppointmentID int64
	PatientID     int64
	FullName      string
	PhoneNumber   string
	Birthday      time.Time
	Date          time.Time
}
