// Package report connects the store to an external PDF renderer.
//
// DoctorApp itself contains no layout or PDF code. It builds small
// projections of the stored data ([PatientSheet], [DayLine]), hands them to
// a [Renderer] and returns the rendered document base64-encoded, the form
// in which the presentation layer embeds and prints it.
package report

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/doctorapp/internal/store"
)

// BirthdayLayout is the display format for dates of birth on printed
// reports (e.g. "01.05.1990.").
const BirthdayLayout = "02.01.2006."

// ErrNotFound is returned when the requested appointment or its patient
// does not exist.
var ErrNotFound = errors.New("report: not found")

// PatientSheet is the patient header of a medical report.
type PatientSheet struct {
	FullName string `json:"full_name"`
	Birthday string `json:"birthday"`
	Address  string `json:"address"`
}

// DayLine is one row of the daily patient list.
type DayLine struct {
	Order       int    `json:"order"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
	Birthday    string `json:"birthday"`
}

// Renderer produces PDF documents. Implementations live outside this
// module.
type Renderer interface {
	// AppointmentPDF renders a medical report for one visit.
	AppointmentPDF(p PatientSheet, diagnose string) ([]byte, error)

	// DayPDF renders the list of patients seen on day.
	DayPDF(day time.Time, lines []DayLine) ([]byte, error)
}

// Source is the subset of [store.Store] used to assemble reports.
type Source interface {
	GetPatient(ctx context.Context, id int64) (store.Patient, bool)
	GetAppointment(ctx context.Context, id int64) (store.Appointment, bool)
	DaySheet(ctx context.Context, day time.Time) []store.DayEntry
}

// Compile-time interface check.
var _ Source = (*store.Store)(nil)

// PatientSheetFrom projects p onto the report header.
func PatientSheetFrom(p store.Patient) PatientSheet {
	return PatientSheet{
		FullName: p.FullName,
		Birthday: formatBirthday(p.Birthday),
		Address:  p.Address,
	}
}

// DayLinesFrom projects day-sheet entries onto report rows, keeping their
// order numbers.
func DayLinesFrom(entries []store.DayEntry) []DayLine {
	lines := make([]DayLine, len(entries))
	for i, e := range entries {
		lines[i] = DayLine{
			Order:       e.Order,
			FullName:    e.FullName,
			PhoneNumber: e.PhoneNumber,
			Birthday:    formatBirthday(e.Birthday),
		}
	}
	return lines
}

// Encode returns pdf as standard base64.
func Encode(pdf []byte) string {
	return base64.StdEncoding.EncodeToString(pdf)
}

func formatBirthday(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(BirthdayLayout)
}

// Service assembles and renders reports.
type Service struct {
	src      Source
	renderer Renderer
}

// NewService creates a Service reading from src and rendering with r.
func NewService(src Source, r Renderer) *Service {
	return &Service{src: src, renderer: r}
}

// AppointmentReport renders the medical report for appointment id and
// returns it base64-encoded. The diagnosis text is taken from the
// appointment unless override is non-empty.
func (s *Service) AppointmentReport(ctx context.Context, id int64, override string) (string, error) {
	a, ok := s.src.GetAppointment(ctx, id)
	if !ok {
		return "", fmt.Errorf("report: appointment %d: %w", id, ErrNotFound)
	}
	p, ok := s.src.GetPatient(ctx, a.PatientID)
	if !ok {
		return "", fmt.Errorf("report: patient %d: %w", a.PatientID, ErrNotFound)
	}
	diagnose := a.DiagnoseText
	if override != "" {
		diagnose = override
	}
	pdf, err := s.renderer.AppointmentPDF(PatientSheetFrom(p), diagnose)
	if err != nil {
		return "", fmt.Errorf("report: render appointment %d: %w", id, err)
	}
	return Encode(pdf), nil
}

// DayReport renders the list of patients seen on day and returns it
// base64-encoded. A day without appointments renders an empty list.
func (s *Service) DayReport(ctx context.Context, day time.Time) (string, error) {
	lines := DayLinesFrom(s.src.DaySheet(ctx, day))
	pdf, err := s.renderer.DayPDF(day, lines)
	if err != nil {
		return "", fmt.Errorf("report: render day %s: %w", day.Format(store.DateLayout), err)
	}
	return Encode(pdf), nil
}
