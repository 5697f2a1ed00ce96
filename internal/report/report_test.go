package report_test

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/doctorapp/internal/report"
	"github.com/MrWong99/doctorapp/internal/store"
)

// fakeRenderer records its inputs and returns a fixed document.
type fakeRenderer struct {
	sheet    report.PatientSheet
	diagnose string
	day      time.Time
	lines    []report.DayLine
	err      error
}

func (f *fakeRenderer) AppointmentPDF(p report.PatientSheet, diagnose string) ([]byte, error) {
	f.sheet, f.diagnose = p, diagnose
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-appointment"), nil
}

func (f *fakeRenderer) DayPDF(day time.Time, lines []report.DayLine) ([]byte, error) {
	f.day, f.lines = day, lines
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-day"), nil
}

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.Local)
}

func TestPatientSheetFrom(t *testing.T) {
	t.Parallel()
	got := report.PatientSheetFrom(store.Patient{
		FullName: "Ana Ilić", Birthday: date(1990, time.May, 1, 0, 0), Address: "Bulevar Oslobođenja 56",
		PhoneNumber: "ignored",
	})
	want := report.PatientSheet{FullName: "Ana Ilić", Birthday: "01.05.1990.", Address: "Bulevar Oslobođenja 56"}
	if got != want {
		t.Errorf("PatientSheetFrom = %+v, want %+v", got, want)
	}
	if got := report.PatientSheetFrom(store.Patient{FullName: "X Y"}); got.Birthday != "" {
		t.Errorf("zero birthday rendered as %q", got.Birthday)
	}
}

func TestDayLinesFrom(t *testing.T) {
	t.Parallel()
	got := report.DayLinesFrom([]store.DayEntry{
		{Order: 1, FullName: "Marko Marić", PhoneNumber: "011 222 333", Birthday: date(1970, time.December, 31, 0, 0)},
		{Order: 2, FullName: "Ana Ilić", Birthday: date(1990, time.May, 1, 0, 0)},
	})
	want := []report.DayLine{
		{Order: 1, FullName: "Marko Marić", PhoneNumber: "011 222 333", Birthday: "31.12.1970."},
		{Order: 2, FullName: "Ana Ilić", Birthday: "01.05.1990."},
	}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got := report.DayLinesFrom(nil); got == nil || len(got) != 0 {
		t.Errorf("DayLinesFrom(nil) = %#v, want empty non-nil", got)
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()
	if got := report.Encode([]byte("%PDF-1.4")); got != "JVBERi0xLjQ=" {
		t.Errorf("Encode = %q", got)
	}
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "database.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestService_AppointmentReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)
	pid := st.AddPatient(ctx, store.NewPatient{Name: "Ana", LastName: "Ilić", Birthday: date(1990, time.May, 1, 0, 0), Address: "Grocka"})
	aid := st.AddAppointment(ctx, store.NewAppointment{PatientID: pid, Date: date(2024, time.January, 10, 9, 0), DiagnoseText: "Routine"})

	r := &fakeRenderer{}
	svc := report.NewService(st, r)

	enc, err := svc.AppointmentReport(ctx, aid, "")
	if err != nil {
		t.Fatalf("AppointmentReport: %v", err)
	}
	pdf, err := base64.StdEncoding.DecodeString(enc)
	if err != nil || string(pdf) != "%PDF-appointment" {
		t.Errorf("decoded = %q, %v", pdf, err)
	}
	if r.sheet.FullName != "Ana Ilić" || r.sheet.Address != "Grocka" || r.diagnose != "Routine" {
		t.Errorf("renderer got %+v / %q", r.sheet, r.diagnose)
	}

	if _, err := svc.AppointmentReport(ctx, aid, "Edited diagnosis"); err != nil {
		t.Fatal(err)
	}
	if r.diagnose != "Edited diagnosis" {
		t.Errorf("override ignored: %q", r.diagnose)
	}

	if _, err := svc.AppointmentReport(ctx, aid+100, ""); !errors.Is(err, report.ErrNotFound) {
		t.Errorf("unknown appointment err = %v, want ErrNotFound", err)
	}
}

func TestService_DayReport(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newStore(t)
	pid := st.AddPatient(ctx, store.NewPatient{Name: "Ana", LastName: "Ilić", Birthday: date(1990, time.May, 1, 0, 0)})
	st.AddAppointment(ctx, store.NewAppointment{PatientID: pid, Date: date(2024, time.January, 10, 9, 0)})

	r := &fakeRenderer{}
	svc := report.NewService(st, r)
	if _, err := svc.DayReport(ctx, date(2024, time.January, 10, 0, 0)); err != nil {
		t.Fatalf("DayReport: %v", err)
	}
	if len(r.lines) != 1 || r.lines[0].Order != 1 || r.lines[0].FullName != "Ana Ilić" {
		t.Errorf("lines = %+v", r.lines)
	}

	r.err = errors.New("font missing")
	if _, err := svc.DayReport(ctx, date(2024, time.January, 11, 0, 0)); err == nil {
		t.Error("expected render error")
	}
	if len(r.lines) != 0 {
		t.Errorf("empty day produced %d lines", len(r.lines))
	}
}
