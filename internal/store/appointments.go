package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AddAppointment inserts a and returns its new id, or 0 on failure. The
// referenced patient must exist.
func (s *Store) AddAppointment(ctx context.Context, a NewAppointment) int64 {
	ctx, done := s.track(ctx, "add_appointment")
	id, err := s.addAppointment(ctx, a)
	done(err)
	return id
}

func (s *Store) addAppointment(ctx context.Context, a NewAppointment) (int64, error) {
	if err := a.validate(); err != nil {
		return 0, err
	}
	const query = `
		INSERT INTO appointment (id_patient, date, diagnose_text, diagnose_sound)
		VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		a.PatientID, formatDateTime(a.Date), nullString(a.DiagnoseText), nullString(a.DiagnoseSound),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateAppointment overwrites every field of appointment id and reports
// whether a row was changed.
func (s *Store) UpdateAppointment(ctx context.Context, id int64, a NewAppointment) bool {
	ctx, done := s.track(ctx, "update_appointment")
	ok, err := s.updateAppointment(ctx, id, a)
	done(err)
	return ok
}

func (s *Store) updateAppointment(ctx context.Context, id int64, a NewAppointment) (bool, error) {
	if err := a.validate(); err != nil {
		return false, err
	}
	const query = `
		UPDATE appointment SET id_patient = ?, date = ?, diagnose_text = ?, diagnose_sound = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		a.PatientID, formatDateTime(a.Date), nullString(a.DiagnoseText), nullString(a.DiagnoseSound), id,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteAppointment removes appointment id after taking a backup, then
// deletes its recording if one is referenced. A missing recording is not an
// error.
func (s *Store) DeleteAppointment(ctx context.Context, id int64) bool {
	s.Backup(ctx)

	ctx, done := s.track(ctx, "delete_appointment")
	ok, sound, err := s.deleteAppointment(ctx, id)
	done(err)
	if ok {
		s.removeAudio(sound)
	}
	return ok
}

// deleteAppointment reads the recording path and deletes the row in one
// transaction, so the path returned is the one the deleted row held.
func (s *Store) deleteAppointment(ctx context.Context, id int64) (ok bool, sound string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", err
	}
	defer func() {
		if !ok || err != nil {
			tx.Rollback()
		}
	}()

	var snd sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT diagnose_sound FROM appointment WHERE id = ?`, id).Scan(&snd)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM appointment WHERE id = ?`, id)
	if err != nil {
		return false, "", err
	}
	if ok, err = affected(res); err != nil || !ok {
		return false, "", err
	}
	if err = tx.Commit(); err != nil {
		return false, "", err
	}
	return true, snd.String, nil
}

// GetAppointment returns appointment id. ok is false when it does not exist
// or the lookup failed.
func (s *Store) GetAppointment(ctx context.Context, id int64) (Appointment, bool) {
	ctx, done := s.track(ctx, "get_appointment")
	const query = `
		SELECT id, id_patient, date, diagnose_text, diagnose_sound
		FROM appointment WHERE id = ?`
	out, err := s.queryAppointments(ctx, query, id)
	done(err)
	if len(out) == 0 {
		return Appointment{}, false
	}
	return out[0], true
}

// GetAllAppointments lists every appointment ordered by date, then id.
func (s *Store) GetAllAppointments(ctx context.Context) []Appointment {
	ctx, done := s.track(ctx, "get_all_appointments")
	const query = `
		SELECT id, id_patient, date, diagnose_text, diagnose_sound
		FROM appointment ORDER BY date, id`
	out, err := s.queryAppointments(ctx, query)
	done(err)
	return out
}

// GetAppointmentsByPatient returns the visit history of patientID ordered by
// date, then id.
func (s *Store) GetAppointmentsByPatient(ctx context.Context, patientID int64) []AppointmentSummary {
	ctx, done := s.track(ctx, "get_appointments_by_patient")
	out, err := s.appointmentsByPatient(ctx, patientID)
	done(err)
	return out
}

func (s *Store) appointmentsByPatient(ctx context.Context, patientID int64) ([]AppointmentSummary, error) {
	const query = `
		SELECT id, date, diagnose_text FROM appointment
		WHERE id_patient = ?
		ORDER BY date, id`
	rows, err := s.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return []AppointmentSummary{}, err
	}
	defer rows.Close()

	out := []AppointmentSummary{}
	for rows.Next() {
		var (
			a    AppointmentSummary
			date any
			text sql.NullString
		)
		if err := rows.Scan(&a.ID, &date, &text); err != nil {
			return []AppointmentSummary{}, err
		}
		if a.Date, err = parseStored(date); err != nil {
			return []AppointmentSummary{}, fmt.Errorf("appointment %d date: %w", a.ID, err)
		}
		a.DiagnoseText = text.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return []AppointmentSummary{}, err
	}
	return out, nil
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return []Appointment{}, err
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		var (
			a           Appointment
			date        any
			text, sound sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PatientID, &date, &text, &sound); err != nil {
			return []Appointment{}, err
		}
		if a.Date, err = parseStored(date); err != nil {
			return []Appointment{}, fmt.Errorf("appointment %d date: %w", a.ID, err)
		}
		a.DiagnoseText = text.String
		a.DiagnoseSound = sound.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return []Appointment{}, err
	}
	return out, nil
}

// DaySheet lists the appointments that fall on day's calendar date, ordered
// by time then id and numbered from 1, joined with the patient's contact
// details.
func (s *Store) DaySheet(ctx context.Context, day time.Time) []DayEntry {
	ctx, done := s.track(ctx, "day_sheet")
	out, err := s.daySheet(ctx, day)
	done(err)
	return out
}

func (s *Store) daySheet(ctx context.Context, day time.Time) ([]DayEntry, error) {
	const query = `
		SELECT a.id, p.id, p.full_name, p.phone_number, p.birthday, a.date
		FROM appointment a
		JOIN patient p ON p.id = a.id_patient
		WHERE a.date >= ? AND a.date < ?
		ORDER BY a.date, a.id`
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1)
	rows, err := s.db.QueryContext(ctx, query, formatDate(start), formatDate(end))
	if err != nil {
		return []DayEntry{}, err
	}
	defer rows.Close()

	out := []DayEntry{}
	for rows.Next() {
		var (
			e              DayEntry
			phone          sql.NullString
			birthday, date any
		)
		if err := rows.Scan(&e.AppointmentID, &e.PatientID, &e.FullName, &phone, &birthday, &date); err != nil {
			return []DayEntry{}, err
		}
		if e.Birthday, err = parseStored(birthday); err != nil {
			return []DayEntry{}, fmt.Errorf("patient %d birthday: %w", e.PatientID, err)
		}
		if e.Date, err = parseStored(date); err != nil {
			return []DayEntry{}, fmt.Errorf("appointment %d date: %w", e.AppointmentID, err)
		}
		e.PhoneNumber = phone.String
		e.Order = len(out) + 1
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return []DayEntry{}, err
	}
	return out, nil
}
