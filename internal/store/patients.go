package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SearchLimit caps the number of rows returned by [Store.SearchPatients].
const SearchLimit = 100

// AddPatient inserts p and returns its new id, or 0 on failure. A gender
// outside Male/Female/Other is rejected by the database.
func (s *Store) AddPatient(ctx context.Context, p NewPatient) int64 {
	ctx, done := s.track(ctx, "add_patient")
	id, err := s.addPatient(ctx, p)
	done(err)
	return id
}

func (s *Store) addPatient(ctx context.Context, p NewPatient) (int64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	const query = `
		INSERT INTO patient (name, last_name, phone_number, email, gender, birthday, address, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		p.Name, p.LastName, nullString(p.PhoneNumber), nullString(p.Email),
		nullString(string(p.Gender)), formatDate(p.Birthday), nullString(p.Address), nullString(p.Note),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdatePatient overwrites every field of patient id. It reports whether a
// row was changed; an unknown id yields false without logging.
func (s *Store) UpdatePatient(ctx context.Context, id int64, p NewPatient) bool {
	ctx, done := s.track(ctx, "update_patient")
	ok, err := s.updatePatient(ctx, id, p)
	done(err)
	return ok
}

func (s *Store) updatePatient(ctx context.Context, id int64, p NewPatient) (bool, error) {
	if err := p.validate(); err != nil {
		return false, err
	}
	const query = `
		UPDATE patient SET name = ?, last_name = ?, phone_number = ?, email = ?,
			gender = ?, birthday = ?, address = ?, note = ?
		WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query,
		p.Name, p.LastName, nullString(p.PhoneNumber), nullString(p.Email),
		nullString(string(p.Gender)), formatDate(p.Birthday), nullString(p.Address), nullString(p.Note),
		id,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeletePatient removes patient id together with all of its appointments.
// A backup is taken first. Row deletion happens in one transaction; the
// recordings of the removed appointments are deleted afterwards on a
// best-effort basis.
func (s *Store) DeletePatient(ctx context.Context, id int64) bool {
	s.Backup(ctx)

	ctx, done := s.track(ctx, "delete_patient")
	ok, sounds, err := s.deletePatient(ctx, id)
	done(err)
	if ok {
		s.removeAudio(sounds...)
	}
	return ok
}

func (s *Store) deletePatient(ctx context.Context, id int64) (ok bool, sounds []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, `SELECT diagnose_sound FROM appointment WHERE id_patient = ?`, id)
	if err != nil {
		return false, nil, err
	}
	for rows.Next() {
		var snd sql.NullString
		if err = rows.Scan(&snd); err != nil {
			rows.Close()
			return false, nil, err
		}
		if snd.Valid && snd.String != "" {
			sounds = append(sounds, snd.String)
		}
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return false, nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM appointment WHERE id_patient = ?`, id); err != nil {
		return false, nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM patient WHERE id = ?`, id)
	if err != nil {
		return false, nil, err
	}
	if ok, err = affected(res); err != nil {
		return false, nil, err
	}
	if err = tx.Commit(); err != nil {
		return false, nil, err
	}
	return ok, sounds, nil
}

// GetPatient returns patient id. ok is false when it does not exist or the
// lookup failed.
func (s *Store) GetPatient(ctx context.Context, id int64) (p Patient, ok bool) {
	ctx, done := s.track(ctx, "get_patient")
	p, err := s.getPatient(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		done(nil)
		return Patient{}, false
	}
	done(err)
	return p, err == nil
}

func (s *Store) getPatient(ctx context.Context, id int64) (Patient, error) {
	const query = `
		SELECT id, name, last_name, full_name, phone_number, email, gender, birthday, address, note
		FROM patient WHERE id = ?`
	var (
		p                                   Patient
		phone, email, gender, address, note sql.NullString
		birthday                            any
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.LastName, &p.FullName, &phone, &email, &gender, &birthday, &address, &note,
	)
	if err != nil {
		return Patient{}, err
	}
	if p.Birthday, err = parseStored(birthday); err != nil {
		return Patient{}, fmt.Errorf("patient %d birthday: %w", id, err)
	}
	p.PhoneNumber = phone.String
	p.Email = email.String
	p.Gender = Gender(gender.String)
	p.Address = address.String
	p.Note = note.String
	return p, nil
}

// GetAllPatients lists every patient ordered by id.
func (s *Store) GetAllPatients(ctx context.Context) []PatientSummary {
	ctx, done := s.track(ctx, "get_all_patients")
	out, err := s.querySummaries(ctx, `SELECT id, full_name, phone_number, email FROM patient ORDER BY id`)
	done(err)
	return out
}

// SearchPatients returns up to [SearchLimit] patients whose full name
// contains q. Matching is case-insensitive for ASCII letters only, and the
// LIKE wildcards % and _ in q match literally.
func (s *Store) SearchPatients(ctx context.Context, q string) []PatientSummary {
	ctx, done := s.track(ctx, "search_patients")
	const query = `
		SELECT id, full_name, phone_number, email FROM patient
		WHERE full_name LIKE ? ESCAPE '\'
		ORDER BY id
		LIMIT ?`
	out, err := s.querySummaries(ctx, query, "%"+escapeLike(q)+"%", SearchLimit)
	done(err)
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(q string) string { return likeEscaper.Replace(q) }

func (s *Store) querySummaries(ctx context.Context, query string, args ...any) ([]PatientSummary, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return []PatientSummary{}, err
	}
	defer rows.Close()

	out := []PatientSummary{}
	for rows.Next() {
		var (
			p            PatientSummary
			phone, email sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.FullName, &phone, &email); err != nil {
			return []PatientSummary{}, err
		}
		p.PhoneNumber = phone.String
		p.Email = email.String
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return []PatientSummary{}, err
	}
	return out, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
