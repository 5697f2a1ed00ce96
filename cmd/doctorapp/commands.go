package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/doctorapp/internal/config"
	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/report"
	"github.com/MrWong99/doctorapp/internal/speech"
	"github.com/MrWong99/doctorapp/internal/store"
)

// env is the state shared by every command.
type env struct {
	ctx    context.Context
	cfg    *config.Config
	store  *store.Store
	sink   errlog.Sink
	stdin  io.Reader
	stdout io.Writer
	probe  *modelProbe
}

// modelProbe exposes the speech engine to the readiness check once a
// command has created it.
type modelProbe struct {
	eng atomic.Pointer[speech.Engine]
}

func (p *modelProbe) set(e *speech.Engine) { p.eng.Store(e) }

// ModelReady implements health.ModelStatus.
func (p *modelProbe) ModelReady() bool {
	e := p.eng.Load()
	return e != nil && e.ModelReady()
}

// usageError marks a malformed invocation.
type usageError struct{ error }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

// command is one CLI verb. Multi-word names ("patient add") are matched on
// the first two arguments.
type command struct {
	name   string
	usage  string
	help   string
	speech bool
	run    func(e *env, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{name: "patient add", usage: "patient add -name N -last-name L -birthday YYYY-MM-DD [-phone P] [-email E] [-gender G] [-address A] [-note T]", help: "register a patient", run: cmdPatientAdd},
		{name: "patient update", usage: "patient update <id> [field flags]", help: "change a patient's fields", run: cmdPatientUpdate},
		{name: "patient delete", usage: "patient delete <id>", help: "delete a patient with all appointments and recordings", run: cmdPatientDelete},
		{name: "patient get", usage: "patient get <id>", help: "show a patient and their visit history", run: cmdPatientGet},
		{name: "patient list", usage: "patient list", help: "list all patients", run: cmdPatientList},
		{name: "patient search", usage: "patient search <text>", help: "find patients whose full name contains text", run: cmdPatientSearch},
		{name: "patient suggest", usage: "patient suggest [-limit N] <name>", help: "rank patients by name similarity", run: cmdPatientSuggest},
		{name: "appointment add", usage: "appointment add -patient ID -date \"YYYY-MM-DD HH:MM\" [-text T] [-sound PATH]", help: "record a visit", run: cmdAppointmentAdd},
		{name: "appointment update", usage: "appointment update <id> [field flags]", help: "change a visit", run: cmdAppointmentUpdate},
		{name: "appointment delete", usage: "appointment delete <id>", help: "delete a visit and its recording", run: cmdAppointmentDelete},
		{name: "appointment get", usage: "appointment get <id>", help: "show a visit", run: cmdAppointmentGet},
		{name: "appointment list", usage: "appointment list [-patient ID]", help: "list visits", run: cmdAppointmentList},
		{name: "day-sheet", usage: "day-sheet [-date YYYY-MM-DD]", help: "print the numbered list of patients for a day", run: cmdDaySheet},
		{name: "report appointment", usage: "report appointment -renderer CMD [-diagnose T] <id>", help: "render a visit report through an external renderer", run: cmdReportAppointment},
		{name: "report day", usage: "report day -renderer CMD [-date YYYY-MM-DD]", help: "render the day sheet through an external renderer", run: cmdReportDay},
		{name: "backup", usage: "backup", help: "snapshot the database now", run: cmdBackup},
		{name: "backups", usage: "backups", help: "list retained backups, newest first", run: cmdBackups},
		{name: "record", usage: "record [-attach APPOINTMENT_ID]", help: "dictate interactively: Enter starts and stops, q quits", speech: true, run: cmdRecord},
		{name: "transcribe-file", usage: "transcribe-file <file.wav>", help: "transcribe an existing WAV file", run: cmdTranscribeFile},
		{name: "serve", usage: "serve", help: "run only the diagnostics listener until interrupted", run: cmdServe},
		{name: "help", usage: "help", help: "show this list"},
	}
}

// lookup resolves args to a command and the arguments that follow its name.
func lookup(args []string) (command, []string, bool) {
	if len(args) >= 2 {
		two := args[0] + " " + args[1]
		for _, c := range commands {
			if c.name == two {
				return c, args[2:], true
			}
		}
	}
	if len(args) >= 1 {
		for _, c := range commands {
			if c.name == args[0] {
				return c, args[1:], true
			}
		}
	}
	return command{}, nil, false
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: doctorapp [-config path] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.help)
	}
	tw.Flush()
}

// ── Argument helpers ──────────────────────────────────────────────────────────

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	return nil
}

// setFlags returns the names of the flags given on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usagef("invalid id %q", s)
	}
	return id, nil
}

// singleID expects exactly one positional id argument.
func singleID(fs *flag.FlagSet) (int64, error) {
	if fs.NArg() != 1 {
		return 0, usagef("expected exactly one id")
	}
	return parseID(fs.Arg(0))
}

func parseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(store.DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, usagef("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// visitLayouts are accepted for appointment dates, most precise first.
var visitLayouts = []string{store.DateTimeLayout, "2006-01-02 15:04", store.DateLayout}

func parseVisit(s string) (time.Time, error) {
	for _, layout := range visitLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, usagef("invalid date %q, want YYYY-MM-DD [HH:MM[:SS]]", s)
}

func parseGender(s string) (store.Gender, error) {
	if s == "" {
		return "", nil
	}
	// Accept any casing of the stored values.
	g := store.Gender(strings.ToUpper(s[:1]) + strings.ToLower(s[1:]))
	if !g.IsValid() {
		return "", usagef("invalid gender %q, want Male, Female or Other", s)
	}
	return g, nil
}

// failed reports a store sentinel to the user. The cause has already been
// written to the error log.
func (e *env) failed(what string) error {
	return fmt.Errorf("%s failed; details in %s", what, e.cfg.ErrorLogPath())
}

func (e *env) table() *tabwriter.Writer {
	return tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
}

// ── Patients ──────────────────────────────────────────────────────────────────

type patientFlags struct {
	name, lastName, birthday, phone, email, gender, address, note string
}

func (pf *patientFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&pf.name, "name", "", "first name")
	fs.StringVar(&pf.lastName, "last-name", "", "last name")
	fs.StringVar(&pf.birthday, "birthday", "", "date of birth (YYYY-MM-DD)")
	fs.StringVar(&pf.phone, "phone", "", "phone number")
	fs.StringVar(&pf.email, "email", "", "e-mail address")
	fs.StringVar(&pf.gender, "gender", "", "Male, Female or Other")
	fs.StringVar(&pf.address, "address", "", "postal address")
	fs.StringVar(&pf.note, "note", "", "free-form note")
}

// apply copies the flags that were set onto p.
func (pf *patientFlags) apply(set map[string]bool, p *store.NewPatient) error {
	if set["name"] {
		p.Name = pf.name
	}
	if set["last-name"] {
		p.LastName = pf.lastName
	}
	if set["birthday"] {
		b, err := parseDay(pf.birthday)
		if err != nil {
			return err
		}
		p.Birthday = b
	}
	if set["phone"] {
		p.PhoneNumber = pf.phone
	}
	if set["email"] {
		p.Email = pf.email
	}
	if set["gender"] {
		g, err := parseGender(pf.gender)
		if err != nil {
			return err
		}
		p.Gender = g
	}
	if set["address"] {
		p.Address = pf.address
	}
	if set["note"] {
		p.Note = pf.note
	}
	return nil
}

func cmdPatientAdd(e *env, args []string) error {
	fs := newFlags("patient add")
	var pf patientFlags
	pf.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var p store.NewPatient
	if err := pf.apply(setFlags(fs), &p); err != nil {
		return err
	}
	id := e.store.AddPatient(e.ctx, p)
	if id == 0 {
		return e.failed("add patient")
	}
	fmt.Fprintf(e.stdout, "patient %d added\n", id)
	return nil
}

func cmdPatientUpdate(e *env, args []string) error {
	fs := newFlags("patient update")
	var pf patientFlags
	pf.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	cur, ok := e.store.GetPatient(e.ctx, id)
	if !ok {
		return fmt.Errorf("patient %d not found", id)
	}
	p := store.NewPatient{
		Name:        cur.Name,
		LastName:    cur.LastName,
		Birthday:    cur.Birthday,
		PhoneNumber: cur.PhoneNumber,
		Email:       cur.Email,
		Gender:      cur.Gender,
		Address:     cur.Address,
		Note:        cur.Note,
	}
	if err := pf.apply(setFlags(fs), &p); err != nil {
		return err
	}
	if !e.store.UpdatePatient(e.ctx, id, p) {
		return e.failed("update patient")
	}
	fmt.Fprintf(e.stdout, "patient %d updated\n", id)
	return nil
}

func cmdPatientDelete(e *env, args []string) error {
	fs := newFlags("patient delete")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	if !e.store.DeletePatient(e.ctx, id) {
		return fmt.Errorf("patient %d was not deleted", id)
	}
	fmt.Fprintf(e.stdout, "patient %d deleted\n", id)
	return nil
}

func cmdPatientGet(e *env, args []string) error {
	fs := newFlags("patient get")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	p, ok := e.store.GetPatient(e.ctx, id)
	if !ok {
		return fmt.Errorf("patient %d not found", id)
	}

	tw := e.table()
	fmt.Fprintf(tw, "ID:\t%d\n", p.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", p.FullName)
	fmt.Fprintf(tw, "Birthday:\t%s\n", p.Birthday.Format(report.BirthdayLayout))
	fmt.Fprintf(tw, "Gender:\t%s\n", p.Gender)
	fmt.Fprintf(tw, "Phone:\t%s\n", p.PhoneNumber)
	fmt.Fprintf(tw, "E-mail:\t%s\n", p.Email)
	fmt.Fprintf(tw, "Address:\t%s\n", p.Address)
	fmt.Fprintf(tw, "Note:\t%s\n", p.Note)
	if err := tw.Flush(); err != nil {
		return err
	}

	visits := e.store.GetAppointmentsByPatient(e.ctx, id)
	if len(visits) == 0 {
		return nil
	}
	fmt.Fprintln(e.stdout)
	tw = e.table()
	fmt.Fprintln(tw, "VISIT\tDATE\tDIAGNOSIS")
	for _, v := range visits {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", v.ID, v.Date.Format(store.DateTimeLayout), firstLine(v.DiagnoseText))
	}
	return tw.Flush()
}

func printSummaries(e *env, ps []store.PatientSummary) error {
	tw := e.table()
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tE-MAIL")
	for _, p := range ps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.ID, p.FullName, p.PhoneNumber, p.Email)
	}
	return tw.Flush()
}

func cmdPatientList(e *env, args []string) error {
	fs := newFlags("patient list")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return printSummaries(e, e.store.GetAllPatients(e.ctx))
}

func cmdPatientSearch(e *env, args []string) error {
	fs := newFlags("patient search")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return printSummaries(e, e.store.SearchPatients(e.ctx, strings.Join(fs.Args(), " ")))
}

func cmdPatientSuggest(e *env, args []string) error {
	fs := newFlags("patient suggest")
	limit := fs.Int("limit", store.DefaultSuggestLimit, "maximum number of suggestions")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return usagef("a name is required")
	}
	return printSummaries(e, e.store.SuggestPatients(e.ctx, strings.Join(fs.Args(), " "), *limit))
}

// ── Appointments ──────────────────────────────────────────────────────────────

type appointmentFlags struct {
	patient int64
	date    string
	text    string
	sound   string
}

func (af *appointmentFlags) bind(fs *flag.FlagSet) {
	fs.Int64Var(&af.patient, "patient", 0, "patient id")
	fs.StringVar(&af.date, "date", "", "visit date (YYYY-MM-DD [HH:MM[:SS]])")
	fs.StringVar(&af.text, "text", "", "diagnosis text")
	fs.StringVar(&af.sound, "sound", "", "path of the dictation recording")
}

func (af *appointmentFlags) apply(set map[string]bool, a *store.NewAppointment) error {
	if set["patient"] {
		a.PatientID = af.patient
	}
	if set["date"] {
		d, err := parseVisit(af.date)
		if err != nil {
			return err
		}
		a.Date = d
	}
	if set["text"] {
		a.DiagnoseText = af.text
	}
	if set["sound"] {
		a.DiagnoseSound = af.sound
	}
	return nil
}

func cmdAppointmentAdd(e *env, args []string) error {
	fs := newFlags("appointment add")
	var af appointmentFlags
	af.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var a store.NewAppointment
	if err := af.apply(setFlags(fs), &a); err != nil {
		return err
	}
	id := e.store.AddAppointment(e.ctx, a)
	if id == 0 {
		return e.failed("add appointment")
	}
	fmt.Fprintf(e.stdout, "appointment %d added\n", id)
	return nil
}

func cmdAppointmentUpdate(e *env, args []string) error {
	fs := newFlags("appointment update")
	var af appointmentFlags
	af.bind(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	cur, ok := e.store.GetAppointment(e.ctx, id)
	if !ok {
		return fmt.Errorf("appointment %d not found", id)
	}
	a := store.NewAppointment{
		PatientID:     cur.PatientID,
		Date:          cur.Date,
		DiagnoseText:  cur.DiagnoseText,
		DiagnoseSound: cur.DiagnoseSound,
	}
	if err := af.apply(setFlags(fs), &a); err != nil {
		return err
	}
	if !e.store.UpdateAppointment(e.ctx, id, a) {
		return e.failed("update appointment")
	}
	fmt.Fprintf(e.stdout, "appointment %d updated\n", id)
	return nil
}

func cmdAppointmentDelete(e *env, args []string) error {
	fs := newFlags("appointment delete")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	if !e.store.DeleteAppointment(e.ctx, id) {
		return fmt.Errorf("appointment %d was not deleted", id)
	}
	fmt.Fprintf(e.stdout, "appointment %d deleted\n", id)
	return nil
}

func cmdAppointmentGet(e *env, args []string) error {
	fs := newFlags("appointment get")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	a, ok := e.store.GetAppointment(e.ctx, id)
	if !ok {
		return fmt.Errorf("appointment %d not found", id)
	}
	tw := e.table()
	fmt.Fprintf(tw, "ID:\t%d\n", a.ID)
	if p, ok := e.store.GetPatient(e.ctx, a.PatientID); ok {
		sheet := report.PatientSheetFrom(p)
		fmt.Fprintf(tw, "Patient:\t%s (%d)\n", sheet.FullName, a.PatientID)
		fmt.Fprintf(tw, "Birthday:\t%s\n", sheet.Birthday)
		fmt.Fprintf(tw, "Address:\t%s\n", sheet.Address)
	}
	fmt.Fprintf(tw, "Date:\t%s\n", a.Date.Format(store.DateTimeLayout))
	fmt.Fprintf(tw, "Recording:\t%s\n", a.DiagnoseSound)
	if err := tw.Flush(); err != nil {
		return err
	}
	if a.DiagnoseText != "" {
		fmt.Fprintf(e.stdout, "\n%s\n", a.DiagnoseText)
	}
	return nil
}

func cmdAppointmentList(e *env, args []string) error {
	fs := newFlags("appointment list")
	patient := fs.Int64("patient", 0, "only this patient's visits")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	tw := e.table()
	if *patient > 0 {
		fmt.Fprintln(tw, "ID\tDATE\tDIAGNOSIS")
		for _, a := range e.store.GetAppointmentsByPatient(e.ctx, *patient) {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", a.ID, a.Date.Format(store.DateTimeLayout), firstLine(a.DiagnoseText))
		}
		return tw.Flush()
	}
	fmt.Fprintln(tw, "ID\tPATIENT\tDATE\tDIAGNOSIS")
	for _, a := range e.store.GetAllAppointments(e.ctx) {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", a.ID, a.PatientID, a.Date.Format(store.DateTimeLayout), firstLine(a.DiagnoseText))
	}
	return tw.Flush()
}

func cmdDaySheet(e *env, args []string) error {
	fs := newFlags("day-sheet")
	date := fs.String("date", "", "day to list (YYYY-MM-DD), default today")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	day, err := dayOrToday(*date)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "Patients on %s\n\n", day.Format(report.BirthdayLayout))
	tw := e.table()
	fmt.Fprintln(tw, "#\tNAME\tPHONE\tBIRTHDAY")
	for _, l := range report.DayLinesFrom(e.store.DaySheet(e.ctx, day)) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", l.Order, l.FullName, l.PhoneNumber, l.Birthday)
	}
	return tw.Flush()
}

func dayOrToday(s string) (time.Time, error) {
	if s == "" {
		y, m, d := time.Now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.Local), nil
	}
	return parseDay(s)
}

// ── Backups ───────────────────────────────────────────────────────────────────

func cmdBackup(e *env, args []string) error {
	if len(args) != 0 {
		return usagef("backup takes no arguments")
	}
	path := e.store.Backup(e.ctx)
	if path == "" {
		return e.failed("backup")
	}
	fmt.Fprintln(e.stdout, path)
	return nil
}

func cmdBackups(e *env, args []string) error {
	if len(args) != 0 {
		return usagef("backups takes no arguments")
	}
	for _, p := range e.store.Backups() {
		fmt.Fprintln(e.stdout, p)
	}
	return nil
}

// ── Diagnostics ───────────────────────────────────────────────────────────────

func cmdServe(e *env, args []string) error {
	if len(args) != 0 {
		return usagef("serve takes no arguments")
	}
	if e.cfg.Metrics.ListenAddr == "" {
		return errors.New("metrics.listen_addr is not configured")
	}
	<-e.ctx.Done()
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
