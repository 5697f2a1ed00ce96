package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/doctorapp/internal/config"
	"github.com/MrWong99/doctorapp/internal/errlog"
	"github.com/MrWong99/doctorapp/internal/speech"
	"github.com/MrWong99/doctorapp/internal/store"
	audiomock "github.com/MrWong99/doctorapp/pkg/audio/mock"
	"github.com/MrWong99/doctorapp/pkg/provider/stt"
	sttmock "github.com/MrWong99/doctorapp/pkg/provider/stt/mock"
)

// cli runs doctorapp against a private data directory.
type cli struct {
	t       *testing.T
	dataDir string
	config  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf("log_level: error\ndata_dir: %q\nbackup:\n  keep: 2\n", filepath.Join(dir, "root"))
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cli{t: t, dataDir: filepath.Join(dir, "root"), config: cfgPath}
}

func (c *cli) run(args ...string) (code int, stdout, stderr string) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	code = run(append([]string{"-config", c.config}, args...), strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	code, out, errOut := c.run(args...)
	if code != 0 {
		c.t.Fatalf("doctorapp %s: exit %d\nstdout: %s\nstderr: %s", strings.Join(args, " "), code, out, errOut)
	}
	return out
}

func TestRun_Usage(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"frobnicate"}, 2},
		{"help", []string{"help"}, 0},
		{"bad id", []string{"patient", "get", "abc"}, 2},
		{"missing id", []string{"appointment", "delete"}, 2},
		{"bad birthday", []string{"patient", "add", "-name", "Ana", "-last-name", "Ilić", "-birthday", "01.05.1990"}, 2},
		{"bad gender", []string{"patient", "add", "-name", "Ana", "-last-name", "Ilić", "-birthday", "1990-05-01", "-gender", "x"}, 2},
		{"unknown flag", []string{"patient", "list", "-all"}, 2},
		{"report without renderer", []string{"report", "day"}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, stderr := c.run(tc.args...); code != tc.want {
				t.Errorf("exit = %d, want %d (stderr: %s)", code, tc.want, stderr)
			}
		})
	}
}

func TestRun_HelpListsCommands(t *testing.T) {
	out := newCLI(t).mustRun("help")
	for _, name := range []string{"patient add", "appointment list", "day-sheet", "backups", "record"} {
		if !strings.Contains(out, name) {
			t.Errorf("help output is missing %q", name)
		}
	}
}

func TestRun_PatientAndAppointmentWorkflow(t *testing.T) {
	c := newCLI(t)

	if out := c.mustRun("patient", "add", "-name", "Ana", "-last-name", "Ilić", "-birthday", "1990-05-01", "-gender", "female"); !strings.Contains(out, "patient 1 added") {
		t.Fatalf("patient add output = %q", out)
	}
	c.mustRun("patient", "add", "-name", "Marko", "-last-name", "Marković", "-birthday", "1985-02-03")

	if out := c.mustRun("patient", "update", "1", "-phone", "064123456"); !strings.Contains(out, "patient 1 updated") {
		t.Fatalf("patient update output = %q", out)
	}
	out := c.mustRun("patient", "get", "1")
	for _, want := range []string{"Ana Ilić", "064123456", "Female", "01.05.1990."} {
		if !strings.Contains(out, want) {
			t.Errorf("patient get output is missing %q:\n%s", want, out)
		}
	}

	if out := c.mustRun("patient", "search", "Mark"); !strings.Contains(out, "Marko Marković") || strings.Contains(out, "Ana") {
		t.Errorf("patient search output = %q", out)
	}
	if out := c.mustRun("patient", "suggest", "Markovic"); !strings.Contains(out, "Marko Marković") {
		t.Errorf("patient suggest output = %q", out)
	}

	c.mustRun("appointment", "add", "-patient", "1", "-date", "2024-01-10 10:30", "-text", "Kontrola")
	c.mustRun("appointment", "add", "-patient", "2", "-date", "2024-01-10 09:15")
	c.mustRun("appointment", "update", "2", "-text", "Prvi pregled")

	out = c.mustRun("day-sheet", "-date", "2024-01-10")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// Title, blank line, header, two rows.
	if len(lines) != 5 {
		t.Fatalf("day-sheet printed %d lines, want 5:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[3], "1") || !strings.Contains(lines[3], "Marko Marković") {
		t.Errorf("first day-sheet row = %q", lines[3])
	}
	if !strings.HasPrefix(lines[4], "2") || !strings.Contains(lines[4], "Ana Ilić") {
		t.Errorf("second day-sheet row = %q", lines[4])
	}

	if out := c.mustRun("appointment", "list", "-patient", "2"); !strings.Contains(out, "Prvi pregled") {
		t.Errorf("appointment list output = %q", out)
	}

	c.mustRun("patient", "delete", "1")
	if code, _, _ := c.run("patient", "get", "1"); code != 1 {
		t.Errorf("patient get after delete: exit = %d, want 1", code)
	}
	if out := c.mustRun("appointment", "list"); strings.Contains(out, "Kontrola") {
		t.Errorf("deleted patient's appointment still listed:\n%s", out)
	}
	if backups := strings.Fields(c.mustRun("backups")); len(backups) != 1 {
		t.Errorf("backups after delete = %v, want one", backups)
	}
}

func TestRun_FailureIsLogged(t *testing.T) {
	c := newCLI(t)

	code, _, stderr := c.run("appointment", "add", "-patient", "42", "-date", "2024-01-10")
	if code != 1 {
		t.Fatalf("exit = %d, want 1", code)
	}
	logPath := filepath.Join(c.dataDir, "logs", "errors.json")
	if !strings.Contains(stderr, logPath) {
		t.Errorf("stderr does not point at the error log: %q", stderr)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read error log: %v", err)
	}
	var entry errlog.Entry
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("decode error log %q: %v", data, err)
	}
	if !strings.HasPrefix(entry.Error, "Add appointment failed:") {
		t.Errorf("logged error = %q", entry.Error)
	}
}

func TestRun_BackupRotation(t *testing.T) {
	c := newCLI(t)

	var made []string
	for range 3 {
		made = append(made, strings.TrimSpace(c.mustRun("backup")))
		// Backup names have one-second resolution.
		time.Sleep(1100 * time.Millisecond)
	}
	listed := strings.Fields(c.mustRun("backups"))
	want := []string{made[2], made[1]}
	if strings.Join(listed, ",") != strings.Join(want, ",") {
		t.Errorf("backups = %v, want %v", listed, want)
	}
}

func TestParseVisit(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2024-01-10 09:30:15", want: "2024-01-10 09:30:15"},
		{in: "2024-01-10 09:30", want: "2024-01-10 09:30:00"},
		{in: "2024-01-10", want: "2024-01-10 00:00:00"},
		{in: "10.01.2024", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseVisit(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseVisit(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVisit(%q): %v", tc.in, err)
			continue
		}
		if s := got.Format(store.DateTimeLayout); s != tc.want {
			t.Errorf("parseVisit(%q) = %s, want %s", tc.in, s, tc.want)
		}
	}
}

func TestAppendText(t *testing.T) {
	tests := []struct{ existing, text, want string }{
		{"", "", ""},
		{"", "nov", "nov"},
		{"staro", "", "staro"},
		{"staro", "nov", "staro\nnov"},
	}
	for _, tc := range tests {
		if got := appendText(tc.existing, tc.text); got != tc.want {
			t.Errorf("appendText(%q, %q) = %q, want %q", tc.existing, tc.text, got, tc.want)
		}
	}
}

func TestDictate_AttachesTranscription(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.Open(ctx, filepath.Join(dir, "data", "database.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	pid := st.AddPatient(ctx, store.NewPatient{Name: "Ana", LastName: "Ilić", Birthday: time.Date(1990, 5, 1, 0, 0, 0, 0, time.Local)})
	aid := st.AddAppointment(ctx, store.NewAppointment{PatientID: pid, Date: time.Date(2024, 1, 10, 9, 0, 0, 0, time.Local), DiagnoseText: "Kontrola"})
	if aid == 0 {
		t.Fatal("AddAppointment returned 0")
	}

	dev := &audiomock.Capturer{Frames: [][]int16{{100, 200, 300, 400}, {500, 600, 700, 800}}}
	rec := &sttmock.Recognizer{Text: "Пацијент без тегоба"}
	eng := speech.New(st.AudioDir(), func() (stt.Recognizer, error) { return rec, nil }, dev,
		speech.WithFramesPerBuffer(4))
	t.Cleanup(func() { eng.Close() })

	pr, pw := io.Pipe()
	var out bytes.Buffer
	e := &env{
		ctx:    ctx,
		cfg:    config.Default(),
		store:  st,
		sink:   errlog.Nop{},
		stdin:  pr,
		stdout: &out,
		probe:  &modelProbe{},
	}
	e.probe.set(eng)
	if !e.probe.ModelReady() {
		t.Fatal("probe reports model not ready")
	}

	done := make(chan error, 1)
	go func() { done <- dictate(e, eng, aid) }()

	io.WriteString(pw, "\n")
	deadline := time.Now().Add(2 * time.Second)
	for dev.Reads() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("capture never started")
		}
		time.Sleep(time.Millisecond)
	}
	io.WriteString(pw, "\n")
	io.WriteString(pw, "q\n")
	pw.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dictate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dictate did not return")
	}

	a, ok := st.GetAppointment(ctx, aid)
	if !ok {
		t.Fatal("appointment vanished")
	}
	if a.DiagnoseText != "Kontrola\nPacijent bez tegoba" {
		t.Errorf("DiagnoseText = %q", a.DiagnoseText)
	}
	if filepath.Dir(a.DiagnoseSound) != st.AudioDir() {
		t.Errorf("DiagnoseSound = %q, want a file in %q", a.DiagnoseSound, st.AudioDir())
	}
	if _, err := os.Stat(a.DiagnoseSound); err != nil {
		t.Errorf("recording missing: %v", err)
	}
	if !strings.Contains(out.String(), "Transcription complete.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDictate_ModelUnavailable(t *testing.T) {
	eng := speech.New(t.TempDir(), func() (stt.Recognizer, error) {
		return nil, fmt.Errorf("open ggml-small.bin: no such file")
	}, &audiomock.Capturer{})
	t.Cleanup(func() { eng.Close() })

	e := &env{ctx: context.Background(), cfg: config.Default(), stdin: strings.NewReader("\n"), stdout: io.Discard, probe: &modelProbe{}}
	err := dictate(e, eng, 0)
	if err == nil || !strings.Contains(err.Error(), "Failed to load speech model") {
		t.Errorf("dictate error = %v", err)
	}
}

// dictation wires dictate to a fresh store, one appointment and a scripted
// microphone. Each engine clock reading is one second after the previous, so
// every take gets its own file name.
type dictation struct {
	st    *store.Store
	aid   int64
	dev   *audiomock.Capturer
	eng   *speech.Engine
	env   *env
	stdin *io.PipeWriter
	out   *bytes.Buffer
}

func newDictation(t *testing.T, ctx context.Context, text string) *dictation {
	t.Helper()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "data", "database.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	pid := st.AddPatient(ctx, store.NewPatient{Name: "Jovan", LastName: "Perić", Birthday: time.Date(1975, 3, 2, 0, 0, 0, 0, time.Local)})
	aid := st.AddAppointment(ctx, store.NewAppointment{PatientID: pid, Date: time.Date(2024, 2, 1, 10, 0, 0, 0, time.Local)})
	if aid == 0 {
		t.Fatal("AddAppointment returned 0")
	}

	var tick atomic.Int64
	clock := func() time.Time {
		return time.Date(2024, 2, 1, 10, 0, 0, 0, time.Local).Add(time.Duration(tick.Add(1)) * time.Second)
	}
	dev := &audiomock.Capturer{Frames: [][]int16{{100, 200, 300, 400}}}
	eng := speech.New(st.AudioDir(), func() (stt.Recognizer, error) { return &sttmock.Recognizer{Text: text}, nil }, dev,
		speech.WithFramesPerBuffer(4), speech.WithClock(clock))
	t.Cleanup(func() { eng.Close() })

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	d := &dictation{st: st, aid: aid, dev: dev, eng: eng, stdin: pw, out: &bytes.Buffer{}}
	d.env = &env{ctx: ctx, cfg: config.Default(), store: st, sink: errlog.Nop{}, stdin: pr, stdout: d.out, probe: &modelProbe{}}
	return d
}

// take starts a recording, waits until the device has been read past
// minReads, and stops it again.
func (d *dictation) take(t *testing.T, minReads int) {
	t.Helper()
	io.WriteString(d.stdin, "\n")
	waitForReads(t, d.dev, minReads)
	io.WriteString(d.stdin, "\n")
}

// waitForSound polls until the appointment's recording differs from prev
// and returns it.
func (d *dictation) waitForSound(t *testing.T, prev string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if a, ok := d.st.GetAppointment(context.Background(), d.aid); ok && a.DiagnoseSound != prev {
			return a.DiagnoseSound
		}
		if time.Now().After(deadline) {
			t.Fatal("appointment recording was not updated")
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForReads(t *testing.T, dev *audiomock.Capturer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for dev.Reads() < n {
		if time.Now().After(deadline) {
			t.Fatalf("device read %d times, want %d", dev.Reads(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func wavFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func TestDictate_RetakeReplacesRecording(t *testing.T) {
	ctx := context.Background()
	d := newDictation(t, ctx, "Бол у леђима")

	done := make(chan error, 1)
	go func() { done <- dictate(d.env, d.eng, d.aid) }()

	d.take(t, 2)
	first := d.waitForSound(t, "")
	d.take(t, d.dev.Reads()+2)
	d.waitForSound(t, first)
	io.WriteString(d.stdin, "q\n")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dictate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dictate did not return")
	}

	a, ok := d.st.GetAppointment(ctx, d.aid)
	if !ok {
		t.Fatal("appointment vanished")
	}
	if a.DiagnoseText != "Bol u leđima\nBol u leđima" {
		t.Errorf("DiagnoseText = %q", a.DiagnoseText)
	}
	if _, err := os.Stat(first); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("replaced recording %q still on disk (stat err = %v)", first, err)
	}
	files := wavFiles(t, d.st.AudioDir())
	if len(files) != 1 || files[0] != a.DiagnoseSound {
		t.Errorf("recordings on disk = %q, want only %q", files, a.DiagnoseSound)
	}

	// Deleting the appointment now leaves no audio behind.
	if !d.st.DeleteAppointment(ctx, d.aid) {
		t.Fatal("DeleteAppointment = false")
	}
	if files := wavFiles(t, d.st.AudioDir()); len(files) != 0 {
		t.Errorf("recordings left after delete: %q", files)
	}
}

func TestDictate_InterruptKeepsTake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := newDictation(t, ctx, "Прекинут диктат")

	done := make(chan error, 1)
	go func() { done <- dictate(d.env, d.eng, d.aid) }()

	io.WriteString(d.stdin, "\n")
	waitForReads(t, d.dev, 2)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dictate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("dictate did not return")
	}

	a, ok := d.st.GetAppointment(context.Background(), d.aid)
	if !ok {
		t.Fatal("appointment vanished")
	}
	if a.DiagnoseText != "Prekinut diktat" || a.DiagnoseSound == "" {
		t.Errorf("appointment = %+v, want the interrupted take attached", a)
	}
	if _, err := os.Stat(a.DiagnoseSound); err != nil {
		t.Errorf("recording missing: %v", err)
	}
}
