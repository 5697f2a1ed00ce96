package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/MrWong99/doctorapp/internal/report"
	"github.com/MrWong99/doctorapp/internal/store"
)

// execRenderer is a [report.Renderer] backed by an external program. The
// program receives a JSON job on stdin and must write the PDF to stdout.
//
//	{"kind":"appointment","patient":{...},"diagnose":"..."}
//	{"kind":"day","day":"2024-01-10","lines":[...]}
type execRenderer struct {
	ctx  context.Context
	path string
}

var _ report.Renderer = (*execRenderer)(nil)

type renderJob struct {
	Kind     string               `json:"kind"`
	Patient  *report.PatientSheet `json:"patient,omitempty"`
	Diagnose string               `json:"diagnose,omitempty"`
	Day      string               `json:"day,omitempty"`
	Lines    []report.DayLine     `json:"lines,omitempty"`
}

func (r *execRenderer) AppointmentPDF(p report.PatientSheet, diagnose string) ([]byte, error) {
	return r.render(renderJob{Kind: "appointment", Patient: &p, Diagnose: diagnose})
}

func (r *execRenderer) DayPDF(day time.Time, lines []report.DayLine) ([]byte, error) {
	return r.render(renderJob{Kind: "day", Day: day.Format(store.DateLayout), Lines: lines})
}

func (r *execRenderer) render(job renderJob) ([]byte, error) {
	in, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("renderer: encode job: %w", err)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(r.ctx, r.path)
	cmd.Stdin = bytes.NewReader(in)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("renderer: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("renderer: %w", err)
	}
	if stdout.Len() == 0 {
		return nil, errors.New("renderer: produced no output")
	}
	return stdout.Bytes(), nil
}

func cmdReportAppointment(e *env, args []string) error {
	fs := newFlags("report appointment")
	renderer := fs.String("renderer", "", "PDF renderer executable")
	diagnose := fs.String("diagnose", "", "diagnosis text to print instead of the stored one")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *renderer == "" {
		return usagef("-renderer is required")
	}
	id, err := singleID(fs)
	if err != nil {
		return err
	}
	svc := report.NewService(e.store, &execRenderer{ctx: e.ctx, path: *renderer})
	doc, err := svc.AppointmentReport(e.ctx, id, *diagnose)
	if err != nil {
		e.sink.Record(fmt.Sprintf("Report generation failed: %v", err))
		return err
	}
	fmt.Fprintln(e.stdout, doc)
	return nil
}

func cmdReportDay(e *env, args []string) error {
	fs := newFlags("report day")
	renderer := fs.String("renderer", "", "PDF renderer executable")
	date := fs.String("date", "", "day to render (YYYY-MM-DD), default today")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *renderer == "" {
		return usagef("-renderer is required")
	}
	day, err := dayOrToday(*date)
	if err != nil {
		return err
	}
	svc := report.NewService(e.store, &execRenderer{ctx: e.ctx, path: *renderer})
	doc, err := svc.DayReport(e.ctx, day)
	if err != nil {
		e.sink.Record(fmt.Sprintf("Report generation failed: %v", err))
		return err
	}
	fmt.Fprintln(e.stdout, doc)
	return nil
}
