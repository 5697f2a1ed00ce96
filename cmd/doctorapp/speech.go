package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/MrWong99/doctorapp/internal/speech"
	"github.com/MrWong99/doctorapp/internal/store"
	"github.com/MrWong99/doctorapp/internal/translit"
	"github.com/MrWong99/doctorapp/pkg/audio"
	"github.com/MrWong99/doctorapp/pkg/audio/portaudio"
	"github.com/MrWong99/doctorapp/pkg/provider/stt/whisper"
)

// recognizerThreads caps whisper.cpp at the machine's cores, up to 8.
func recognizerThreads() uint {
	return uint(min(runtime.NumCPU(), 8))
}

func cmdRecord(e *env, args []string) error {
	fs := newFlags("record")
	attach := fs.Int64("attach", 0, "append transcriptions and recordings to this appointment")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return usagef("record takes no positional arguments")
	}
	if *attach > 0 {
		if _, ok := e.store.GetAppointment(e.ctx, *attach); !ok {
			return fmt.Errorf("appointment %d not found", *attach)
		}
	}

	capturer, err := portaudio.New()
	if err != nil {
		e.sink.Record(fmt.Sprintf("Audio device error: %v", err))
		return err
	}
	defer func() {
		if err := capturer.Close(); err != nil {
			e.sink.Record(fmt.Sprintf("Audio device error: %v", err))
		}
	}()

	eng := speech.New(e.cfg.AudioDir(),
		whisper.Loader(e.cfg.ModelPath(), whisper.WithThreads(recognizerThreads())),
		capturer,
		speech.WithLanguage(e.cfg.Speech.Language),
		speech.WithFramesPerBuffer(e.cfg.Speech.FramesPerBuffer),
		speech.WithSink(e.sink),
	)
	defer eng.Close()
	e.probe.set(eng)

	return dictate(e, eng, *attach)
}

// dictate drives eng from stdin: an empty line toggles recording, "q" or
// end of input quits. Every cycle result is read from the engine's
// notification channel, so a device failure mid-recording is reported the
// same way as a normal stop.
func dictate(e *env, eng *speech.Engine, attach int64) error {
	if !eng.ModelReady() {
		select {
		case res := <-eng.Notifications():
			return errors.New(res.Message)
		default:
			return speech.ErrModelUnavailable
		}
	}

	ctx, cancel := context.WithCancel(e.ctx)
	defer cancel()
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(e.stdin)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(e.stdout, "Press Enter to start recording, q to quit.")
	for {
		select {
		case <-ctx.Done():
			if eng.State() != speech.Recording {
				return nil
			}
			// Interrupted mid-take: finish it so the dictation is kept.
			detached := context.WithoutCancel(ctx)
			eng.StopRecording(detached)
			return e.handleResult(detached, <-eng.Notifications(), attach)

		case res := <-eng.Notifications():
			if err := e.handleResult(ctx, res, attach); err != nil {
				return err
			}
			fmt.Fprintln(e.stdout, "Press Enter to start recording, q to quit.")

		case line, ok := <-lines:
			quit := !ok || strings.EqualFold(line, "q")
			if eng.State() == speech.Recording {
				// Every cycle ends with exactly one notification. When a
				// device failure ended it first, StopRecording is a no-op
				// and the failure is what gets read here.
				eng.StopRecording(ctx)
				if err := e.handleResult(ctx, <-eng.Notifications(), attach); err != nil || quit {
					return err
				}
				fmt.Fprintln(e.stdout, "Press Enter to start recording, q to quit.")
				continue
			}
			if quit {
				return nil
			}
			if !eng.StartRecording() {
				return errors.New("could not start recording")
			}
			fmt.Fprintln(e.stdout, "Recording… press Enter to stop.")
		}
	}
}

// handleResult prints a finished cycle and, when attach is set, appends it
// to that appointment. The appointment keeps one recording: a take it
// replaces is deleted once the update is stored.
func (e *env) handleResult(ctx context.Context, res speech.Result, attach int64) error {
	if !res.OK() {
		fmt.Fprintln(e.stdout, res.Message)
		if res.AudioPath != "" {
			fmt.Fprintf(e.stdout, "Audio kept at %s\n", res.AudioPath)
		}
	} else {
		fmt.Fprintf(e.stdout, "%s\n%s\n", res.Message, res.Text)
	}
	if attach <= 0 || res.AudioPath == "" {
		return nil
	}

	cur, ok := e.store.GetAppointment(ctx, attach)
	if !ok {
		return fmt.Errorf("appointment %d not found", attach)
	}
	a := store.NewAppointment{
		PatientID:     cur.PatientID,
		Date:          cur.Date,
		DiagnoseText:  appendText(cur.DiagnoseText, res.Text),
		DiagnoseSound: res.AudioPath,
	}
	if !e.store.UpdateAppointment(ctx, attach, a) {
		return e.failed("update appointment")
	}
	if old := cur.DiagnoseSound; old != "" && old != res.AudioPath {
		if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("remove replaced recording", "path", old, "error", err)
		}
	}
	fmt.Fprintf(e.stdout, "appointment %d updated\n", attach)
	return nil
}

func appendText(existing, text string) string {
	switch {
	case text == "":
		return existing
	case existing == "":
		return text
	default:
		return existing + "\n" + text
	}
}

func cmdTranscribeFile(e *env, args []string) error {
	fs := newFlags("transcribe-file")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usagef("expected exactly one WAV file")
	}

	samples, format, err := audio.LoadWAV(fs.Arg(0))
	if err != nil {
		return err
	}
	rec, err := whisper.NewNative(e.cfg.ModelPath(), whisper.WithThreads(recognizerThreads()))
	if err != nil {
		e.sink.Record(fmt.Sprintf("Failed to load speech model: %v", err))
		return err
	}
	defer rec.Close()

	pcm := audio.Int16ToFloat32(audio.ToSpeechFormat(samples, format))
	text, err := rec.Transcribe(e.ctx, pcm, e.cfg.Speech.Language)
	if err != nil {
		e.sink.Record(fmt.Sprintf("Transcription failed: %v", err))
		return err
	}
	fmt.Fprintln(e.stdout, translit.ToLatin(strings.TrimSpace(text)))
	return nil
}
