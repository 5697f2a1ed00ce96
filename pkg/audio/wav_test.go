package audio_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/doctorapp/pkg/audio"
)

func TestSaveLoadWAV(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16((i%64 - 32) * 512)
	}
	path := filepath.Join(t.TempDir(), "audio", "recording_20240110_090000.wav")
	if err := audio.SaveWAV(path, samples, audio.SpeechFormat); err != nil {
		t.Fatalf("SaveWAV: %v", err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if data := int64(len(samples) * 2); fi.Size() <= data {
		t.Errorf("file size = %d, want more than %d bytes of sample data", fi.Size(), data)
	}

	got, f, err := audio.LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV: %v", err)
	}
	if f != audio.SpeechFormat {
		t.Errorf("format = %s, want %s", f, audio.SpeechFormat)
	}
	if len(got) != len(samples) {
		t.Fatalf("len = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestSaveWAV_InvalidFormatLeavesNoFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.wav")
	if err := audio.SaveWAV(path, []int16{1, 2}, audio.Format{}); err == nil {
		t.Fatal("expected error for zero format")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestReadWAV_NotAWav(t *testing.T) {
	t.Parallel()

	_, _, err := audio.ReadWAV(strings.NewReader("definitely not riff data"))
	if err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestLoadWAV_Missing(t *testing.T) {
	t.Parallel()

	if _, _, err := audio.LoadWAV(filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
