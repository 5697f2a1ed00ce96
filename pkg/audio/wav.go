package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavFormatPCM is the RIFF format tag for uncompressed PCM.
const wavFormatPCM = 1

// WriteWAV encodes samples as a 16-bit PCM WAV stream in format f.
func WriteWAV(w io.WriteSeeker, samples []int16, f Format) error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("audio: invalid wav format %s", f)
	}
	enc := wav.NewEncoder(w, f.SampleRate, BitDepth, f.Channels, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalise wav: %w", err)
	}
	return nil
}

// SaveWAV writes samples to a new file at path, creating parent directories.
// A partially written file is removed on failure.
func SaveWAV(path string, samples []int16, f Format) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("audio: create dir: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %q: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("audio: close %q: %w", path, cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return WriteWAV(out, samples, f)
}

// ReadWAV decodes a PCM WAV stream into interleaved 16-bit samples. 8, 24
// and 32-bit sources are rescaled to 16 bits.
func ReadWAV(r io.ReadSeeker) ([]int16, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, errors.New("audio: not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}

	depth := int(dec.BitDepth)
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case depth == 8:
			out[i] = int16((v - 128) << 8)
		case depth > BitDepth:
			out[i] = clamp16(int32(v >> (depth - BitDepth)))
		default:
			out[i] = clamp16(int32(v))
		}
	}
	return out, f, nil
}

// LoadWAV reads and decodes the WAV file at path.
func LoadWAV(path string) ([]int16, Format, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, Format{}, fmt.Errorf("audio: open %q: %w", path, err)
	}
	defer in.Close()
	return ReadWAV(in)
}
