package duration

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/spf13/afero"
)

// errUnsupported is returned for formats without a native metadata reader
var errUnsupported = errors.New("no native metadata reader for format")

// readNative reads duration from container metadata for simply chunked formats
func readNative(fs afero.Fs, path string) (float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return readWAV(fs, path)
	case ".flac":
		return readFLAC(fs, path)
	default:
		return 0, errUnsupported
	}
}

func readWAV(fs afero.Fs, path string) (float64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file: %s", filepath.Base(path))
	}
	if err := d.FwdToPCM(); err != nil {
		return 0, fmt.Errorf("wav data chunk: %w", err)
	}

	bytesPerSecond := float64(d.SampleRate) * float64(d.NumChans) * float64(d.BitDepth) / 8
	if bytesPerSecond <= 0 || d.PCMSize <= 0 {
		return 0, fmt.Errorf("wav header has no usable rate: %s", filepath.Base(path))
	}
	return float64(d.PCMSize) / bytesPerSecond, nil
}

func readFLAC(fs afero.Fs, path string) (float64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	stream, err := flac.New(f)
	if err != nil {
		return 0, fmt.Errorf("flac stream info: %w", err)
	}
	if stream.Info == nil || stream.Info.SampleRate == 0 || stream.Info.NSamples == 0 {
		return 0, fmt.Errorf("flac stream info has no sample count: %s", filepath.Base(path))
	}
	return float64(stream.Info.NSamples) / float64(stream.Info.SampleRate), nil
}
