package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/voicetable/table-service/internal/fileutil"
)

// TestEnsureDir verifies that a directory is created if it doesn't exist and
// that an existing directory is left alone.
func TestEnsureDir(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "logs", "nested")

	err := fileutil.EnsureDir(target)
	if err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Expected directory to exist: %v", err)
	}

	if !info.IsDir() {
		t.Errorf("Expected %q to be a directory", target)
	}

	// Second call on an existing directory must be a no-op.
	err = fileutil.EnsureDir(target)
	if err != nil {
		t.Errorf("EnsureDir on existing directory failed: %v", err)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    string
		seconds float64
	}{
		{name: "seconds only", seconds: 45.23, want: "45.2s"},
		{name: "minutes and seconds", seconds: 330.5, want: "5m 30.5s"},
		{name: "hours and minutes", seconds: 4500, want: "1h 15m"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := fileutil.FormatDuration(testCase.seconds)
			if got != testCase.want {
				t.Errorf(
					"FormatDuration(%v) = %q, want %q",
					testCase.seconds,
					got,
					testCase.want,
				)
			}
		})
	}
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		want  string
		bytes int64
	}{
		{name: "bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 2048, want: "2.0 KB"},
		{name: "megabytes", bytes: 5 * 1024 * 1024, want: "5.0 MB"},
		{name: "gigabytes", bytes: 3 * 1024 * 1024 * 1024, want: "3.0 GB"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := fileutil.FormatFileSize(testCase.bytes)
			if got != testCase.want {
				t.Errorf(
					"FormatFileSize(%d) = %q, want %q",
					testCase.bytes,
					got,
					testCase.want,
				)
			}
		})
	}
}

func TestIsSupportedAudio(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		filename string
		want     bool
	}{
		{name: "wav", filename: "recording.wav", want: true},
		{name: "uppercase extension", filename: "RECORDING.WAV", want: true},
		{name: "mp3", filename: "voice.mp3", want: true},
		{name: "webm", filename: "clip.webm", want: true},
		{name: "text file", filename: "notes.txt", want: false},
		{name: "no extension", filename: "audio", want: false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := fileutil.IsSupportedAudio(testCase.filename)
			if got != testCase.want {
				t.Errorf(
					"IsSupportedAudio(%q) = %v, want %v",
					testCase.filename,
					got,
					testCase.want,
				)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	t.Parallel()

	got := fileutil.Extension("clip.ogg")
	if got != "ogg" {
		t.Errorf("Extension(clip.ogg) = %q, want %q", got, "ogg")
	}

	got = fileutil.Extension("noext")
	if got != "" {
		t.Errorf("Extension(noext) = %q, want empty", got)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	got := fileutil.SanitizeFilename(`a/b\c:d*e?.wav`)
	want := "a_b_c_d_e_.wav"

	if got != want {
		t.Errorf("SanitizeFilename = %q, want %q", got, want)
	}
}
