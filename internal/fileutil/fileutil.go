// Package fileutil provides the small file and path helpers shared by the
// upload handlers, the CLI, and logging: directory creation, filename
// sanitizing, audio extension checks, and human-readable formatting.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directory and filename constants.
const (
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio extensions accepted on voice uploads. The set mirrors what the
// transcription service accepts.
const (
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
	extWEBM = ".webm"
)

const errFmtFailedToCreateDir = "failed to create directory %s: %w"

// EnsureDir ensures a directory exists at the given path, creating it if it
// doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		// MkdirAll is used to create parent directories as needed.
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf(errFmtFailedToCreateDir, path, mkdirErr)
		}
	}

	return nil
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m",
// "5m 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count in a human-readable string (e.g.,
// "1.2 GB", "500.5 MB"). Used when logging upload and audio payload sizes.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// IsSupportedAudio reports whether a filename carries an audio extension the
// transcription upload path accepts.
func IsSupportedAudio(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extWEBM:
		return true
	default:
		return false
	}
}

// Extension returns the file extension without the leading dot.
func Extension(filename string) string {
	return strings.TrimPrefix(filepath.Ext(filename), dot)
}

// SanitizeFilename removes or replaces characters that are invalid in most
// filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
