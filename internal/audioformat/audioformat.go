// Package audioformat identifies audio container formats from payload bytes.
// The service never decodes audio; it only needs enough container awareness
// to label responses and name output files.
package audioformat

import "bytes"

// Format is an audio container format label.
type Format string

// Known formats. Online synthesis produces MP3 streams, the offline engine
// produces WAV files.
const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOGG     Format = "ogg"
	FormatUnknown Format = "bin"
)

// Container magic numbers.
var (
	riffMagic = []byte("RIFF")
	waveMagic = []byte("WAVE")
	id3Magic  = []byte("ID3")
	oggMagic  = []byte("OggS")
)

const (
	waveMagicOffset  = 8
	minWAVHeaderSize = 12
	mp3SyncFirst     = 0xFF
	mp3SyncSecond    = 0xE0
	minMP3FrameSize  = 2
)

// Detect sniffs the container format of an audio payload.
func Detect(data []byte) Format {
	switch {
	case isWAV(data):
		return FormatWAV
	case isMP3(data):
		return FormatMP3
	case bytes.HasPrefix(data, oggMagic):
		return FormatOGG
	default:
		return FormatUnknown
	}
}

// ContentType returns the MIME type for a detected payload, defaulting to a
// generic byte stream for unrecognized containers.
func ContentType(data []byte) string {
	switch Detect(data) {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the filename extension (without dot) for a payload.
func Extension(data []byte) string {
	return string(Detect(data))
}

func isWAV(data []byte) bool {
	if len(data) < minWAVHeaderSize {
		return false
	}

	return bytes.HasPrefix(data, riffMagic) &&
		bytes.Equal(data[waveMagicOffset:waveMagicOffset+len(waveMagic)], waveMagic)
}

func isMP3(data []byte) bool {
	if bytes.HasPrefix(data, id3Magic) {
		return true
	}

	if len(data) < minMP3FrameSize {
		return false
	}

	// A bare MPEG frame starts with an 11-bit sync word.
	return data[0] == mp3SyncFirst && data[1]&mp3SyncSecond == mp3SyncSecond
}
