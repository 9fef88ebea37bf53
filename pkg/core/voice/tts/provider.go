// Package tts provides text-to-speech synthesis for the interview
// pipeline.
package tts

import (
	"context"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice      string  // Voice identifier
	Speed      float64 // Speed multiplier (0.6-1.5)
	Volume     float64 // Volume multiplier (0.5-2.0)
	Language   string  // Language code
	Format     string  // Output format: "wav", "mp3", or "pcm"
	SampleRate int     // Sample rate in Hz
}

// Synthesis is a complete synthesized utterance.
type Synthesis struct {
	Audio  []byte // Raw audio bytes
	Format string // Actual audio format
}

// getFormat normalizes the requested output format.
func getFormat(format string) string {
	switch format {
	case "wav", "mp3":
		return format
	default:
		return "pcm_s16le"
	}
}
