package flow

import "github.com/fieldnote-ai/fieldnote/pkg/core/audio"

// MicState is the mic button state shown to the participant. It is a
// pure derivation of the pipeline state, never stored.
type MicState string

const (
	MicRecording  MicState = "recording"
	MicProcessing MicState = "processing"
	MicAISpeaking MicState = "ai-speaking"
	MicReady      MicState = "ready"
)

// MicStateFor derives the mic button state from the pipeline state.
func MicStateFor(s audio.State) MicState {
	switch s {
	case audio.StateRecording:
		return MicRecording
	case audio.StateTranscribing:
		return MicProcessing
	case audio.StatePlaying, audio.StateSynthesizing:
		return MicAISpeaking
	default:
		return MicReady
	}
}
