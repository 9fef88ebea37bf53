package audio

// Event is the interface for all pipeline events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the pipeline state changes.
type StateChangedEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "pipeline.state_changed" }

// SpeakStartedEvent is emitted when synthesis for an utterance begins.
type SpeakStartedEvent struct {
	Epoch uint64 `json:"epoch"`
	Text  string `json:"text"`
}

func (e *SpeakStartedEvent) EventType() string { return "speak.started" }

// AudioDeltaEvent carries a chunk of synthesized audio for playback.
type AudioDeltaEvent struct {
	Data   []byte `json:"data"`
	Format string `json:"format"`
}

func (e *AudioDeltaEvent) EventType() string { return "audio.delta" }

// AudioFlushEvent tells the client to discard any buffered playback
// audio immediately, typically on barge-in.
type AudioFlushEvent struct{}

func (e *AudioFlushEvent) EventType() string { return "audio.flush" }

// SpeakFinishedEvent is emitted when an utterance finishes, falls back
// to text-only, or is interrupted.
type SpeakFinishedEvent struct {
	Epoch       uint64 `json:"epoch"`
	DurationMs  int    `json:"duration_ms"`
	Fallback    bool   `json:"fallback,omitempty"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

func (e *SpeakFinishedEvent) EventType() string { return "speak.finished" }

// RecordingStartedEvent is emitted when microphone capture begins.
type RecordingStartedEvent struct{}

func (e *RecordingStartedEvent) EventType() string { return "recording.started" }

// TranscriptEvent is emitted when a recording has been transcribed.
type TranscriptEvent struct {
	Text string `json:"text"`
}

func (e *TranscriptEvent) EventType() string { return "recording.transcript" }

// TranscriptionFailedEvent is emitted when transcription returned
// nothing usable. The caller stays on the current question.
type TranscriptionFailedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *TranscriptionFailedEvent) EventType() string { return "recording.transcription_failed" }
