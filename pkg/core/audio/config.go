package audio

// State is the transient pipeline state. It lives only in the
// controller and is never persisted.
type State int

const (
	// StateIdle is the rest state; recording and speaking both start here.
	StateIdle State = iota
	// StateSynthesizing is an in-flight text-to-speech request.
	StateSynthesizing
	// StatePlaying is synthesized audio being delivered to the client.
	StatePlaying
	// StateRecording is microphone capture.
	StateRecording
	// StateTranscribing is an in-flight speech-to-text request.
	StateTranscribing
	// StateError is a transient failure marker; the controller always
	// returns to idle immediately after entering it.
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSynthesizing:
		return "SYNTHESIZING"
	case StatePlaying:
		return "PLAYING"
	case StateRecording:
		return "RECORDING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds audio format parameters for the pipeline.
type Config struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultConfig returns the standard audio configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
