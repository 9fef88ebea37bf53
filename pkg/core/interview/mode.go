package interview

// Mode selects which driver runs the session. It is chosen once at
// session start and never switched mid-session.
type Mode int

const (
	// ModeStructured walks the script item by item, speaking each
	// question and collecting a discrete answer.
	ModeStructured Mode = iota
	// ModeStreaming hands turn-taking to a remote realtime agent for a
	// continuous conversation.
	ModeStreaming
)

func (m Mode) String() string {
	switch m {
	case ModeStructured:
		return "structured"
	case ModeStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// SelectMode picks the driver for a script. A script whose flow is a
// single continuous conversation runs the streaming driver; everything
// else is structured.
func SelectMode(s *Script) Mode {
	if s.Conversation {
		return ModeStreaming
	}
	if s.TotalItems() == 1 {
		if it, ok := s.Item(Pointer{}); ok && it.Type == ItemAIConversation {
			return ModeStreaming
		}
	}
	return ModeStructured
}

// LayoutVariant names one of the eight presentation layouts. The
// variant affects only what the client renders, never driver behavior.
type LayoutVariant string

const (
	LayoutAudioPlain          LayoutVariant = "audio"
	LayoutAudioScreen         LayoutVariant = "audio_screen"
	LayoutAudioStimulus       LayoutVariant = "audio_stimulus"
	LayoutAudioStimulusScreen LayoutVariant = "audio_stimulus_screen"
	LayoutVideoPlain          LayoutVariant = "video"
	LayoutVideoScreen         LayoutVariant = "video_screen"
	LayoutVideoStimulus       LayoutVariant = "video_stimulus"
	LayoutVideoStimulusScreen LayoutVariant = "video_stimulus_screen"
)

// SelectLayout maps the three presentation booleans to a layout
// variant. It is total: every combination yields exactly one variant.
func SelectLayout(isVideo, hasStimulus, hasScreenUI bool) LayoutVariant {
	switch {
	case !isVideo && !hasStimulus && !hasScreenUI:
		return LayoutAudioPlain
	case !isVideo && !hasStimulus && hasScreenUI:
		return LayoutAudioScreen
	case !isVideo && hasStimulus && !hasScreenUI:
		return LayoutAudioStimulus
	case !isVideo && hasStimulus && hasScreenUI:
		return LayoutAudioStimulusScreen
	case isVideo && !hasStimulus && !hasScreenUI:
		return LayoutVideoPlain
	case isVideo && !hasStimulus && hasScreenUI:
		return LayoutVideoScreen
	case isVideo && hasStimulus && !hasScreenUI:
		return LayoutVideoStimulus
	default:
		return LayoutVideoStimulusScreen
	}
}

// LayoutFor derives the layout variant for an item within a script.
func LayoutFor(s *Script, it Item) LayoutVariant {
	return SelectLayout(s.IsVideo, it.HasStimulus, it.NeedsScreenUI())
}
