package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

const defaultGeminiModel = "gemini-2.0-flash-live-001"

// GeminiAgent runs streaming conversations over the Gemini Live API.
type GeminiAgent struct {
	client *genai.Client
	model  string
}

// NewGeminiAgent creates a Gemini Live agent.
func NewGeminiAgent(ctx context.Context, apiKey, model string) (*GeminiAgent, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiAgent{client: client, model: model}, nil
}

func (a *GeminiAgent) Name() string { return "gemini" }

// Connect opens a live session and starts pumping server messages into
// the event channel.
func (a *GeminiAgent) Connect(ctx context.Context, cfg SessionConfig) (Conversation, error) {
	config := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(cfg.SystemPrompt)},
		}
	}
	if cfg.VoiceID != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceID},
			},
		}
	}

	session, err := a.client.Live.Connect(ctx, a.model, config)
	if err != nil {
		return nil, fmt.Errorf("gemini live connect: %w", err)
	}

	conv := &geminiConversation{
		session:    session,
		sampleRate: cfg.SampleRate,
		events:     make(chan Event, 100),
	}
	go conv.receiveLoop()
	return conv, nil
}

type geminiConversation struct {
	session    *genai.Session
	sampleRate int
	events     chan Event

	mu        sync.Mutex
	closeOnce sync.Once

	// accumulated transcriptions for the turn in flight
	aiText          strings.Builder
	participantText strings.Builder
	aiTurns         int
}

func (c *geminiConversation) SendAudio(data []byte) error {
	rate := c.sampleRate
	if rate == 0 {
		rate = 16000
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			Data:     data,
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate),
		},
	})
}

func (c *geminiConversation) Events() <-chan Event { return c.events }

func (c *geminiConversation) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.session.Close()
	})
	return err
}

func (c *geminiConversation) receiveLoop() {
	defer close(c.events)
	c.events <- &StatusEvent{Status: StatusListening}

	for {
		msg, err := c.session.Receive()
		if err != nil {
			c.flushParticipantTurn()
			c.flushAITurn()
			c.events <- &StatusEvent{Status: StatusDisconnected}
			return
		}
		if msg.ServerContent == nil {
			continue
		}
		sc := msg.ServerContent

		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			c.participantText.WriteString(sc.InputTranscription.Text)
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			// The first agent audio of a turn marks the hand-off.
			if c.aiText.Len() == 0 {
				c.flushParticipantTurn()
				c.events <- &StatusEvent{Status: StatusSpeaking}
			}
			c.aiText.WriteString(sc.OutputTranscription.Text)
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					c.events <- &AudioEvent{Data: part.InlineData.Data}
				}
			}
		}
		if sc.Interrupted {
			c.flushAITurn()
			c.events <- &StatusEvent{Status: StatusListening}
		}
		if sc.TurnComplete {
			c.flushAITurn()
			c.events <- &StatusEvent{Status: StatusListening}
		}
	}
}

func (c *geminiConversation) flushAITurn() {
	text := strings.TrimSpace(c.aiText.String())
	c.aiText.Reset()
	if text == "" {
		return
	}
	c.events <- &TurnEvent{Turn: interview.Turn{
		Speaker:   interview.SpeakerAI,
		Text:      text,
		Timestamp: time.Now(),
		IsProbe:   c.aiTurns > 0,
	}}
	c.aiTurns++
}

func (c *geminiConversation) flushParticipantTurn() {
	text := strings.TrimSpace(c.participantText.String())
	c.participantText.Reset()
	if text == "" {
		return
	}
	c.events <- &TurnEvent{Turn: interview.Turn{
		Speaker:   interview.SpeakerParticipant,
		Text:      text,
		Timestamp: time.Now(),
	}}
}
