// Package interview defines the data model shared by the interview
// drivers: the script (sections and items), the navigation pointer,
// the session record, conversation turns, and the mode selector.
package interview

import (
	"encoding/json"
	"fmt"
	"io"
)

// ItemType identifies how a script item is asked and answered.
type ItemType string

const (
	ItemOpenEnded      ItemType = "open_ended"
	ItemSingleSelect   ItemType = "single_select"
	ItemMultiSelect    ItemType = "multi_select"
	ItemRating         ItemType = "rating"
	ItemRanking        ItemType = "ranking"
	ItemInstruction    ItemType = "instruction"
	ItemAIConversation ItemType = "ai_conversation"
)

// ResponseMode identifies how the participant's answer is collected.
type ResponseMode string

const (
	ResponseVoice  ResponseMode = "voice"
	ResponseText   ResponseMode = "text"
	ResponseScreen ResponseMode = "screen"
)

// Item is one question (or instruction) in a script section.
// Items are immutable for the duration of a session.
type Item struct {
	ID           string       `json:"id"`
	Type         ItemType     `json:"type"`
	ResponseMode ResponseMode `json:"response_mode"`
	Question     string       `json:"question"`

	// Options apply to select/rating/ranking items.
	Options []string `json:"options,omitempty"`

	// HasStimulus is true when the item presents an image or video
	// stimulus alongside the question.
	HasStimulus bool `json:"has_stimulus,omitempty"`
}

// NeedsScreenUI reports whether the item is answered through on-screen
// widgets rather than a spoken response.
func (it Item) NeedsScreenUI() bool {
	switch it.Type {
	case ItemSingleSelect, ItemMultiSelect, ItemRating, ItemRanking, ItemInstruction:
		return true
	}
	return it.ResponseMode == ResponseScreen
}

// VoiceOnly reports whether the item is a spoken open-ended question.
func (it Item) VoiceOnly() bool {
	return it.Type == ItemOpenEnded && it.ResponseMode == ResponseVoice
}

// Section is an ordered group of items with a moderator-estimated time
// limit in minutes. The estimate feeds the opening greeting.
type Section struct {
	ID               string `json:"id"`
	Title            string `json:"title,omitempty"`
	TimeLimitMinutes int    `json:"time_limit_minutes"`
	Items            []Item `json:"items"`
}

// Script is the full ordered question flow for a study, loaded once at
// session start and immutable thereafter.
type Script struct {
	StudyID       string    `json:"study_id"`
	ScriptVersion int       `json:"script_version"`
	VoiceID       string    `json:"voice_id,omitempty"`
	Language      string    `json:"language,omitempty"`
	IsVideo       bool      `json:"is_video,omitempty"`
	Conversation  bool      `json:"conversation,omitempty"`
	Sections      []Section `json:"sections"`
}

// TotalItems returns the number of items across all sections.
func (s *Script) TotalItems() int {
	n := 0
	for _, sec := range s.Sections {
		n += len(sec.Items)
	}
	return n
}

// TotalMinutes returns the sum of all section time-limit estimates.
func (s *Script) TotalMinutes() int {
	n := 0
	for _, sec := range s.Sections {
		n += sec.TimeLimitMinutes
	}
	return n
}

// Item returns the item at the given pointer, or false when the pointer
// is outside the script.
func (s *Script) Item(p Pointer) (Item, bool) {
	if p.Section < 0 || p.Section >= len(s.Sections) {
		return Item{}, false
	}
	sec := s.Sections[p.Section]
	if p.Item < 0 || p.Item >= len(sec.Items) {
		return Item{}, false
	}
	return sec.Items[p.Item], true
}

// DecodeScript reads and validates a script from JSON.
func DecodeScript(r io.Reader) (*Script, error) {
	var s Script
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks structural invariants the drivers rely on.
func (s *Script) Validate() error {
	if s.StudyID == "" {
		return fmt.Errorf("script: missing study_id")
	}
	if len(s.Sections) == 0 {
		return fmt.Errorf("script: no sections")
	}
	for si, sec := range s.Sections {
		if len(sec.Items) == 0 {
			return fmt.Errorf("script: section %d has no items", si)
		}
		for ii, it := range sec.Items {
			if it.ID == "" {
				return fmt.Errorf("script: section %d item %d has no id", si, ii)
			}
			switch it.Type {
			case ItemOpenEnded, ItemSingleSelect, ItemMultiSelect,
				ItemRating, ItemRanking, ItemInstruction, ItemAIConversation:
			default:
				return fmt.Errorf("script: section %d item %d has unknown type %q", si, ii, it.Type)
			}
		}
	}
	return nil
}
