package flow

import (
	"fmt"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// Greeting renders the spoken opening for a fresh session. It is spoken
// only: never persisted as a turn, and never replayed on resume.
func Greeting(s *interview.Script) string {
	return fmt.Sprintf(
		"Hi! Thanks for joining today. This interview should take %s. "+
			"Take your time with each question, and answer in as much detail as you like.",
		durationEstimate(s.TotalMinutes()),
	)
}

// durationEstimate buckets the summed section time limits into the
// phrasing participants hear.
func durationEstimate(minutes int) string {
	switch {
	case minutes <= 10:
		return "about 10 minutes"
	case minutes <= 20:
		return "about 15-20 minutes"
	case minutes <= 30:
		return "about 20-30 minutes"
	default:
		return fmt.Sprintf("about %d minutes", (minutes+5)/10*10)
	}
}
