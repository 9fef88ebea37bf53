package flow

import (
	"strings"
	"testing"

	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

func TestDurationEstimateBuckets(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{3, "about 10 minutes"},
		{10, "about 10 minutes"},
		{11, "about 15-20 minutes"},
		{20, "about 15-20 minutes"},
		{21, "about 20-30 minutes"},
		{30, "about 20-30 minutes"},
		{31, "about 30 minutes"},
		{36, "about 40 minutes"},
		{44, "about 40 minutes"},
		{45, "about 50 minutes"},
		{60, "about 60 minutes"},
		{92, "about 90 minutes"},
	}
	for _, tt := range tests {
		if got := durationEstimate(tt.minutes); got != tt.want {
			t.Errorf("durationEstimate(%d) = %q, want %q", tt.minutes, got, tt.want)
		}
	}
}

func TestGreetingUsesSectionEstimates(t *testing.T) {
	s := &interview.Script{
		Sections: []interview.Section{
			{TimeLimitMinutes: 10},
			{TimeLimitMinutes: 8},
		},
	}
	g := Greeting(s)
	if !strings.Contains(g, "about 15-20 minutes") {
		t.Errorf("greeting = %q, want 15-20 minute estimate", g)
	}
}
