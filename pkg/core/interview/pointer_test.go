package interview

import "testing"

func twoByTwoScript() *Script {
	return &Script{
		StudyID:       "study_1",
		ScriptVersion: 1,
		Sections: []Section{
			{ID: "s0", TimeLimitMinutes: 5, Items: []Item{
				{ID: "q0", Type: ItemOpenEnded, ResponseMode: ResponseVoice, Question: "First?"},
				{ID: "q1", Type: ItemOpenEnded, ResponseMode: ResponseVoice, Question: "Second?"},
			}},
			{ID: "s1", TimeLimitMinutes: 5, Items: []Item{
				{ID: "q2", Type: ItemRating, ResponseMode: ResponseScreen, Question: "Rate it", Options: []string{"1", "2", "3"}},
				{ID: "q3", Type: ItemOpenEnded, ResponseMode: ResponseVoice, Question: "Last?"},
			}},
		},
	}
}

func TestQuestionNumber(t *testing.T) {
	s := twoByTwoScript()

	tests := []struct {
		p    Pointer
		want int
	}{
		{Pointer{0, 0}, 1},
		{Pointer{0, 1}, 2},
		{Pointer{1, 0}, 3},
		{Pointer{1, 1}, 4},
	}
	for _, tt := range tests {
		if got := tt.p.QuestionNumber(s); got != tt.want {
			t.Errorf("QuestionNumber(%v) = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestPointerNext(t *testing.T) {
	s := twoByTwoScript()

	p := Pointer{}
	p, done := p.Next(s)
	if done || p != (Pointer{0, 1}) {
		t.Fatalf("step 1: p=%v done=%v", p, done)
	}
	p, done = p.Next(s)
	if done || p != (Pointer{1, 0}) {
		t.Fatalf("step 2: p=%v done=%v", p, done)
	}
	p, done = p.Next(s)
	if done || p != (Pointer{1, 1}) {
		t.Fatalf("step 3: p=%v done=%v", p, done)
	}
	p, done = p.Next(s)
	if !done {
		t.Fatalf("step 4: expected done, got p=%v", p)
	}
}

func TestProgress(t *testing.T) {
	s := twoByTwoScript()
	if got := (Pointer{1, 1}).Progress(s); got != 100 {
		t.Errorf("Progress at last item = %v, want 100", got)
	}
	if got := (Pointer{0, 0}).Progress(s); got != 25 {
		t.Errorf("Progress at first item = %v, want 25", got)
	}
}

func TestScriptItemBounds(t *testing.T) {
	s := twoByTwoScript()
	if _, ok := s.Item(Pointer{2, 0}); ok {
		t.Error("expected out-of-range section to miss")
	}
	if _, ok := s.Item(Pointer{0, 5}); ok {
		t.Error("expected out-of-range item to miss")
	}
	if it, ok := s.Item(Pointer{1, 0}); !ok || it.ID != "q2" {
		t.Errorf("Item(1,0) = %v %v", it, ok)
	}
}
