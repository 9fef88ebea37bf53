package interview

// Pointer is the navigation position inside a script: which section and
// which item within it. The 1-based question number is always
// recomputed from the script so it can never drift from the pointer.
type Pointer struct {
	Section int `json:"section"`
	Item    int `json:"item"`
}

// QuestionNumber returns the 1-based ordinal of the pointed-at item:
// the sum of item counts in prior sections plus Item plus one.
func (p Pointer) QuestionNumber(s *Script) int {
	n := 0
	for i := 0; i < p.Section && i < len(s.Sections); i++ {
		n += len(s.Sections[i].Items)
	}
	return n + p.Item + 1
}

// Progress returns completion as a percentage of total questions.
func (p Pointer) Progress(s *Script) float64 {
	total := s.TotalItems()
	if total == 0 {
		return 0
	}
	return float64(p.QuestionNumber(s)) / float64(total) * 100
}

// Next returns the pointer advanced by one item, moving to the first
// item of the next section at a section boundary. done is true when the
// pointer was already at the last item of the last section.
func (p Pointer) Next(s *Script) (next Pointer, done bool) {
	if p.Section >= len(s.Sections) {
		return p, true
	}
	sec := s.Sections[p.Section]
	if p.Item+1 < len(sec.Items) {
		return Pointer{Section: p.Section, Item: p.Item + 1}, false
	}
	if p.Section+1 < len(s.Sections) {
		return Pointer{Section: p.Section + 1, Item: 0}, false
	}
	return p, true
}

// IsFirst reports whether the pointer is at the very first item.
func (p Pointer) IsFirst() bool {
	return p.Section == 0 && p.Item == 0
}
