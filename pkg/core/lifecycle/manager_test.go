package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
	"github.com/fieldnote-ai/fieldnote/pkg/store"
)

func testScript() *interview.Script {
	return &interview.Script{
		StudyID:       "study_1",
		ScriptVersion: 1,
		Sections: []interview.Section{
			{ID: "s0", TimeLimitMinutes: 5, Items: []interview.Item{
				{ID: "q0", Type: interview.ItemOpenEnded, ResponseMode: interview.ResponseVoice, Question: "One?"},
				{ID: "q1", Type: interview.ItemOpenEnded, ResponseMode: interview.ResponseVoice, Question: "Two?"},
			}},
		},
	}
}

func TestStartActivatesSession(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	id, err := m.Start(context.Background(), testScript(), interview.Participant{Name: "Ada"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess, ok := mem.Session(id)
	if !ok {
		t.Fatal("session not persisted")
	}
	if sess.Status != interview.StatusActive {
		t.Errorf("status = %s, want active", sess.Status)
	}
	if sess.StartedAt.IsZero() {
		t.Error("start timestamp not stamped")
	}
}

// failingStore wraps the memory store and fails session creation.
type failingStore struct {
	*store.Memory
}

func (f failingStore) CreateSession(ctx context.Context, p store.CreateSessionParams) (*interview.Session, error) {
	return nil, errors.New("connection reset")
}

func TestStartFailureIsRetryable(t *testing.T) {
	m := NewManager(failingStore{store.NewMemory()})

	_, err := m.Start(context.Background(), testScript(), interview.Participant{})
	if err == nil {
		t.Fatal("expected error")
	}
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("error type %T", err)
	}
	if !coreErr.Retryable {
		t.Error("start failure must be retryable")
	}
	if !strings.Contains(coreErr.Message, "could not start") {
		t.Errorf("message = %q", coreErr.Message)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	if _, err := m.Start(context.Background(), testScript(), interview.Participant{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	checkpoint := interview.Pointer{Section: 0, Item: 1}
	token, err := m.Pause(context.Background(), checkpoint)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if token == "" {
		t.Fatal("no resume token minted")
	}

	// Repeated pauses reuse the same token.
	again, err := m.Pause(context.Background(), checkpoint)
	if err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if again != token {
		t.Errorf("second pause minted a new token: %q != %q", again, token)
	}

	// Resume from a fresh manager, as a new process would.
	m2 := NewManager(mem)
	got, err := m2.Resume(context.Background(), token)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got != checkpoint {
		t.Errorf("Resume pointer = %v, want %v", got, checkpoint)
	}
	if got.QuestionNumber(testScript()) != 2 {
		t.Errorf("questionNumber = %d, want 2", got.QuestionNumber(testScript()))
	}
}

func TestResumeUnknownToken(t *testing.T) {
	m := NewManager(store.NewMemory())
	if _, err := m.Resume(context.Background(), "rt_nope"); err == nil {
		t.Fatal("expected error for unknown token")
	}
}

func TestCompleteFiresFinalizeOnce(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	id, err := m.Start(context.Background(), testScript(), interview.Participant{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var mu sync.Mutex
	fires := 0
	m.OnComplete(func() {
		mu.Lock()
		fires++
		mu.Unlock()
	})

	// Simulate the race between last-item submission and a remote
	// disconnect both triggering completion.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Complete(context.Background())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fires != 1 {
		t.Errorf("finalize fired %d times, want exactly 1", fires)
	}
	sess, _ := mem.Session(id)
	if sess.Status != interview.StatusCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
}

func TestResumeURL(t *testing.T) {
	mem := store.NewMemory()
	m := NewManager(mem)

	if _, err := m.Start(context.Background(), testScript(), interview.Participant{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := m.ResumeURL("https://app.example.com"); got != "" {
		t.Errorf("ResumeURL before pause = %q, want empty", got)
	}

	token, err := m.Pause(context.Background(), interview.Pointer{})
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	sess, _ := m.Session()
	want := "https://app.example.com/interview/" + token + "?resume=" + sess.ID
	if got := m.ResumeURL("https://app.example.com"); got != want {
		t.Errorf("ResumeURL = %q, want %q", got, want)
	}
}
