package handlers

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fieldnote-ai/fieldnote/pkg/core"
	"github.com/fieldnote-ai/fieldnote/pkg/core/interview"
)

// ScriptLoader reads study scripts from a directory of {study_id}.json
// files. Scripts are immutable, so a successful load is cached for the
// process lifetime.
type ScriptLoader struct {
	Dir string

	mu    sync.Mutex
	cache map[string]*interview.Script
}

func NewScriptLoader(dir string) *ScriptLoader {
	return &ScriptLoader{Dir: dir, cache: make(map[string]*interview.Script)}
}

func (l *ScriptLoader) Load(studyID string) (*interview.Script, error) {
	studyID = strings.TrimSpace(studyID)
	if studyID == "" || !validStudyID(studyID) {
		return nil, core.NewInvalidRequestErrorWithParam("invalid study id", "study_id")
	}

	l.mu.Lock()
	cached, ok := l.cache[studyID]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	f, err := os.Open(filepath.Join(l.Dir, studyID+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.NewNotFoundError("study not found")
		}
		return nil, err
	}
	defer f.Close()

	script, err := interview.DecodeScript(f)
	if err != nil {
		return nil, err
	}
	if script.StudyID == "" {
		script.StudyID = studyID
	}

	l.mu.Lock()
	if l.cache == nil {
		l.cache = make(map[string]*interview.Script)
	}
	l.cache[studyID] = script
	l.mu.Unlock()
	return script, nil
}

// validStudyID rejects anything that could escape the script directory.
func validStudyID(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
