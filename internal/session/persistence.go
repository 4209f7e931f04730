package session

import (
	"encoding/json"
	"os"

	"github.com/vajrock/debug-mediator/internal/logging"
)

type persistedDoc struct {
	Language    string           `json:"language"`
	Program     string           `json:"program"`
	Breakpoints map[string][]int `json:"breakpoints"`
}

func loadPersisted(path string) (persistedDoc, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return persistedDoc{}, false
	}
	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.S().Warnf("failed to restore session file %s: %v", path, err)
		return persistedDoc{}, false
	}
	return doc, true
}

// save atomically persists the session's minimal state to disk via a
// write-then-rename so a crash mid-write never leaves a torn file.
func (s *Session) save() {
	if s.persistFile == "" {
		return
	}
	doc := persistedDoc{
		Language:    s.language,
		Program:     s.program,
		Breakpoints: s.breakpoints,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		logging.S().Warnf("could not marshal session file %s: %v", s.persistFile, err)
		return
	}

	tmp := s.persistFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.S().Warnf("could not save session file %s: %v", s.persistFile, err)
		return
	}
	if err := os.Rename(tmp, s.persistFile); err != nil {
		logging.S().Warnf("could not finalize session file %s: %v", s.persistFile, err)
		_ = os.Remove(tmp)
	}
}

func (s *Session) deletePersisted() {
	if s.persistFile == "" {
		return
	}
	_ = os.Remove(s.persistFile)
}
