package store

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hearlab/listentest/internal/models"
)

func sampleDefinition() *models.TestDefinition {
	return &models.TestDefinition{
		Name: "Loudness AB",
		Questions: []models.Question{
			{
				ID:         "q1",
				Name:       "Which clip is louder?",
				WaitTime:   3,
				PauseTime:  2,
				AnswerTime: 10,
				Audio1:     "clip-a",
				Audio2:     "clip-b",
				Options: []models.Option{
					{Value: "1", Label: "First"},
					{Value: "2", Label: "Second"},
				},
				CorrectOption: "1",
			},
		},
	}
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestSaveLoadRoundtripJSON(t *testing.T) {
	s := newTestStore(t)
	def := sampleDefinition()

	if err := s.Save("loudness", def); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	loaded, err := s.Load("loudness")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if !reflect.DeepEqual(def, loaded) {
		t.Errorf("roundtrip mismatch:\nsaved  %+v\nloaded %+v", def, loaded)
	}
}

func TestSaveLoadRoundtripYAML(t *testing.T) {
	s := newTestStore(t)
	def := sampleDefinition()

	if err := s.Save("loudness.yaml", def); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	loaded, err := s.Load("loudness")
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if !reflect.DeepEqual(def, loaded) {
		t.Errorf("roundtrip mismatch:\nsaved  %+v\nloaded %+v", def, loaded)
	}
}

func TestListReturnsSortedNames(t *testing.T) {
	s := newTestStore(t)
	def := sampleDefinition()

	if err := s.Save("zeta", def); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Save("alpha.yaml", def); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	want := []string{"alpha", "zeta"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestLoadMissingDefinition(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load("missing"); err == nil {
		t.Error("expected error for missing definition")
	}
}

func TestSaveRejectsInvalidDefinition(t *testing.T) {
	s := newTestStore(t)

	empty := &models.TestDefinition{Name: "empty"}
	if err := s.Save("empty", empty); err == nil {
		t.Error("expected error for definition without questions")
	}

	bad := sampleDefinition()
	bad.Questions[0].CorrectOption = "3"
	if err := s.Save("bad", bad); err == nil {
		t.Error("expected error when correct option is not among options")
	}

	missingAudio := sampleDefinition()
	missingAudio.Questions[0].Audio2 = ""
	if err := s.Save("noaudio", missingAudio); err == nil {
		t.Error("expected error for missing stimulus reference")
	}
}

func TestLoadRejectsInvalidStoredFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := s.Load("broken"); err == nil {
		t.Error("expected error for unparsable file")
	}

	if err := os.WriteFile(filepath.Join(dir, "invalid.json"), []byte(`{"name":"x","questions":[]}`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := s.Load("invalid"); err == nil {
		t.Error("expected validation error for stored file without questions")
	}
}

func TestNamesCannotEscapeDataDir(t *testing.T) {
	s := newTestStore(t)
	def := sampleDefinition()

	if err := s.Save("../escape", def); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "escape.json")); err != nil {
		t.Errorf("expected file inside the data dir: %v", err)
	}
}
