package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hearlab/listentest/internal/models"
)

// Supplier loads and saves test definitions. The session layer only
// ever sees validated definitions.
type Supplier interface {
	Load(name string) (*models.TestDefinition, error)
	Save(name string, def *models.TestDefinition) error
	List() ([]string, error)
}

// FileStore keeps each definition in its own .json or .yaml file under
// a data directory.
type FileStore struct {
	dir      string
	validate *validator.Validate
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	return &FileStore{
		dir:      dir,
		validate: validator.New(),
	}, nil
}

// Load reads and validates one stored definition. The name may omit
// the extension; .json is tried first, then .yaml.
func (s *FileStore) Load(name string) (*models.TestDefinition, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read definition %q: %w", name, err)
	}

	var def models.TestDefinition
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &def)
	default:
		err = json.Unmarshal(data, &def)
	}
	if err != nil {
		return nil, fmt.Errorf("could not parse definition %q: %w", name, err)
	}

	if err := s.Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Save validates and writes a definition. The extension in name picks
// the encoding, defaulting to JSON.
func (s *FileStore) Save(name string, def *models.TestDefinition) error {
	if err := s.Validate(def); err != nil {
		return err
	}

	base := sanitize(name)
	if base == "" {
		return fmt.Errorf("invalid definition name %q", name)
	}
	if filepath.Ext(base) == "" {
		base += ".json"
	}

	var data []byte
	var err error
	switch filepath.Ext(base) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(def)
	case ".json":
		data, err = json.MarshalIndent(def, "", "  ")
	default:
		return fmt.Errorf("unsupported definition format %q", filepath.Ext(base))
	}
	if err != nil {
		return fmt.Errorf("could not encode definition %q: %w", name, err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, base), data, 0o644); err != nil {
		return fmt.Errorf("could not write definition %q: %w", name, err)
	}
	return nil
}

// List returns the stored definition names, sorted, without
// extensions.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("could not read data directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".json", ".yaml", ".yml":
			names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Validate checks structural tags plus the cross-field rule that the
// correct option is actually one of the listed options.
func (s *FileStore) Validate(def *models.TestDefinition) error {
	if err := s.validate.Struct(def); err != nil {
		return fmt.Errorf("invalid definition: %w", err)
	}
	for i, q := range def.Questions {
		found := false
		for _, o := range q.Options {
			if o.Value == q.CorrectOption {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid definition: question %d correct option %q is not among its options", i, q.CorrectOption)
		}
	}
	return nil
}

// resolve maps a name to an existing file, trying known extensions
// when none is given.
func (s *FileStore) resolve(name string) (string, error) {
	base := sanitize(name)
	if base == "" {
		return "", fmt.Errorf("invalid definition name %q", name)
	}

	if filepath.Ext(base) != "" {
		return filepath.Join(s.dir, base), nil
	}
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		path := filepath.Join(s.dir, base+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("definition %q not found", name)
}

// sanitize strips any path components so names cannot escape the data
// directory.
func sanitize(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
