package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"pocketllm/internal/common/fsutil"
	"pocketllm/internal/prompt"
)

const recordExt = ".json"

// Store persists profiles as one JSON record per name under a directory.
// Concurrent saves of the same name are last-writer-wins; each write is an
// atomic rename so readers never see a torn record.
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore opens (creating if needed) the profile directory and makes sure
// the default profile exists before returning.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("profile dir is empty")
	}
	d, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	s := &Store{dir: d, log: log.With().Str("component", "profiles").Logger()}
	if err := s.ensureDefault(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the resolved store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) ensureDefault() error {
	if fsutil.PathExists(s.path(DefaultName)) {
		return nil
	}
	if err := s.Save(Default()); err != nil {
		return fmt.Errorf("create default profile: %w", err)
	}
	s.log.Info().Msg("created default profile")
	return nil
}

func (s *Store) path(name string) string { return filepath.Join(s.dir, name+recordExt) }

// Save validates c and writes it, replacing any record with the same name.
func (s *Store) Save(c Configuration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !prompt.HasPlaceholder(c.PromptTemplate) {
		s.log.Warn().Str("profile", c.Name).Msg("prompt template has no " + prompt.Placeholder + "; user input will be dropped")
	}
	b, err := Encode(c, FormatJSON)
	if err != nil {
		return fmt.Errorf("encode profile %q: %w", c.Name, err)
	}
	if err := fsutil.WriteFileAtomic(s.path(c.Name), b, 0o644); err != nil {
		return fmt.Errorf("save profile %q: %w", c.Name, err)
	}
	s.log.Debug().Str("profile", c.Name).Msg("saved profile")
	return nil
}

// Load reads the named profile. Missing keys take their defaults; a record
// that does not parse yields a FormatError.
func (s *Store) Load(name string) (Configuration, error) {
	if err := ValidateName(name); err != nil {
		return Configuration{}, err
	}
	b, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Configuration{}, ErrNotFound(name)
		}
		return Configuration{}, fmt.Errorf("read profile %q: %w", name, err)
	}
	c, err := Decode(b, FormatJSON, name)
	if err != nil {
		return Configuration{}, FormatError{Name: name, Err: err}
	}
	// The file name is the identity; a stale "name" key inside the record does not win.
	c.Name = name
	s.log.Debug().Str("profile", name).Msg("loaded profile")
	return c, nil
}

// LoadOrDefault loads name, falling back to an all-default profile of that
// name when the record is corrupt. A missing profile is still an error.
func (s *Store) LoadOrDefault(name string) (Configuration, error) {
	c, err := s.Load(name)
	if err != nil && IsFormat(err) {
		s.log.Warn().Err(err).Str("profile", name).Msg("corrupt profile; using default values")
		return New(name), nil
	}
	return c, err
}

// List returns the stored profile names, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.HasSuffix(n, recordExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(n, recordExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named profile. The default profile is never deleted:
// Delete returns false with ErrDefaultUndeletable. Deleting an absent
// profile returns false with a not-found error.
func (s *Store) Delete(name string) (bool, error) {
	if name == DefaultName {
		s.log.Warn().Msg("refusing to delete default profile")
		return false, ErrDefaultUndeletable
	}
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, ErrNotFound(name)
		}
		return false, fmt.Errorf("delete profile %q: %w", name, err)
	}
	s.log.Info().Str("profile", name).Msg("deleted profile")
	return true, nil
}
