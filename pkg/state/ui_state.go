// Package state holds the small amount of UI state that outlives a process:
// the theme preference and backend credentials.
//
// Persistence
// -----------
// The CLI front end keeps its preference in a YAML file (UIState) under the
// user config directory. The desktop front end uses the toolkit's own
// preference storage. Both are reached through KeyValueStore so theme
// handling is written once.
//
// Thread Safety
// -------------
// UIState itself is not synchronized. FileStore guards its copy with a mutex.
package state

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
)

// CurrentStateVersion is written to new files. Increment on breaking changes.
const CurrentStateVersion = 1

// UIState is the persisted UI state file.
type UIState struct {
	StateVersion int       `yaml:"stateVersion"`
	SavedAt      time.Time `yaml:"savedAt"`
	Theme        string    `yaml:"theme"` // light | dark
}

// NewDefaultUIState returns a state with defaults applied.
func NewDefaultUIState() *UIState {
	return &UIState{
		StateVersion: CurrentStateVersion,
		SavedAt:      time.Now().UTC(),
		Theme:        string(model.ThemeLight),
	}
}

// LoadUIState reads the state file, returning defaults if it does not exist.
func LoadUIState(path string) (*UIState, error) {
	if path == "" {
		path = DefaultUIStatePath()
	}
	// #nosec G304 path comes from user configuration
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultUIState(), nil
		}
		return nil, fmt.Errorf("state: read failed: %w", err)
	}
	var st UIState
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse failed: %w", err)
	}
	normalizeUIState(&st)
	return &st, nil
}

// SaveUIState persists the state atomically.
func SaveUIState(st *UIState, path string) error {
	if st == nil {
		return errors.New("state: nil UIState")
	}
	if path == "" {
		path = DefaultUIStatePath()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("state: mkdir failed: %w", err)
	}
	st.SavedAt = time.Now().UTC()

	out, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("state: marshal failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ui_state.tmp-*")
	if err != nil {
		return fmt.Errorf("state: temp create failed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(out); err != nil {
		return fmt.Errorf("state: temp write failed: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("state: chmod failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("state: sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close failed: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("state: atomic rename failed: %w", err)
	}
	return nil
}

// DefaultUIStatePath returns the OS-specific default path for the state file.
func DefaultUIStatePath() string {
	return filepath.Join(userConfigDir(), "bugnosis-desktop", "ui_state.yaml")
}

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config")
	}
	return "."
}

// normalizeUIState fills defaults after load. Unknown themes become light.
func normalizeUIState(st *UIState) {
	if st.StateVersion <= 0 {
		st.StateVersion = CurrentStateVersion
	}
	st.Theme = string(model.ParseTheme(st.Theme))
}

// WriteTo writes the YAML representation to w.
func (s *UIState) WriteTo(w io.Writer) (int64, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(out)
	return int64(n), err
}

// FileStore is a KeyValueStore backed by a UIState file. Writes are saved
// immediately; save failures are logged.
type FileStore struct {
	mu     sync.Mutex
	path   string
	st     *UIState
	logger *slog.Logger
}

// OpenFileStore loads the state at path (defaults if missing).
func OpenFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		path = DefaultUIStatePath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	st, err := LoadUIState(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: path, st: st, logger: logger}, nil
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// String implements KeyValueStore.
func (f *FileStore) String(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == ThemeKey {
		return f.st.Theme
	}
	return ""
}

// SetString implements KeyValueStore. Only the theme key is persisted.
func (f *FileStore) SetString(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key != ThemeKey {
		f.logger.Debug("Ignoring unknown preference key", "key", key)
		return
	}
	f.st.Theme = value
	if err := SaveUIState(f.st, f.path); err != nil {
		f.logger.Error("Failed to save UI state", "path", f.path, "error", err)
		return
	}
	f.logger.Debug("UI state saved", "path", f.path)
}
