package state

import (
	"sync"

	"github.com/greg-hellings/bugnosis-desktop/pkg/model"
)

// ThemeKey is the preference key holding the theme variant.
const ThemeKey = "theme"

// KeyValueStore is the preference sink. fyne.Preferences satisfies it.
type KeyValueStore interface {
	String(key string) string
	SetString(key string, value string)
}

// LoadTheme reads the theme preference; absent or invalid values are light.
func LoadTheme(kv KeyValueStore) model.Theme {
	if kv == nil {
		return model.ThemeLight
	}
	return model.ParseTheme(kv.String(ThemeKey))
}

// SaveTheme writes the theme preference.
func SaveTheme(kv KeyValueStore, t model.Theme) {
	if kv == nil {
		return
	}
	kv.SetString(ThemeKey, string(model.ParseTheme(string(t))))
}

// MemoryStore is a volatile KeyValueStore for tests and headless runs.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// String implements KeyValueStore.
func (m *MemoryStore) String(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key]
}

// SetString implements KeyValueStore.
func (m *MemoryStore) SetString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}
