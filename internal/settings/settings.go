package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const enabledPluginsKey = "enabled_plugins"

// Store persists user-scoped client settings, currently the list of plugins
// the user has enabled. Every mutation is written back immediately so a
// crash never loses an enable or disable.
type Store struct {
	mu   sync.Mutex
	v    *viper.Viper
	fs   afero.Fs
	path string
}

func NewStore(fs afero.Fs, path string) (*Store, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault(enabledPluginsKey, []string{})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read settings from %s: %w", path, err)
		}
	}
	return &Store{v: v, fs: fs, path: path}, nil
}

// EnabledPlugins returns the persisted plugin ids in enable order.
func (s *Store) EnabledPlugins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.v.GetStringSlice(enabledPluginsKey)...)
}

// SetPluginEnabled records the plugin's enabled state and saves the settings
// file.
func (s *Store) SetPluginEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.v.GetStringSlice(enabledPluginsKey)
	next := make([]string, 0, len(current)+1)
	for _, existing := range current {
		if existing != id {
			next = append(next, existing)
		}
	}
	if enabled {
		next = append(next, id)
	}
	s.v.Set(enabledPluginsKey, next)
	return s.save()
}

func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("failed to write settings to %s: %w", s.path, err)
	}
	return nil
}
