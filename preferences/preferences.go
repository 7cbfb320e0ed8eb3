// Package preferences implements the launcher.Preferences interface: a
// key-value preference store exposing the four scan-wide keys the Launcher
// Core consults, plus arbitrary per-OID "timeout.<oid>" overrides.
// Configuration loading is treated as an external collaborator; this
// package is the minimal real store needed to drive the Launcher Core end
// to end.
package preferences

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
)

// config holds the four scan-wide preference keys.
type config struct {
	LogWholeAttack        bool   `mapstructure:"log_whole_attack"`
	NonSimultPorts        string `mapstructure:"non_simult_ports"`
	ScannerPluginsTimeout int    `mapstructure:"scanner_plugins_timeout"`
	PluginsTimeout        int    `mapstructure:"plugins_timeout"`
}

// Store is a concrete, thread-safe launcher.Preferences implementation.
type Store struct {
	mu        sync.RWMutex
	cfg       config
	overrides map[string]int
}

// NewStore returns a Store with both category-default timeouts set to -1
// (never kill), matching the original preferences.c default of "-1" when
// scanner_plugins_timeout/plugins_timeout are unset.
func NewStore() *Store {
	return &Store{
		cfg:       config{ScannerPluginsTimeout: -1, PluginsTimeout: -1},
		overrides: make(map[string]int),
	}
}

// Decode builds a Store from a loosely-typed map, such as one parsed from a
// preferences file or CLI flags. Keys matching "timeout.<oid>" are recorded
// as per-routine overrides; every other recognized key is decoded into the
// scan-wide config via mapstructure, which tolerates the mix of string and
// numeric types a real preferences loader hands back.
func Decode(raw map[string]any) (*Store, error) {
	s := NewStore()

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &s.cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("preferences: build decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("preferences: decode: %w", err)
	}

	for key, value := range raw {
		oid, ok := strings.CutPrefix(key, "timeout.")
		if !ok || oid == "" {
			continue
		}

		seconds, err := toInt(value)
		if err != nil {
			return nil, fmt.Errorf("preferences: timeout override %q: %w", key, err)
		}

		s.overrides[oid] = seconds
	}

	return s, nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// SetOverride records an explicit per-OID timeout override.
func (s *Store) SetOverride(oid string, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides[oid] = seconds
}

// SetNonSimultPorts sets the non_simult_ports preference.
func (s *Store) SetNonSimultPorts(csv string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.NonSimultPorts = csv
}

// SetLogWholeAttack sets the log_whole_attack preference.
func (s *Store) SetLogWholeAttack(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.LogWholeAttack = on
}

// SetScannerPluginsTimeout sets the scanner_plugins_timeout preference.
func (s *Store) SetScannerPluginsTimeout(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.ScannerPluginsTimeout = seconds
}

// SetPluginsTimeout sets the plugins_timeout preference.
func (s *Store) SetPluginsTimeout(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.PluginsTimeout = seconds
}

// LogWholeAttack implements launcher.Preferences.
func (s *Store) LogWholeAttack() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.LogWholeAttack
}

// NonSimultPorts implements launcher.Preferences.
func (s *Store) NonSimultPorts() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.NonSimultPorts
}

// ScannerPluginsTimeout implements launcher.Preferences.
func (s *Store) ScannerPluginsTimeout() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.ScannerPluginsTimeout
}

// PluginsTimeout implements launcher.Preferences.
func (s *Store) PluginsTimeout() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg.PluginsTimeout
}

// TimeoutOverride implements launcher.Preferences.
func (s *Store) TimeoutOverride(oid string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seconds, ok := s.overrides[oid]
	return seconds, ok
}
