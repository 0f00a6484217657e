package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	logx "tvrelay/pkg/logx"
)

// ConfigManager owns the active config. It loads the file once, overlays the
// environment, and republishes validated changes seen by Watch.
type ConfigManager struct {
	path      string
	lookupEnv func(string) (string, bool)
	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	mu      sync.RWMutex
	cfg     *Config
	version uint64 // fnv64a of the committed config; 0 before Commit

	// subsMu is held while sending so Unsubscribe never closes a channel
	// mid-send.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

// NewConfigManager reads path (JSON or YAML). An empty path or a missing file
// yields a config built from defaults and the environment alone.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:      path,
		lookupEnv: os.LookupEnv,
		log:       logx.Nop(),
		subs:      map[chan *Config]struct{}{},
	}
}

// SetEnvLookup replaces os.LookupEnv for environment overrides.
func (m *ConfigManager) SetEnvLookup(fn func(string) (string, bool)) {
	if fn == nil {
		fn = os.LookupEnv
	}
	m.lookupEnv = fn
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs an extra check run by Watch after Validate and before
// a reload is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file, overlays the environment and fills defaults. It does
// not validate; see Validate.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := new(Config)
	if err := m.decodeFile(cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, m.lookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func (m *ConfigManager) decodeFile(cfg *Config) error {
	if strings.TrimSpace(m.path) == "" {
		return nil
	}
	raw, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case len(bytes.TrimSpace(raw)) == 0:
		return nil
	}

	doc, err := toJSON(m.path, raw)
	if err != nil {
		return fmt.Errorf("config %s: %w", m.path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config %s: %w", m.path, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("config %s: trailing data after document", m.path)
	}
	return nil
}

// Load parses and validates the config, then commits it.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg the active config without notifying subscribers.
func (m *ConfigManager) Commit(cfg *Config) {
	v := fingerprint(cfg)
	m.mu.Lock()
	m.cfg, m.version = cfg, v
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// sameAsActive reports whether cfg would not change the active config.
func (m *ConfigManager) sameAsActive(cfg *Config) bool {
	v := fingerprint(cfg)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return v != 0 && v == m.version
}

func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; !ok {
		return
	}
	delete(m.subs, ch)
	close(ch)
}

// publish never blocks: a full subscriber loses its oldest pending config so
// the newest one always fits.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
