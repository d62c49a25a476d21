// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mapleeeeeeeeeee/hwdc-2025-mcp-league-starter/pkg/apperr"
)

// Store persists the model registry and the active-model pointer as two
// flat files. Every read-check-write sequence holds one mutex, so the store
// assumes it is the only writer of both files.
type Store struct {
	modelsPath string
	activePath string

	mu sync.Mutex
}

func NewStore(modelsPath, activePath string) *Store {
	return &Store{modelsPath: modelsPath, activePath: activePath}
}

// ModelsPath returns the registry file path.
func (s *Store) ModelsPath() string { return s.modelsPath }

// EnsureFiles seeds both files with defaults when absent.
func (s *Store) EnsureFiles() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readConfigsLocked(); err != nil {
		return err
	}
	_, err := s.activeKeyLocked()
	return err
}

// ListConfigs returns the registry in file order. An absent file is seeded
// with the built-in defaults; an empty file yields the defaults.
func (s *Store) ListConfigs() ([]ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readConfigsLocked()
}

// GetConfig returns the configuration registered under key.
func (s *Store) GetConfig(key string) (ModelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getConfigLocked(key)
}

// GetActiveModelKey returns the active key, seeding the pointer file with
// the default key when absent.
func (s *Store) GetActiveModelKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeKeyLocked()
}

// SetActiveModelKey points the registry at key. Unknown keys fail before
// anything is written.
func (s *Store) SetActiveModelKey(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getConfigLocked(key); err != nil {
		return err
	}
	return writeFileAtomic(s.activePath, []byte(key))
}

// UpsertConfig inserts cfg or replaces the entry with the same key.
func (s *Store) UpsertConfig(cfg ModelConfig) error {
	return s.UpsertConfigs([]ModelConfig{cfg})
}

// UpsertConfigs merges cfgs into the registry by key. Replaced entries keep
// their position; new keys are appended in argument order. Map values are
// canonicalized to their JSON form first, so integer params read back as
// float64 both from the store and from the caller's maps.
func (s *Store) UpsertConfigs(cfgs []ModelConfig) error {
	for i := range cfgs {
		cfgs[i].normalize()
		if err := cfgs[i].Validate(); err != nil {
			return err
		}
		if err := cfgs[i].canonicalize(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readConfigsLocked()
	if err != nil {
		return err
	}

	index := make(map[string]int, len(existing))
	for i, c := range existing {
		index[c.Key] = i
	}
	for _, c := range cfgs {
		if i, ok := index[c.Key]; ok {
			existing[i] = c.Clone()
			continue
		}
		index[c.Key] = len(existing)
		existing = append(existing, c.Clone())
	}
	return s.writeConfigsLocked(existing)
}

func (s *Store) getConfigLocked(key string) (ModelConfig, error) {
	configs, err := s.readConfigsLocked()
	if err != nil {
		return ModelConfig{}, err
	}
	for _, c := range configs {
		if c.Key == key {
			return c, nil
		}
	}
	return ModelConfig{}, apperr.ModelNotFound(key)
}

func (s *Store) readConfigsLocked() ([]ModelConfig, error) {
	data, err := os.ReadFile(s.modelsPath)
	if errors.Is(err, fs.ErrNotExist) {
		defaults := defaultModelConfigs()
		if err := s.writeConfigsLocked(defaults); err != nil {
			return nil, err
		}
		slog.Info("Seeded model registry with defaults", "path", s.modelsPath, "models", len(defaults))
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read model registry %s: %w", s.modelsPath, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return defaultModelConfigs(), nil
	}
	return parseRegistry(data)
}

// parseRegistry accepts {"models": [...]} or a bare list.
func parseRegistry(data []byte) ([]ModelConfig, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidConfig, err, "Invalid model configuration file format")
	}

	var list json.RawMessage
	switch v := raw.(type) {
	case []any:
		list = data
	case map[string]any:
		models, ok := v["models"]
		if !ok {
			return nil, apperr.InvalidConfig("Invalid model configuration file format")
		}
		if _, isList := models.([]any); !isList {
			return nil, apperr.InvalidConfig("Model configuration file must contain a list of models")
		}
		var file struct {
			Models json.RawMessage `json:"models"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidConfig, err, "Invalid model configuration file format")
		}
		list = file.Models
	default:
		return nil, apperr.InvalidConfig("Invalid model configuration file format")
	}

	var configs []ModelConfig
	if err := json.Unmarshal(list, &configs); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidConfig, err, "Invalid model configuration entry")
	}
	for i := range configs {
		if err := configs[i].Validate(); err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidConfig, err, "Invalid model configuration at index %d", i)
		}
	}
	return configs, nil
}

func (s *Store) writeConfigsLocked(configs []ModelConfig) error {
	data, err := json.MarshalIndent(ModelsFile{Models: configs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode model registry: %w", err)
	}
	return writeFileAtomic(s.modelsPath, data)
}

func (s *Store) activeKeyLocked() (string, error) {
	data, err := os.ReadFile(s.activePath)
	if errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(s.activePath, []byte(defaultActiveModelKey)); err != nil {
			return "", err
		}
		return defaultActiveModelKey, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read active model pointer %s: %w", s.activePath, err)
	}
	if key := strings.TrimSpace(string(data)); key != "" {
		return key, nil
	}
	return defaultActiveModelKey, nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// into place, creating parent directories as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
