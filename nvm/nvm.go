/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package nvm is a minimal JSON-file-backed store for the two values the
// core engine persists across restarts: a port's learned neighbor
// propagation delay and neighbor rate ratio. It satisfies the
// gptp.Callbacks NvmRead/NvmWrite shape directly.
package nvm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// key identifies one persisted value.
type key struct {
	Port uint8
	Kind string
}

// Store is a flat JSON file holding every port's persisted values,
// loaded once at construction and rewritten in full on every Write.
// Writes are infrequent (only on propagation-delay/rate-ratio
// slowdown), so there is no need for the incremental, per-record
// durability a real flash NVM block driver would give us.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]float64
}

func recordKey(port uint8, kind string) string {
	return fmt.Sprintf("%d/%s", port, kind)
}

// Open loads path if it exists, or starts empty if it doesn't. A missing
// file is not an error: a fresh install has no learned values yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]float64)}

	data, err := os.ReadFile(path) //#nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("nvm: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("nvm: parsing %s: %w", path, err)
	}
	return s, nil
}

// Read implements the NvmRead callback shape: (port, kind) -> value.
// Returns an error when the port/kind pair has never been written,
// matching the "no value on a fresh install" case NewPdelayMachine
// already tolerates.
func (s *Store) Read(port uint8, kind string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[recordKey(port, kind)]
	if !ok {
		return 0, fmt.Errorf("nvm: no stored value for port %d kind %q", port, kind)
	}
	return v, nil
}

// Write implements the NvmWrite callback shape. Failures are logged, not
// returned: NvmWrite has no error return in the Callbacks contract, and a
// failed persist should never stall the measurement loop that triggered
// it.
func (s *Store) Write(port uint8, kind string, value float64) {
	s.mu.Lock()
	s.values[recordKey(port, kind)] = value
	snapshot := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		snapshot[k] = v
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.WithError(err).Error("nvm: marshal failed")
		return
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		log.WithError(err).WithField("path", s.path).Error("nvm: creating directory failed")
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //#nosec G306
		log.WithError(err).WithField("path", tmp).Error("nvm: write failed")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.WithError(err).WithField("path", s.path).Error("nvm: rename failed")
	}
}
