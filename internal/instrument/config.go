// Package instrument provides per-instrument contract multipliers and
// commission rates backed by a reloadable JSON map.
package instrument

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// DefaultMultiplier is returned for instruments without a configured multiplier.
const DefaultMultiplier = 1.0

// Config is the read contract used by the position builder.
type Config interface {
	// Multiplier returns the dollar value of one point for one contract.
	Multiplier(instrument string) float64

	// CommissionPerSide returns the commission charged per contract per side.
	CommissionPerSide(instrument string) float64
}

// File is the on-disk JSON layout:
//
//	{"multipliers": {"NQ": 20, "ES": 50}, "commissions": {"NQ": 2.25}}
type File struct {
	Multipliers map[string]float64 `json:"multipliers"`
	Commissions map[string]float64 `json:"commissions"`
}

// Store is a thread-safe Config backed by a JSON file. Missing keys fall back
// to defaults; lookups never fail.
type Store struct {
	mu          sync.RWMutex
	path        string
	multipliers map[string]float64
	commissions map[string]float64
}

// NewStore creates a store from in-memory maps (nil maps are allowed).
func NewStore(multipliers, commissions map[string]float64) *Store {
	s := &Store{}
	s.set(File{Multipliers: multipliers, Commissions: commissions})
	return s
}

// Load reads the JSON file at path.
func Load(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path ("" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the backing file. On error the previous values are kept.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read instrument config: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse instrument config: %w", err)
	}
	s.set(f)
	return nil
}

func (s *Store) set(f File) {
	mult := make(map[string]float64, len(f.Multipliers))
	for k, v := range f.Multipliers {
		mult[normalize(k)] = v
	}
	comm := make(map[string]float64, len(f.Commissions))
	for k, v := range f.Commissions {
		comm[normalize(k)] = v
	}

	s.mu.Lock()
	s.multipliers = mult
	s.commissions = comm
	s.mu.Unlock()
}

// Multiplier returns the configured multiplier or DefaultMultiplier.
func (s *Store) Multiplier(instrument string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.multipliers[normalize(instrument)]; ok && v > 0 {
		return v
	}
	return DefaultMultiplier
}

// CommissionPerSide returns the configured rate or 0.
func (s *Store) CommissionPerSide(instrument string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.commissions[normalize(instrument)]; ok && v >= 0 {
		return v
	}
	return 0
}

// normalize maps "nq", " NQ " and "NQ 03-25" to the root symbol key "NQ".
func normalize(instrument string) string {
	s := strings.ToUpper(strings.TrimSpace(instrument))
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	return s
}

var _ Config = (*Store)(nil)
