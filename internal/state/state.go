// Package state manages the on-disk resume token the entry and monitor
// tasks use to avoid racing each other: a trades file's presence means a
// position is open and owned by the monitor; its absence means the
// scheduler is free to look for a new entry.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ybangaru/fundingarb/internal/domain"
)

const (
	tradesFileName      = "trades.json"
	okexContractSpec    = "okex_contract_spec.json"
	filePermissions     = 0o600
)

// Store reads and writes the resume-token files under dir.
type Store struct {
	mu  sync.Mutex
	dir string
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	if s.dir == "" {
		return name
	}
	return s.dir + string(os.PathSeparator) + name
}

// LoadTrade reads the persisted open trade, if any. ok is false when no
// trade file exists — the caller's signal that no position is currently
// owned.
func (s *Store) LoadTrade() (trade domain.SpreadTrade, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(tradesFileName))
	if errors.Is(err, os.ErrNotExist) {
		return domain.SpreadTrade{}, false, nil
	}
	if err != nil {
		return domain.SpreadTrade{}, false, fmt.Errorf("state: read trades file: %w", err)
	}

	if err := json.Unmarshal(data, &trade); err != nil {
		return domain.SpreadTrade{}, false, fmt.Errorf("state: decode trades file: %w", err)
	}
	return trade, true, nil
}

// SaveTrade writes trade as the current resume token. Called once, right
// after a new position's directives are built and before any order is sent.
func (s *Store) SaveTrade(trade domain.SpreadTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(trade, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode trades file: %w", err)
	}
	if err := os.WriteFile(s.path(tradesFileName), data, filePermissions); err != nil {
		return fmt.Errorf("state: write trades file: %w", err)
	}
	return nil
}

// ClearTrade deletes the resume token once a position is fully closed.
// Deleting a file that is already gone is not an error.
func (s *Store) ClearTrade() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(tradesFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: delete trades file: %w", err)
	}
	return nil
}

// OkexContractSpec is a per-symbol contract size record the Store can
// save, load and delete. The entry cycle deletes the file at cycle end so
// a stale size is never read into a later cycle; no component writes it
// (the Okex adapter keeps contract sizes in memory).
type OkexContractSpec struct {
	Symbol       string  `json:"symbol"`
	ContractSize float64 `json:"contract_size"`
}

func (s *Store) SaveOkexContractSpec(spec OkexContractSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("state: encode okex contract spec: %w", err)
	}
	if err := os.WriteFile(s.path(okexContractSpec), data, filePermissions); err != nil {
		return fmt.Errorf("state: write okex contract spec: %w", err)
	}
	return nil
}

func (s *Store) LoadOkexContractSpec() (spec OkexContractSpec, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(okexContractSpec))
	if errors.Is(err, os.ErrNotExist) {
		return OkexContractSpec{}, false, nil
	}
	if err != nil {
		return OkexContractSpec{}, false, fmt.Errorf("state: read okex contract spec: %w", err)
	}
	if err := json.Unmarshal(data, &spec); err != nil {
		return OkexContractSpec{}, false, fmt.Errorf("state: decode okex contract spec: %w", err)
	}
	return spec, true, nil
}

// ClearOkexContractSpec deletes the cached contract spec at the end of an
// entry cycle, matching the original's delete-after-use convention.
func (s *Store) ClearOkexContractSpec() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(okexContractSpec)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: delete okex contract spec: %w", err)
	}
	return nil
}
