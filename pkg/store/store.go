package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status is the lifecycle state recorded for a router.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusReady        Status = "ready"
	StatusPartial      Status = "partial"
	StatusDeleted      Status = "deleted"
)

// ErrNotFound is returned when no record exists for a router.
var ErrNotFound = errors.New("router record not found")

// RouterRecord is the audit entry kept for one router
type RouterRecord struct {
	Name        string    `json:"name"`
	Bridge      string    `json:"bridge"`
	ContainerID string    `json:"container_id,omitempty"`
	Status      Status    `json:"status"`
	Steps       []string  `json:"steps,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the router ledger. Lifecycle decisions never read from it; it
// records what the daemon did so operators can audit and resume.
type Store struct {
	dataDir string
	mu      sync.RWMutex
	routers map[string]*RouterRecord
}

const routersFile = "routers.json"

// NewStore creates a store persisted under dataDir. An empty dataDir keeps
// records in memory only.
func NewStore(dataDir string) (*Store, error) {
	s := &Store{
		dataDir: dataDir,
		routers: make(map[string]*RouterRecord),
	}
	if dataDir == "" {
		return s, nil
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Load existing state
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	return s, nil
}

// Save stores a copy of record, stamping its timestamps
func (s *Store) Save(record *RouterRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := *record
	stored.Steps = append([]string(nil), record.Steps...)
	if prev, ok := s.routers[record.Name]; ok && stored.CreatedAt.IsZero() {
		stored.CreatedAt = prev.CreatedAt
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.routers[record.Name] = &stored
	return s.persist()
}

// Get returns a copy of the record for name
func (s *Store) Get(name string) (*RouterRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.routers[name]
	if !ok {
		return nil, fmt.Errorf("router %s: %w", name, ErrNotFound)
	}
	out := *record
	out.Steps = append([]string(nil), record.Steps...)
	return &out, nil
}

// Delete removes the record for name
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.routers, name)
	return s.persist()
}

// List returns copies of all records ordered by name
func (s *Store) List() []*RouterRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*RouterRecord, 0, len(s.routers))
	for _, record := range s.routers {
		out := *record
		out.Steps = append([]string(nil), record.Steps...)
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records
}

// persist saves state to disk
func (s *Store) persist() error {
	if s.dataDir == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.routers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal routers: %w", err)
	}

	// Write to a temp file first so a crash never leaves a torn ledger.
	path := filepath.Join(s.dataDir, routersFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write routers file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace routers file: %w", err)
	}
	return nil
}

// load reads state from disk
func (s *Store) load() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, routersFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read routers file: %w", err)
	}
	if err := json.Unmarshal(data, &s.routers); err != nil {
		return fmt.Errorf("failed to unmarshal routers: %w", err)
	}
	return nil
}
