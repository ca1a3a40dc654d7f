// Package tickets keeps support tickets in a single JSON file.
package tickets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

const StatusNew = "New"

var ErrNotFound = errors.New("ticket not found")

type NewTicket struct {
	FullName    string `json:"fullName" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Company     string `json:"company,omitempty"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Urgency     string `json:"urgency" validate:"required"`
}

type Ticket struct {
	NewTicket
	TicketID  string `json:"ticketId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Store holds all tickets in memory and rewrites the whole file on every
// change. A missing or corrupt file starts an empty store.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.RWMutex
	tickets map[string]Ticket
}

func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now, tickets: make(map[string]Ticket)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read tickets: %w", err)
	default:
		if err := json.Unmarshal(data, &s.tickets); err != nil {
			logger.Warn("Tickets file is corrupt, starting empty", "path", path, "err", err)
			s.tickets = make(map[string]Ticket)
		}
	}

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewID returns "TKT-" followed by the first eight upper-case hex digits of
// a random UUID.
func NewID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "TKT-" + strings.ToUpper(hex[:8])
}

func (s *Store) Create(_ context.Context, in NewTicket) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := NewID()
	for _, taken := s.tickets[id]; taken; _, taken = s.tickets[id] {
		id = NewID()
	}

	ts := s.now().UTC().Format(time.RFC3339)
	t := Ticket{
		NewTicket: in,
		TicketID:  id,
		Status:    StatusNew,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	s.tickets[id] = t
	if err := s.saveLocked(); err != nil {
		delete(s.tickets, id)
		return Ticket{}, err
	}
	return t, nil
}

func (s *Store) Get(_ context.Context, id string) (Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t, nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tickets)
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create tickets dir: %w", err)
	}
	data, err := json.MarshalIndent(s.tickets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tickets: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tickets-*.json")
	if err != nil {
		return fmt.Errorf("write tickets: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write tickets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write tickets: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}
