// Package directory resolves human-identifying names to concrete contacts.
// Disambiguation exists because this lookup can legitimately return more
// than one match.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Contact is one known target of a principal.
type Contact struct {
	ID          string `json:"id"`
	PrincipalID string `json:"principal_id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Directory looks up and creates contacts scoped to a principal.
type Directory interface {
	FindByName(ctx context.Context, principalID, name string) ([]Contact, error)
	Get(ctx context.Context, principalID, contactID string) (Contact, bool, error)
	Create(ctx context.Context, principalID, displayName string) (Contact, error)
}

// Matches reports whether a contact answers to the given name: exact
// display-name match, first-name match, or handle match, case-insensitive.
func Matches(c Contact, name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	display := strings.ToLower(c.DisplayName)
	if display == name {
		return true
	}
	if first, _, ok := strings.Cut(display, " "); ok && first == name {
		return true
	}
	return strings.ToLower(strings.TrimPrefix(c.Handle, "@")) == strings.TrimPrefix(name, "@")
}

// MemoryDirectory is the in-process Directory used by tests and demos.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[string][]Contact // principalID -> contacts
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{contacts: make(map[string][]Contact)}
}

// Seed inserts a contact with a caller-chosen id.
func (d *MemoryDirectory) Seed(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.PrincipalID] = append(d.contacts[c.PrincipalID], c)
}

func (d *MemoryDirectory) FindByName(ctx context.Context, principalID, name string) ([]Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Contact
	for _, c := range d.contacts[principalID] {
		if Matches(c, name) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *MemoryDirectory) Get(ctx context.Context, principalID, contactID string) (Contact, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, c := range d.contacts[principalID] {
		if c.ID == contactID {
			return c, true, nil
		}
	}
	return Contact{}, false, nil
}

func (d *MemoryDirectory) Create(ctx context.Context, principalID, displayName string) (Contact, error) {
	c := Contact{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		DisplayName: strings.TrimSpace(displayName),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[principalID] = append(d.contacts[principalID], c)
	return c, nil
}
