package identity

import (
	"errors"
	"os"
	"sync"

	"github.com/benmeehan/peertrack/pkg/file"
)

// ErrSignedOut is returned when an identity is required but nobody is signed in.
var ErrSignedOut = errors.New("no member signed in")

// Identity is the signed-in member: a stable opaque ID and a display label.
type Identity struct {
	ID    string `json:"member_id,omitempty"`
	Label string `json:"label,omitempty"`
}

// MemberInfoInterface defines methods for managing the member identity.
type MemberInfoInterface interface {
	LoadMemberInfo() error
	GetIdentity() (Identity, error)
	SaveIdentity(id Identity) error
	SignOut() error
}

// MemberInfo manages the member identity and its backing file.
type MemberInfo struct {
	MemberInfoFile string

	mu       sync.RWMutex
	identity Identity
	fileOps  file.FileOperations
}

// NewMemberInfo initializes a new MemberInfo instance.
func NewMemberInfo(filePath string, fileOps file.FileOperations) *MemberInfo {
	return &MemberInfo{
		MemberInfoFile: filePath,
		fileOps:        fileOps,
	}
}

// LoadMemberInfo reads the identity from the file. A missing file leaves the
// member signed out.
func (m *MemberInfo) LoadMemberInfo() error {
	var id Identity
	err := m.fileOps.ReadJsonFile(m.MemberInfoFile, &id)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
	return nil
}

// GetIdentity returns the signed-in member or ErrSignedOut.
func (m *MemberInfo) GetIdentity() (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity.ID == "" {
		return Identity{}, ErrSignedOut
	}
	return m.identity, nil
}

// SaveIdentity updates the identity and writes it back to the file.
func (m *MemberInfo) SaveIdentity(id Identity) error {
	if err := m.fileOps.WriteJsonFile(m.MemberInfoFile, id); err != nil {
		return err
	}
	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
	return nil
}

// SignOut invalidates the identity in memory and on disk.
func (m *MemberInfo) SignOut() error {
	m.mu.Lock()
	m.identity = Identity{}
	m.mu.Unlock()
	return m.fileOps.WriteJsonFile(m.MemberInfoFile, Identity{})
}
