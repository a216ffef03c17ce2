package account

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	accountsFileMode = 0o600
	accountsDirMode  = 0o700
	tempFilePattern  = ".accounts-*.toml.tmp"
)

// Store persists account records across restarts.
type Store interface {
	Save(accounts []*Account) error
	Load() ([]*Account, error)
}

// File schema for the accounts file. Versioned so a future format change
// can be detected instead of silently misread.
const currentSchemaVersion = 1

type fileSchema struct {
	Version  int             `toml:"version"`
	Accounts []accountSchema `toml:"accounts"`
}

type accountSchema struct {
	ID       int           `toml:"id"`
	Name     string        `toml:"name,omitempty"`
	Type     string        `toml:"type"`
	User     string        `toml:"user"`
	Password string        `toml:"password"`
	Status   string        `toml:"status,omitempty"`
	Buddies  []buddySchema `toml:"buddies,omitempty"`
}

type buddySchema struct {
	Name   string `toml:"name"`
	Alias  string `toml:"alias,omitempty"`
	Status string `toml:"status,omitempty"`
}

// FileStore stores accounts in a TOML file with owner-only permissions.
// Writes go through a temp file in the same directory followed by a rename,
// so a crash mid-write leaves the previous file intact.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path. The parent directory is
// created on the first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes the full account set, replacing the previous file.
func (s *FileStore) Save(accounts []*Account) error {
	file := fileSchema{Version: currentSchemaVersion}
	for _, acct := range accounts {
		file.Accounts = append(file.Accounts, toSchema(acct))
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode accounts file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, accountsDirMode); err != nil {
		return fmt.Errorf("create accounts directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp accounts file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp accounts file: %w", err)
	}
	if err := tempFile.Chmod(accountsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp accounts file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp accounts file: %w", err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace accounts file: %w", err)
	}
	cleanup = false

	return nil
}

// Load reads the account set. A missing file yields an empty set.
func (s *FileStore) Load() ([]*Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read accounts file: %w", err)
	}

	var file fileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode accounts file: %w", err)
	}
	if file.Version > currentSchemaVersion {
		return nil, fmt.Errorf("unsupported accounts schema version %d (current %d)",
			file.Version, currentSchemaVersion)
	}

	accounts := make([]*Account, 0, len(file.Accounts))
	for _, entry := range file.Accounts {
		accounts = append(accounts, fromSchema(entry))
	}
	return accounts, nil
}

func toSchema(acct *Account) accountSchema {
	entry := accountSchema{
		ID:       acct.ID,
		Name:     acct.Name,
		Type:     acct.Type,
		User:     acct.User,
		Password: acct.Password,
		Status:   acct.Status(),
	}
	for _, b := range acct.Buddies() {
		entry.Buddies = append(entry.Buddies, buddySchema(b))
	}
	return entry
}

func fromSchema(entry accountSchema) *Account {
	acct := New(entry.ID, entry.Type, entry.User, entry.Password)
	acct.Name = entry.Name
	if entry.Status != "" {
		acct.SetStatus(entry.Status)
	}

	buddies := make([]Buddy, 0, len(entry.Buddies))
	for _, b := range entry.Buddies {
		buddies = append(buddies, Buddy(b))
	}
	if len(buddies) > 0 {
		acct.ReplaceBuddies(buddies)
	}
	return acct
}
