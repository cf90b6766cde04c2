package icloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Cookie is one persisted browser cookie. The on-disk session file is a
// JSON array of these; it carries authentication material and is written
// 0600.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitzero"`
	Secure   bool      `json:"secure"`
	HTTPOnly bool      `json:"httpOnly"`
	SameSite string    `json:"sameSite,omitempty"`
}

// LoadSession reads the persisted cookie jar. A missing file returns
// (nil, nil): no session yet is a normal first-run state.
func LoadSession(path string) ([]Cookie, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("icloud: reading session file: %w", err)
	}

	var cookies []Cookie
	if err := json.Unmarshal(raw, &cookies); err != nil {
		return nil, fmt.Errorf("icloud: parsing session file %s: %w", path, err)
	}

	return cookies, nil
}

// SaveSession atomically writes the cookie jar, creating parent
// directories as needed. Atomic replacement means a crash mid-write never
// corrupts an existing working session.
func SaveSession(path string, cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("icloud: creating session dir: %w", err)
	}

	raw, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("icloud: encoding session: %w", err)
	}

	if err := renameio.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("icloud: writing session file: %w", err)
	}

	return nil
}
