package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Session is what the CLI remembers between invocations: the websocket session id it
// resumes, and the admin token once that session has logged in.
type Session struct {
	ServerURL      string    `json:"server_url"`
	SessionID      string    `json:"session_id"`
	ResumeToken    string    `json:"resume_token,omitempty"`
	Name           string    `json:"name,omitempty"`
	AdminToken     string    `json:"admin_token,omitempty"`
	AdminExpiresAt time.Time `json:"admin_expires_at,omitempty"`
}

// Dir overrides the directory holding session.json. Empty means ~/.pit.
var Dir string

func baseDir() (string, error) {
	dir := Dir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".pit")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

// LoadSession returns the saved session. A missing file yields an empty session.
func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// AdminTokenFor returns the saved admin token when it was issued by serverURL and is unexpired.
func (s Session) AdminTokenFor(serverURL string, now time.Time) (string, error) {
	if strings.TrimSpace(s.AdminToken) == "" || s.ServerURL != serverURL {
		return "", fmt.Errorf("not logged in as admin on %s, run `pit admin login` first", serverURL)
	}
	if !s.AdminExpiresAt.IsZero() && now.After(s.AdminExpiresAt) {
		return "", fmt.Errorf("admin token expired, run `pit admin login` again")
	}
	return s.AdminToken, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
