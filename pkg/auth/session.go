package auth

import (
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// Session is the cached server session, persisted as JSON in the data
// directory.
type Session struct {
	Ton       string            `json:"ton"`
	UserID    string            `json:"userId"`
	Cookies   map[string]string `json:"cookies"`
	AccountID string            `json:"accountId"`
}

// SaveSession persists the session to path.
func SaveSession(path string, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	log.Infof("Session saved to %s", path)
	return nil
}

// LoadSession reads the cached session. A missing or corrupted file means
// no session, not an error.
func LoadSession(path string) *Session {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warnf("Failed to load session, file may be corrupted: %v", err)
		return nil
	}
	return &s
}
