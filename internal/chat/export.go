package chat

import (
	"encoding/json"
	"fmt"
)

// Export serializes sessions to indented JSON suitable for a user-facing
// history download.
func Export(sessions []*Session) ([]byte, error) {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("exporting sessions: %w", err)
	}
	return data, nil
}
