package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateID returns a time-ordered identifier (UUIDv7).
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("id-%d", time.Now().UnixNano())
	}
	return id.String()
}
