package handler

import (
	"encoding/base64"
	"fmt"

	"github.com/isamplesorg/igsn-lib/internal/store"
)

// DecodeJobCursor parses an opaque listing cursor. An empty string means the
// first page.
func DecodeJobCursor(cursorStr string) (*store.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	var id int64
	if _, err := fmt.Sscanf(string(decoded), "job:%d", &id); err != nil {
		return nil, fmt.Errorf("invalid cursor format")
	}

	return &store.JobCursor{ID: id}, nil
}

// EncodeJobCursor renders a cursor pointing past the given job.
func EncodeJobCursor(cursor *store.JobCursor) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("job:%d", cursor.ID)))
}
