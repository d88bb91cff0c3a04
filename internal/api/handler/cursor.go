package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/traffic-export/internal/api/storage"
)

func DecodeRunCursor(cursorStr string) (*storage.RunCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var updatedAt int64
	if _, err := fmt.Sscanf(parts[0], "%d", &updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updatedAt in cursor: %w", err)
	}

	return &storage.RunCursor{
		UpdatedAt:     time.Unix(0, updatedAt).UTC(),
		CorrelationID: parts[1],
	}, nil
}

func EncodeRunCursor(cursor *storage.RunCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.UpdatedAt.UnixNano(), cursor.CorrelationID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
