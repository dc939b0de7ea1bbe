package utils

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTicketNumber builds a human-facing number such as TKT-20250101-3F9A1C07BE.
func NewTicketNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return "TKT-" + now.UTC().Format("20060102") + "-" + suffix
}
