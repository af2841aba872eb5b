package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a time-ordered identifier carrying a readable prefix.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "-" + id.String()
}

// OrderNumber builds SO-<STORE>-<yyyymmdd>-<suffix>. The suffix comes from a
// UUIDv7 so numbers stay unique without a shared counter.
func OrderNumber(storeID string, at time.Time) string {
	return fmt.Sprintf("SO-%s-%s-%s", strings.ToUpper(storeID), at.UTC().Format("20060102"), suffix())
}

func TransferNumber(at time.Time) string {
	return fmt.Sprintf("TRF-%s-%s", at.UTC().Format("20060102"), suffix())
}

func suffix() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	raw := strings.ReplaceAll(id.String(), "-", "")
	return strings.ToUpper(raw[len(raw)-10:])
}
