package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random id such as "led_0f8e...". Version 7 uuids keep ids of
// the same prefix roughly ordered by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}
