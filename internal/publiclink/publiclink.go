// Package publiclink builds the customer-facing share links for a job.
package publiclink

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewToken mints an opaque share token. Tokens are generated once per job and
// reused on repeated share requests.
func NewToken() string {
	return uuid.New().String()
}

// URL renders the public link for a token against the configured base.
func URL(base, token string) string {
	return fmt.Sprintf("%s/public/jobs/%s", strings.TrimRight(base, "/"), token)
}
