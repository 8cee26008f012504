package room

import (
	"crypto/rand"
	"encoding/base32"
	"strings"

	"github.com/nimeshas/conclave-sub002/internal/v1/apperr"
)

// generateLinkSlug mints a stable, opaque identifier for a webinar's
// external invite link. Generated once; never rotated by config edits (only
// webinar:rotateLink bumps linkVersion).
func generateLinkSlug() string {
	var buf [10]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure is effectively unreachable on supported
		// platforms; fall back to a fixed, clearly-invalid slug so a room
		// degrades rather than panics.
		return "slug-unavailable"
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:]))
}

// apperrFromValidation maps a chat-content validation error onto NOT_READY
// (malformed/oversized request), matching how other handlers treat a failed
// decodePayload; there is no dedicated chat-validation wire code.
func apperrFromValidation(err error) error {
	return apperr.New(apperr.CodeNotReady)
}
