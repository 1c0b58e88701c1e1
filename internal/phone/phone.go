// Package phone canonicalizes WhatsApp phone numbers.
package phone

import (
	"errors"
	"strings"
)

// ColombiaPrefix is the country code added to bare national mobile numbers.
const ColombiaPrefix = "57"

// ErrInvalid is returned for inputs with too few digits to be a phone number.
var ErrInvalid = errors.New("invalid phone number")

// Canonicalize strips everything but digits and adds the Colombian country
// prefix to 10-digit mobile numbers starting with 3. Other numbers are kept
// as they are.
func Canonicalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 6 {
		return "", ErrInvalid
	}
	if len(digits) == 10 && digits[0] == '3' {
		return ColombiaPrefix + digits, nil
	}
	return digits, nil
}

// FromJID returns the user part of a WhatsApp JID such as
// "573001112233@s.whatsapp.net", canonicalized.
func FromJID(jid string) (string, error) {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	// Multi-device JIDs carry a ":device" suffix on the user part.
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	return Canonicalize(jid)
}
