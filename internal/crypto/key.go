package crypto

import "time"

// Key is a resolved OpenPGP key, the facade's view of whatever backend
// entity actually represents it (§4.D).
type Key struct {
	Fingerprint string
	KeyID       string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	Armored     []byte
}

// IsExpired reports whether the key's expiry, if any, is in the past.
func (k Key) IsExpired() bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now())
}

// IsExpiringSoon reports whether the key expires within the given window.
func (k Key) IsExpiringSoon(within time.Duration) bool {
	if k.ExpiresAt == nil {
		return false
	}
	return !k.IsExpired() && k.ExpiresAt.Before(time.Now().Add(within))
}

// Matches reports whether id (a fingerprint, key id, or user-id substring)
// identifies this key.
func (k Key) Matches(id string) bool {
	if id == "" {
		return false
	}
	if equalFold(k.Fingerprint, id) || equalFold(k.KeyID, id) {
		return true
	}
	if k.Fingerprint != "" && len(id) >= 8 && hasSuffixFold(k.Fingerprint, id) {
		return true
	}
	return containsFold(k.UserID, id)
}

func equalFold(a, b string) bool {
	return foldASCII(a) == foldASCII(b)
}

func containsFold(haystack, needle string) bool {
	h := foldASCII(haystack)
	n := foldASCII(needle)
	if n == "" {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if h[i:i+len(n)] == n {
			return true
		}
	}
	return false
}

func hasSuffixFold(s, suffix string) bool {
	fs, fsuf := foldASCII(s), foldASCII(suffix)
	if len(fsuf) > len(fs) {
		return false
	}
	return fs[len(fs)-len(fsuf):] == fsuf
}

func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
