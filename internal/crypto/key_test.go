package crypto

import "testing"

func TestKeyMatchesFingerprintCaseInsensitive(t *testing.T) {
	k := Key{Fingerprint: "ABCDEF0123456789ABCDEF0123456789ABCDEF01"}
	if !k.Matches("abcdef0123456789abcdef0123456789abcdef01") {
		t.Fatal("expected case-insensitive fingerprint match")
	}
}

func TestKeyMatchesKeyID(t *testing.T) {
	k := Key{KeyID: "0123456789ABCDEF"}
	if !k.Matches("0123456789abcdef") {
		t.Fatal("expected key id match")
	}
}

func TestKeyMatchesUserIDSubstring(t *testing.T) {
	k := Key{UserID: "Jane Doe <jane@example.com>"}
	if !k.Matches("jane@example.com") {
		t.Fatal("expected user-id substring match")
	}
	if k.Matches("nobody@example.com") {
		t.Fatal("unexpected match on unrelated email")
	}
}

func TestKeyMatchesFingerprintSuffix(t *testing.T) {
	k := Key{Fingerprint: "ABCDEF0123456789ABCDEF0123456789ABCDEF01"}
	if !k.Matches("23456789ABCDEF01") {
		t.Fatal("expected short-id suffix match against fingerprint")
	}
}

func TestKeyMatchesRejectsEmptyID(t *testing.T) {
	k := Key{Fingerprint: "ABCDEF0123456789ABCDEF0123456789ABCDEF01"}
	if k.Matches("") {
		t.Fatal("empty id should never match")
	}
}
