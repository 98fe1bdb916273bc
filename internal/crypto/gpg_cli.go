package crypto

import (
	"bytes"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// CLIGPG implements Provider by shelling out to a gpg binary on PATH. It
// backs the native backend for the one thing go-crypto cannot do
// standalone (signing a key) and for keyrings the native parser can't read
// (modern keybox-format secret keys).
type CLIGPG struct{}

// NewCLIGPG constructs a CLIGPG. No state is loaded eagerly; every
// operation shells out fresh.
func NewCLIGPG() *CLIGPG {
	return &CLIGPG{}
}

// FindKeys lists public keys matching id via `gpg --list-keys`.
func (g *CLIGPG) FindKeys(id string) ([]Key, error) {
	cmd := exec.Command("gpg", "--list-keys", "--with-colons", "--with-fingerprint", id)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			if strings.Contains(string(exitErr.Stderr), "No public key") ||
				strings.Contains(string(exitErr.Stderr), "not found") {
				return nil, nil
			}
		}
		return nil, errors.Wrap(err, "gpg --list-keys failed")
	}
	return parseColonKeys(string(output)), nil
}

func parseColonKeys(output string) []Key {
	var keys []Key
	var current *Key

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "pub":
			if current != nil {
				keys = append(keys, *current)
			}
			current = &Key{}
			if len(fields) >= 5 {
				current.KeyID = fields[4]
			}
			if len(fields) >= 6 && fields[5] != "" {
				if ts, err := parseTimestamp(fields[5]); err == nil {
					current.CreatedAt = ts
				}
			}
			if len(fields) >= 7 && fields[6] != "" {
				if ts, err := parseTimestamp(fields[6]); err == nil {
					current.ExpiresAt = &ts
				}
			}
		case "fpr":
			if current != nil && len(fields) >= 10 && current.Fingerprint == "" {
				current.Fingerprint = fields[9]
			}
		case "uid":
			if current != nil && len(fields) >= 10 && current.UserID == "" {
				current.UserID = fields[9]
			}
		}
	}
	if current != nil {
		keys = append(keys, *current)
	}
	return keys
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(ts, 0), nil
	}
	return time.Parse("2006-01-02", s)
}

// Encrypt shells out to `gpg --encrypt --armor` with one --recipient per id.
func (g *CLIGPG) Encrypt(recipients []string, src io.Reader, dst io.Writer) error {
	args := []string{"--encrypt", "--armor", "--trust-model", "always"}
	for _, r := range recipients {
		args = append(args, "--recipient", r)
	}

	cmd := exec.Command("gpg", args...)
	cmd.Stdin = src
	cmd.Stdout = dst

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Errorf("gpg encrypt failed: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Decrypt shells out to `gpg --decrypt`.
func (g *CLIGPG) Decrypt(src io.Reader, dst io.Writer) error {
	cmd := exec.Command("gpg", "--decrypt", "--quiet", "--batch")
	cmd.Stdin = src
	cmd.Stdout = dst

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errStr := stderr.String()
		if strings.Contains(errStr, "No secret key") {
			return ErrNoPrivateKey
		}
		return errors.Errorf("gpg decrypt failed: %s", strings.TrimSpace(errStr))
	}
	return nil
}

// ExportKey shells out to `gpg --export --armor` for the key's fingerprint.
func (g *CLIGPG) ExportKey(key Key) ([]byte, error) {
	cmd := exec.Command("gpg", "--export", "--armor", key.Fingerprint)
	output, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrap(err, "gpg --export failed")
	}
	if len(output) == 0 {
		return nil, ErrKeyNotFound
	}
	return output, nil
}

// ImportKeys shells out to `gpg --import` and looks up, via `--list-keys`,
// every 40-hex-digit fingerprint that appears in gpg's stderr output.
func (g *CLIGPG) ImportKeys(armored []byte) ([]Key, error) {
	cmd := exec.Command("gpg", "--import")
	cmd.Stdin = bytes.NewReader(armored)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("gpg import failed: %s", strings.TrimSpace(stderr.String()))
	}

	fprRegex := regexp.MustCompile(`(?i)([0-9A-F]{40})`)
	matches := fprRegex.FindAllStringSubmatch(stderr.String(), -1)
	if len(matches) == 0 {
		return nil, errors.New("could not determine imported key fingerprint from gpg output")
	}

	var imported []Key
	for _, m := range matches {
		keys, err := g.FindKeys(m[1])
		if err != nil {
			return nil, err
		}
		imported = append(imported, keys...)
	}
	return imported, nil
}

// SignKey shells out to `gpg --sign-key`, using signingKey as the default
// signing identity (`-u`).
func (g *CLIGPG) SignKey(signingKey, target Key) error {
	cmd := exec.Command("gpg", "--batch", "--yes", "-u", signingKey.Fingerprint,
		"--sign-key", target.Fingerprint)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Errorf("gpg sign-key failed: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// SecretKeys lists private keys via `gpg --list-secret-keys`.
func (g *CLIGPG) SecretKeys() ([]Key, error) {
	cmd := exec.Command("gpg", "--list-secret-keys", "--with-colons", "--with-fingerprint")
	output, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrap(err, "gpg --list-secret-keys failed")
	}
	return parseColonSecretKeys(string(output)), nil
}

func parseColonSecretKeys(output string) []Key {
	var keys []Key
	var current *Key
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "sec":
			if current != nil {
				keys = append(keys, *current)
			}
			current = &Key{}
			if len(fields) >= 5 {
				current.KeyID = fields[4]
			}
		case "fpr":
			if current != nil && len(fields) >= 10 && current.Fingerprint == "" {
				current.Fingerprint = fields[9]
			}
		case "uid":
			if current != nil && len(fields) >= 10 && current.UserID == "" {
				current.UserID = fields[9]
			}
		}
	}
	if current != nil {
		keys = append(keys, *current)
	}
	return keys
}
