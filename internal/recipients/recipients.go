// Package recipients implements the Recipients Registry: reading and
// writing a vault's sorted, de-duplicated fingerprint list, and resolving
// those (or caller-supplied) ids against the keyring with the rich
// diagnostics §4.C requires.
package recipients

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/pkg/errors"
)

// Read returns the fingerprint list at v's recipients path, one entry per
// line with only the trailing newline trimmed. A missing file is an error
// naming the full path.
func Read(v *vaultconfig.Vault) ([]string, error) {
	path := v.RecipientsPath()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read recipients file at '%s'", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed to read recipients file at '%s'", path)
	}
	return lines, nil
}

// Write sorts newList ascending, de-duplicates it, and replaces the
// contents of v's recipients path with one entry per line, trailing
// newline included. It returns the path written.
func Write(v *vaultconfig.Vault, newList []string) (string, error) {
	path := v.RecipientsPath()

	sorted := append([]string(nil), newList...)
	sort.Strings(sorted)

	deduped := sorted[:0]
	var prev string
	for i, id := range sorted {
		if i > 0 && id == prev {
			continue
		}
		deduped = append(deduped, id)
		prev = id
	}

	var buf strings.Builder
	for _, id := range deduped {
		buf.WriteString(id)
		buf.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(buf.String()), 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write recipients file at '%s'", path)
	}
	return path, nil
}

// ResolveError carries the full §4.C diagnostic for a failed resolve.
type ResolveError struct {
	KindLabel      string
	Missing        []string
	GPGKeysDir     string
	HasGPGKeysDir  bool
	Additional     []crypto.Key
	RecipientsPath string
	Resolved       []crypto.Key
}

func (e *ResolveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s(s) could not be resolved:\n", len(e.Missing), e.KindLabel)
	for _, id := range e.Missing {
		if e.HasGPGKeysDir {
			candidate := e.GPGKeysDir + "/" + id
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				fmt.Fprintf(&b, "  %s: Import key-file using 'gpg --import '%s''\n", id, candidate)
				continue
			}
			fmt.Fprintf(&b, "  %s: Key-file does not exist at '%s'\n", id, candidate)
			continue
		}
		fmt.Fprintf(&b, "  %s\n", id)
	}

	if len(e.Additional) > 0 {
		fmt.Fprintf(&b, "additional keys resolved beyond what was requested (recipients file '%s'):\n", e.RecipientsPath)
		for _, k := range e.Additional {
			fmt.Fprintf(&b, "  %s %s\n", k.Fingerprint, k.UserID)
		}
	}

	if len(e.Resolved) > 0 {
		fmt.Fprintf(&b, "All %ss found in gpg database:\n", e.KindLabel)
		for _, k := range e.Resolved {
			fmt.Fprintf(&b, "  %s %s\n", k.Fingerprint, k.UserID)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// Resolve looks up every id in provider's keyring. It fails, with a
// ResolveError, unless exactly one key is found per id: ids with no key
// are reported as missing, and more keys than requested (ambiguous
// matches) are reported as additional keys. gpgKeysDir and recipientsPath
// are used only to enrich the diagnostic; either may be empty.
func Resolve(provider crypto.Provider, ids []string, kindLabel, gpgKeysDir, recipientsPath string) ([]crypto.Key, error) {
	var resolved []crypto.Key
	var missing []string

	for _, id := range ids {
		keys, err := provider.FindKeys(id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up '%s'", id)
		}
		if len(keys) == 0 {
			missing = append(missing, id)
			continue
		}
		resolved = append(resolved, keys...)
	}

	diff := len(ids) - len(resolved)
	if diff == 0 && len(missing) == 0 {
		return resolved, nil
	}

	resolveErr := &ResolveError{
		KindLabel:      kindLabel,
		Missing:        missing,
		GPGKeysDir:     gpgKeysDir,
		HasGPGKeysDir:  gpgKeysDir != "",
		RecipientsPath: recipientsPath,
		Resolved:       resolved,
	}
	if diff < 0 {
		n := len(resolved) - len(ids)
		if n > len(resolved) {
			n = len(resolved)
		}
		resolveErr.Additional = resolved[len(resolved)-n:]
	}
	return nil, resolveErr
}
