// Package recipient implements the Recipient Engine (§4.F): vault-level
// init/add/remove/list of recipients, and the re-encryption sweep that
// keeps resources encrypted to the current recipient set.
package recipient

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/recipients"
	"github.com/cychiuae/syvault/internal/resource"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/cychiuae/syvault/internal/vaultlog"
	"github.com/pkg/errors"
)

var fingerprintRE = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)

// exportKey writes key's armored public material into v's gpg_keys
// directory, named by fingerprint, when one is configured.
func exportKey(v *vaultconfig.Vault, provider crypto.Provider, key crypto.Key) error {
	dir, ok := v.GPGKeysPath()
	if !ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create gpg_keys directory '%s'", dir)
	}
	armored, err := provider.ExportKey(key)
	if err != nil {
		return errors.Wrapf(err, "failed to export key '%s'", key.Fingerprint)
	}
	path := filepath.Join(dir, key.Fingerprint)
	if err := os.WriteFile(path, armored, 0644); err != nil {
		return errors.Wrapf(err, "failed to write exported key to '%s'", path)
	}
	return nil
}

// Init bootstraps a fresh vault's recipients file: with no ids, the sole
// secret key available in the backend is used (it is an error for there
// to be zero or more than one); with ids, those are used directly. Each
// selected key is exported to gpg_keys and appended to the recipients
// file. No content is re-encrypted, since Init assumes a fresh vault.
func Init(v *vaultconfig.Vault, provider crypto.Provider, ids []string) error {
	var keys []crypto.Key

	if len(ids) == 0 {
		secret, err := provider.SecretKeys()
		if err != nil {
			return errors.Wrap(err, "failed to list secret keys")
		}
		if len(secret) == 0 {
			return errors.New("no secret key available in the backend; specify an id explicitly")
		}
		if len(secret) > 1 {
			return errors.New("more than one secret key is available in the backend; specify an id explicitly")
		}
		keys = secret
	} else {
		resolved, err := recipients.Resolve(provider, ids, "recipient", gpgKeysDirOf(v), v.RecipientsPath())
		if err != nil {
			return err
		}
		keys = resolved
	}

	var fingerprints []string
	for _, k := range keys {
		if err := exportKey(v, provider, k); err != nil {
			return err
		}
		fingerprints = append(fingerprints, k.Fingerprint)
	}

	current, err := currentOrEmpty(v)
	if err != nil {
		return err
	}
	if _, err := recipients.Write(v, append(current, fingerprints...)); err != nil {
		return err
	}
	vaultlog.Log().WithField("vault", v.URL()).Info("recipients initialized")
	return nil
}

func gpgKeysDirOf(v *vaultconfig.Vault) string {
	dir, ok := v.GPGKeysPath()
	if !ok {
		return ""
	}
	return dir
}

// chooseSigningKey resolves signingKeyID if given, otherwise falls back to
// the single secret key that is also a current recipient of v; it is an
// error for that fallback set to be empty or ambiguous.
func chooseSigningKey(v *vaultconfig.Vault, provider crypto.Provider, signingKeyID string) (crypto.Key, error) {
	if signingKeyID != "" {
		keys, err := provider.FindKeys(signingKeyID)
		if err != nil {
			return crypto.Key{}, err
		}
		if len(keys) != 1 {
			return crypto.Key{}, errors.Errorf("signing key id '%s' did not resolve to exactly one key", signingKeyID)
		}
		return keys[0], nil
	}

	secretKeys, err := provider.SecretKeys()
	if err != nil {
		return crypto.Key{}, errors.Wrap(err, "failed to list secret keys")
	}
	current, err := recipients.Read(v)
	if err != nil {
		return crypto.Key{}, err
	}
	currentSet := make(map[string]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	var candidates []crypto.Key
	for _, k := range secretKeys {
		if currentSet[k.Fingerprint] {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return crypto.Key{}, errors.New("no secret key is both available and a current recipient; specify --signing-key")
	}
	if len(candidates) > 1 {
		return crypto.Key{}, errors.New("more than one secret key is both available and a current recipient; specify --signing-key")
	}
	return candidates[0], nil
}

// Add resolves ids, optionally signs them, appends their fingerprints to
// the recipients file of every vault in vaults (the leader and all its
// partitions), exports them into each vault's gpg_keys directory, then
// re-encrypts every resource of every vault.
func Add(vaults []*vaultconfig.Vault, provider crypto.Provider, ids []string, signingKeyID string, verified bool) error {
	if !verified {
		for _, id := range ids {
			if !fingerprintRE.MatchString(id) {
				return errors.Errorf("'%s' is not a full fingerprint; recipients add requires full fingerprints unless --verified is given", id)
			}
		}
	}

	var keys []crypto.Key
	for _, id := range ids {
		found, err := provider.FindKeys(id)
		if err != nil {
			return err
		}
		if len(found) != 1 {
			return errors.Errorf("id '%s' did not resolve to exactly one key", id)
		}
		keys = append(keys, found[0])
	}

	if !verified {
		leader := vaults[0]
		signingKey, err := chooseSigningKey(leader, provider, signingKeyID)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := provider.SignKey(signingKey, k); err != nil {
				return errors.Wrapf(err, "failed to sign key '%s'", k.Fingerprint)
			}
		}
	}

	var fingerprints []string
	for _, k := range keys {
		fingerprints = append(fingerprints, k.Fingerprint)
	}

	for _, v := range vaults {
		current, err := currentOrEmpty(v)
		if err != nil {
			return err
		}
		if _, err := recipients.Write(v, append(current, fingerprints...)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := exportKey(v, provider, k); err != nil {
				return err
			}
		}
	}

	if err := SweepAll(vaults, provider); err != nil {
		return err
	}

	vaultlog.Log().WithField("count", len(keys)).Info("recipients added")
	return nil
}

func currentOrEmpty(v *vaultconfig.Vault) ([]string, error) {
	current, err := recipients.Read(v)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return nil, nil
		}
		return nil, err
	}
	return current, nil
}

// Remove resolves ids against v's current recipients, removes their
// fingerprints from the recipients file without touching the keyring or
// gpg_keys directory, then re-encrypts every resource of v.
func Remove(v *vaultconfig.Vault, provider crypto.Provider, ids []string) error {
	keys, err := recipients.Resolve(provider, ids, "recipient", gpgKeysDirOf(v), v.RecipientsPath())
	if err != nil {
		return err
	}

	remove := make(map[string]bool, len(keys))
	for _, k := range keys {
		remove[k.Fingerprint] = true
	}

	current, err := recipients.Read(v)
	if err != nil {
		return err
	}

	var kept []string
	for _, id := range current {
		if !remove[id] {
			kept = append(kept, id)
		}
	}

	if _, err := recipients.Write(v, kept); err != nil {
		return err
	}

	if err := Sweep(v, provider); err != nil {
		return err
	}

	vaultlog.Log().WithField("count", len(keys)).Info("recipients removed")
	return nil
}

// expiringSoonWindow is the lookahead used to flag a recipient's key as
// "expiring soon" rather than merely "valid".
const expiringSoonWindow = 30 * 24 * time.Hour

// List prints v's recipient fingerprints alongside resolved user-ids and an
// expiry status, best-effort: a fingerprint with no resolvable key prints
// alone with a note.
func List(v *vaultconfig.Vault, provider crypto.Provider, w io.Writer) error {
	ids, err := recipients.Read(v)
	if err != nil {
		return err
	}
	for _, id := range ids {
		keys, err := provider.FindKeys(id)
		if err != nil || len(keys) == 0 {
			fmt.Fprintf(w, "%s (key not found in gpg database)\n", id)
			continue
		}

		key := keys[0]
		status := "valid"
		if key.IsExpired() {
			status = "EXPIRED"
		} else if key.IsExpiringSoon(expiringSoonWindow) {
			status = "expiring soon"
		}

		if key.ExpiresAt != nil {
			fmt.Fprintf(w, "%s %s (expires %s: %s)\n", id, key.UserID, key.ExpiresAt.Format("2006-01-02"), status)
		} else {
			fmt.Fprintf(w, "%s %s\n", id, key.UserID)
		}
	}
	return nil
}

// Sweep re-encrypts every ".gpg" resource under v to v's current recipient
// set: decrypt to memory, encrypt to the post-change set, atomically
// replace via a same-directory temp file and rename. If any file fails,
// the vault is rolled back to its pre-sweep content; the caller is
// responsible for not reverting already-completed vaults when sweeping a
// sequence (§4.F).
func Sweep(v *vaultconfig.Vault, provider crypto.Provider) error {
	root := v.SecretsPath()
	relPaths, err := resource.Glob(root)
	if err != nil {
		return err
	}
	if len(relPaths) == 0 {
		return nil
	}

	ids, err := resource.RecipientKeys(v)
	if err != nil {
		return err
	}

	type backup struct {
		path     string
		original []byte
	}
	var backups []backup
	rollback := func() {
		for _, b := range backups {
			_ = os.WriteFile(b.path, b.original, 0600)
		}
	}

	for _, rel := range relPaths {
		abs := filepath.Join(root, rel)

		original, err := os.ReadFile(abs)
		if err != nil {
			rollback()
			return errors.Wrapf(err, "failed to read '%s' during sweep", abs)
		}
		backups = append(backups, backup{path: abs, original: original})

		var plain bytes.Buffer
		if err := provider.Decrypt(bytes.NewReader(original), &plain); err != nil {
			rollback()
			return errors.Wrapf(err, "failed to decrypt '%s' during sweep", abs)
		}

		var reencrypted bytes.Buffer
		if err := provider.Encrypt(ids, bytes.NewReader(plain.Bytes()), &reencrypted); err != nil {
			rollback()
			return errors.Wrapf(err, "failed to re-encrypt '%s' during sweep", abs)
		}

		tmp := abs + ".syvault-tmp"
		if err := os.WriteFile(tmp, reencrypted.Bytes(), 0600); err != nil {
			rollback()
			return errors.Wrapf(err, "failed to write temp file for '%s' during sweep", abs)
		}
		if err := os.Rename(tmp, abs); err != nil {
			os.Remove(tmp)
			rollback()
			return errors.Wrapf(err, "failed to replace '%s' during sweep", abs)
		}
	}

	vaultlog.Log().WithField("vault", v.URL()).WithField("count", len(relPaths)).Debug("sweep complete")
	return nil
}

// SweepAll runs Sweep over vaults in order; a failure in vault k halts
// processing of k+1..n, but vaults before k that already completed their
// own sweep are not reverted — their recipient set genuinely changed, and
// reverting would itself need another sweep.
func SweepAll(vaults []*vaultconfig.Vault, provider crypto.Provider) error {
	for i, v := range vaults {
		if err := Sweep(v, provider); err != nil {
			return errors.Wrapf(err, "sweep halted at vault %d ('%s')", i, v.URL())
		}
	}
	return nil
}
