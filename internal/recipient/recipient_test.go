package recipient

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/recipients"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeyring struct {
	byID   map[string][]crypto.Key
	secret []crypto.Key
	signed map[string]string
}

func (f *fakeKeyring) FindKeys(id string) ([]crypto.Key, error) { return f.byID[id], nil }

func (f *fakeKeyring) Encrypt(recipientIDs []string, src io.Reader, dst io.Writer) error {
	if _, err := dst.Write([]byte("ENC[" + joinIDs(recipientIDs) + "]:")); err != nil {
		return err
	}
	_, err := io.Copy(dst, src)
	return err
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

func (f *fakeKeyring) Decrypt(src io.Reader, dst io.Writer) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	idx := bytes.Index(data, []byte("]:"))
	if idx < 0 {
		return io.ErrUnexpectedEOF
	}
	_, err = dst.Write(data[idx+2:])
	return err
}

func (f *fakeKeyring) ExportKey(key crypto.Key) ([]byte, error) {
	return []byte("armored:" + key.Fingerprint), nil
}

func (f *fakeKeyring) ImportKeys(armored []byte) ([]crypto.Key, error) { return nil, nil }

func (f *fakeKeyring) SignKey(signingKey, target crypto.Key) error {
	if f.signed == nil {
		f.signed = map[string]string{}
	}
	f.signed[target.Fingerprint] = signingKey.Fingerprint
	return nil
}

func (f *fakeKeyring) SecretKeys() ([]crypto.Key, error) { return f.secret, nil }

func testVault(t *testing.T, dir string) *vaultconfig.Vault {
	t.Helper()
	return &vaultconfig.Vault{
		Secrets:    ".",
		GPGKeys:    "keys",
		Recipients: ".gpg-id",
		ResolvedAt: dir,
	}
}

func TestInitWithSoleSecretKey(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	kr := &fakeKeyring{secret: []crypto.Key{{Fingerprint: "FPR1"}}}

	require.NoError(t, Init(v, kr, nil))

	list, err := recipients.Read(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"FPR1"}, list)

	exported, err := os.ReadFile(filepath.Join(dir, "keys", "FPR1"))
	require.NoError(t, err)
	assert.Equal(t, "armored:FPR1", string(exported))
}

func TestInitFailsWithZeroOrMultipleSecretKeys(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)

	require.Error(t, Init(v, &fakeKeyring{}, nil))
	require.Error(t, Init(v, &fakeKeyring{secret: []crypto.Key{{Fingerprint: "A"}, {Fingerprint: "B"}}}, nil))
}

func TestAddRejectsNonFingerprintWhenUnverified(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	_, err := recipients.Write(v, nil)
	require.NoError(t, err)

	err = Add([]*vaultconfig.Vault{v}, &fakeKeyring{}, []string{"someone@example.com"}, "", false)
	require.Error(t, err)
}

func TestAddSweepsResourcesAfterAppending(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	secretFP := "0000000000000000000000000000000000000A"
	newFP := "1111111111111111111111111111111111111B"

	_, err := recipients.Write(v, []string{secretFP})
	require.NoError(t, err)

	kr := &fakeKeyring{
		byID: map[string][]crypto.Key{
			newFP: {{Fingerprint: newFP}},
		},
		secret: []crypto.Key{{Fingerprint: secretFP}},
	}

	resourcePath := filepath.Join(dir, "a.gpg")
	require.NoError(t, os.WriteFile(resourcePath, []byte("ENC["+secretFP+"]:hello"), 0600))

	require.NoError(t, Add([]*vaultconfig.Vault{v}, kr, []string{newFP}, "", true))

	list, err := recipients.Read(v)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{secretFP, newFP}, list)

	content, err := os.ReadFile(resourcePath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
	assert.Contains(t, string(content), newFP)
}

func TestRemoveDoesNotTouchGPGKeysDir(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	fp := "0000000000000000000000000000000000000A"

	_, err := recipients.Write(v, []string{fp})
	require.NoError(t, err)

	kr := &fakeKeyring{byID: map[string][]crypto.Key{fp: {{Fingerprint: fp}}}}

	resourcePath := filepath.Join(dir, "a.gpg")
	require.NoError(t, os.WriteFile(resourcePath, []byte("ENC["+fp+"]:hello"), 0600))

	err = Remove(v, kr, []string{fp})
	require.Error(t, err) // no recipients remain, resource.RecipientKeys errors

	list, readErr := recipients.Read(v)
	require.NoError(t, readErr)
	assert.Empty(t, list)

	_, statErr := os.Stat(filepath.Join(dir, "keys"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSweepRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	fp := "0000000000000000000000000000000000000A"
	_, err := recipients.Write(v, []string{fp})
	require.NoError(t, err)

	good := filepath.Join(dir, "agood.gpg")
	bad := filepath.Join(dir, "zbad.gpg")
	require.NoError(t, os.WriteFile(good, []byte("ENC[stale]:good-content"), 0600))
	require.NoError(t, os.WriteFile(bad, []byte("not a valid envelope"), 0600))

	kr := &fakeKeyring{byID: map[string][]crypto.Key{fp: {{Fingerprint: fp}}}}

	err = Sweep(v, kr)
	require.Error(t, err)

	content, readErr := os.ReadFile(good)
	require.NoError(t, readErr)
	assert.Equal(t, "ENC[stale]:good-content", string(content))
}
