package recipients

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVault(t *testing.T, dir string) *vaultconfig.Vault {
	t.Helper()
	return &vaultconfig.Vault{
		Secrets:    ".",
		Recipients: ".gpg-id",
		ResolvedAt: dir,
	}
}

func TestReadMissingFileIsError(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)

	_, err := Read(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(dir, ".gpg-id"))
}

func TestWriteSortsAndDedupes(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)

	path, err := Write(v, []string{"beta", "alpha", "alpha", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".gpg-id"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\ngamma\n", string(content))
}

func TestReadReturnsWrittenList(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)

	_, err := Write(v, []string{"b", "a"})
	require.NoError(t, err)

	list, err := Read(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, list)
}

func TestResolveAllFoundSucceeds(t *testing.T) {
	provider := &stubProvider{
		keys: map[string][]crypto.Key{
			"fpr1": {{Fingerprint: "fpr1", UserID: "a"}},
			"fpr2": {{Fingerprint: "fpr2", UserID: "b"}},
		},
	}

	keys, err := Resolve(provider, []string{"fpr1", "fpr2"}, "recipient", "", "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestResolveMissingFails(t *testing.T) {
	provider := &stubProvider{
		keys: map[string][]crypto.Key{
			"fpr1": {{Fingerprint: "fpr1"}},
		},
	}

	_, err := Resolve(provider, []string{"fpr1", "missing-id"}, "recipient", "", "")
	require.Error(t, err)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, []string{"missing-id"}, resolveErr.Missing)
	assert.Contains(t, err.Error(), "1 recipient(s) could not be resolved")
}

func TestResolveMissingNamesGPGKeysImportHint(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "deadbeef")
	require.NoError(t, os.WriteFile(keyFile, []byte("key material"), 0600))

	provider := &stubProvider{keys: map[string][]crypto.Key{}}

	_, err := Resolve(provider, []string{"deadbeef"}, "recipient", dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Import key-file using 'gpg --import '"+keyFile+"''")
}

func TestResolveMissingWithoutKeyFileNamesAbsence(t *testing.T) {
	dir := t.TempDir()
	provider := &stubProvider{keys: map[string][]crypto.Key{}}

	_, err := Resolve(provider, []string{"deadbeef"}, "recipient", dir, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Key-file does not exist at")
}

func TestResolveAmbiguousMatchReportsAdditional(t *testing.T) {
	provider := &stubProvider{
		keys: map[string][]crypto.Key{
			"jane": {
				{Fingerprint: "fpr1", UserID: "Jane A"},
				{Fingerprint: "fpr2", UserID: "Jane B"},
			},
		},
	}

	_, err := Resolve(provider, []string{"jane"}, "recipient", "", "/vault/.gpg-id")
	require.Error(t, err)

	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Len(t, resolveErr.Additional, 1)
	assert.Contains(t, err.Error(), "additional keys resolved")
}

// stubProvider implements crypto.Provider with FindKeys backed by a map;
// the remaining methods are unused by these tests.
type stubProvider struct {
	keys map[string][]crypto.Key
}

func (s *stubProvider) FindKeys(id string) ([]crypto.Key, error) { return s.keys[id], nil }
func (s *stubProvider) Encrypt(recipients []string, src io.Reader, dst io.Writer) error {
	return nil
}
func (s *stubProvider) Decrypt(src io.Reader, dst io.Writer) error { return nil }
func (s *stubProvider) ExportKey(key crypto.Key) ([]byte, error)  { return nil, nil }
func (s *stubProvider) ImportKeys(armored []byte) ([]crypto.Key, error) { return nil, nil }
func (s *stubProvider) SignKey(signingKey, target crypto.Key) error { return nil }
func (s *stubProvider) SecretKeys() ([]crypto.Key, error)         { return nil, nil }
