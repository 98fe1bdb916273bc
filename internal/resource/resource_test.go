package resource

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughProvider treats "encryption" as a reversible marker transform
// so these tests never need a real keyring.
type passthroughProvider struct{}

func (passthroughProvider) FindKeys(id string) ([]crypto.Key, error) {
	return []crypto.Key{{Fingerprint: id}}, nil
}

func (passthroughProvider) Encrypt(recipients []string, src io.Reader, dst io.Writer) error {
	if _, err := dst.Write([]byte("ENC:")); err != nil {
		return err
	}
	_, err := io.Copy(dst, src)
	return err
}

func (passthroughProvider) Decrypt(src io.Reader, dst io.Writer) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	_, err = dst.Write(bytes.TrimPrefix(data, []byte("ENC:")))
	return err
}

func (passthroughProvider) ExportKey(key crypto.Key) ([]byte, error)       { return nil, nil }
func (passthroughProvider) ImportKeys(armored []byte) ([]crypto.Key, error) { return nil, nil }
func (passthroughProvider) SignKey(signingKey, target crypto.Key) error   { return nil }
func (passthroughProvider) SecretKeys() ([]crypto.Key, error)             { return nil, nil }

func testVault(t *testing.T, dir string) *vaultconfig.Vault {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gpg-id"), []byte("fpr1\n"), 0600))
	return &vaultconfig.Vault{
		Secrets:    ".",
		Recipients: ".gpg-id",
		ResolvedAt: dir,
	}
}

func TestAddWithExplicitDestination(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)

	require.NoError(t, Add(v, passthroughProvider{}, ":secret", bytes.NewBufferString("hello")))

	content, err := os.ReadFile(filepath.Join(dir, "secret.gpg"))
	require.NoError(t, err)
	assert.Equal(t, "ENC:hello", string(content))
}

func TestAddFailsIfDestinationExists(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.gpg"), []byte("x"), 0600))

	err := Add(v, passthroughProvider{}, ":secret", bytes.NewBufferString("hello"))
	require.Error(t, err)
}

func TestShowDecryptsResource(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.gpg"), []byte("ENC:hello"), 0600))

	var buf bytes.Buffer
	require.NoError(t, Show(v, passthroughProvider{}, "secret", &buf))
	assert.Equal(t, "hello", buf.String())
}

func TestShowAcceptsPathWithSuffixAlready(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.gpg"), []byte("ENC:hello"), 0600))

	var buf bytes.Buffer
	require.NoError(t, Show(v, passthroughProvider{}, "secret.gpg", &buf))
	assert.Equal(t, "hello", buf.String())
}

func TestListStripsGPGSuffixAndSortsPaths(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.gpg"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.gpg"), []byte("x"), 0600))

	var buf bytes.Buffer
	require.NoError(t, List(v, &buf))

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, v.URL(), string(lines[0]))
	assert.Equal(t, "b", string(lines[1]))
	assert.Equal(t, filepath.Join("sub", "a"), string(lines[2]))
}

func TestRemoveDeletesResourceAndReportsMissing(t *testing.T) {
	dir := t.TempDir()
	v := testVault(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.gpg"), []byte("x"), 0600))

	err := Remove(v, []string{"a", "missing"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "a.gpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSpecParsesSrcDstShorthand(t *testing.T) {
	src, dst := Spec("foo")
	assert.Equal(t, "foo", src)
	assert.Equal(t, "foo", dst)

	src, dst = Spec("foo:bar")
	assert.Equal(t, "foo", src)
	assert.Equal(t, "bar", dst)
}
