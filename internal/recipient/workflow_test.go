package recipient

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/resource"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/stretchr/testify/require"
)

// TestFullWorkflow drives a leader vault through init, add (a second
// recipient, which sweeps), a resource add/show round trip, and remove,
// using a real in-process OpenPGP backend rather than a fake keyring.
func TestFullWorkflow(t *testing.T) {
	alice, err := openpgp.NewEntity("Alice", "", "alice@example.com", nil)
	require.NoError(t, err)
	bob, err := openpgp.NewEntity("Bob", "", "bob@example.com", nil)
	require.NoError(t, err)

	backend := crypto.NewNativeGPGWithKeyring(openpgp.EntityList{alice, bob})

	dir := t.TempDir()
	v := vaultconfig.New()
	v.GPGKeys = "keys"
	v.ResolvedAt = dir

	aliceFP := entityFingerprint(t, alice)
	require.NoError(t, Init(v, backend, []string{aliceFP}))

	require.NoError(t, resource.Add(v, backend, ":creds", bytes.NewBufferString("hunter2")))

	var shown bytes.Buffer
	require.NoError(t, resource.Show(v, backend, "creds", &shown))
	require.Equal(t, "hunter2", shown.String())

	bobFP := entityFingerprint(t, bob)
	require.NoError(t, Add([]*vaultconfig.Vault{v}, backend, []string{bobFP}, "", true))

	exported, err := os.ReadFile(filepath.Join(dir, "keys", bobFP))
	require.NoError(t, err)
	require.NotEmpty(t, exported)

	shown.Reset()
	require.NoError(t, resource.Show(v, backend, "creds", &shown))
	require.Equal(t, "hunter2", shown.String())

	require.NoError(t, Remove(v, backend, []string{bobFP}))

	list, err := os.ReadFile(v.RecipientsPath())
	require.NoError(t, err)
	require.NotContains(t, string(list), bobFP)

	shown.Reset()
	require.NoError(t, resource.Show(v, backend, "creds", &shown))
	require.Equal(t, "hunter2", shown.String())
}

func entityFingerprint(t *testing.T, entity *openpgp.Entity) string {
	t.Helper()
	keys, err := crypto.NewNativeGPGWithKeyring(openpgp.EntityList{entity}).SecretKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1)
	return keys[0].Fingerprint
}
