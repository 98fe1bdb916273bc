package crypto

import (
	"crypto"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
)

// NativeGPG implements Provider entirely in-process against
// github.com/ProtonMail/go-crypto, without shelling out to a gpg binary.
type NativeGPG struct {
	keyring openpgp.EntityList
}

// NewNativeGPG constructs a NativeGPG and loads the user's public and
// secret keyrings from $GNUPGHOME (or ~/.gnupg) on a best-effort basis; a
// missing or unreadable keyring yields an empty provider rather than an
// error, so callers can still fall through to the CLI backend.
func NewNativeGPG() *NativeGPG {
	g := &NativeGPG{}
	g.loadKeyring()
	return g
}

// NewNativeGPGWithKeyring builds a NativeGPG around an explicit keyring,
// bypassing $GNUPGHOME — used by tests that generate throwaway entities
// in-process rather than depending on a real gpg home directory.
func NewNativeGPGWithKeyring(keyring openpgp.EntityList) *NativeGPG {
	return &NativeGPG{keyring: keyring}
}

func (g *NativeGPG) loadKeyring() {
	gnupgHome := os.Getenv("GNUPGHOME")
	if gnupgHome != "" {
		expanded, err := homedir.Expand(gnupgHome)
		if err != nil {
			return
		}
		gnupgHome = expanded
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		gnupgHome = filepath.Join(home, ".gnupg")
	}

	pubringPath := filepath.Join(gnupgHome, "pubring.kbx")
	if _, err := os.Stat(pubringPath); os.IsNotExist(err) {
		pubringPath = filepath.Join(gnupgHome, "pubring.gpg")
	}

	if pubFile, err := os.Open(pubringPath); err == nil {
		defer pubFile.Close()
		if keyring, _ := openpgp.ReadKeyRing(pubFile); keyring != nil {
			g.keyring = keyring
		}
	}

	secringPath := filepath.Join(gnupgHome, "secring.gpg")
	if secFile, err := os.Open(secringPath); err == nil {
		defer secFile.Close()
		if secring, _ := openpgp.ReadKeyRing(secFile); secring != nil {
			g.keyring = append(g.keyring, secring...)
		}
	}
}

func entityToKey(entity *openpgp.Entity) Key {
	pk := entity.PrimaryKey
	keyID := fmt.Sprintf("%X", pk.KeyId)
	fingerprint := fmt.Sprintf("%X", pk.Fingerprint)

	var userID string
	var expiresAt *time.Time
	for _, ident := range entity.Identities {
		if userID == "" && ident.UserId != nil {
			userID = ident.UserId.Id
		}
		if expiresAt == nil && ident.SelfSignature != nil && ident.SelfSignature.KeyLifetimeSecs != nil {
			expiry := pk.CreationTime.Add(time.Duration(*ident.SelfSignature.KeyLifetimeSecs) * time.Second)
			expiresAt = &expiry
		}
	}

	return Key{
		Fingerprint: fingerprint,
		KeyID:       keyID,
		UserID:      userID,
		CreatedAt:   pk.CreationTime,
		ExpiresAt:   expiresAt,
	}
}

func (g *NativeGPG) entityFor(key Key) *openpgp.Entity {
	for _, entity := range g.keyring {
		if entityToKey(entity).Fingerprint == key.Fingerprint {
			return entity
		}
	}
	return nil
}

// FindKeys returns every keyring entity Key.Matches(id).
func (g *NativeGPG) FindKeys(id string) ([]Key, error) {
	var found []Key
	for _, entity := range g.keyring {
		key := entityToKey(entity)
		if key.Matches(id) {
			found = append(found, key)
		}
	}
	return found, nil
}

// Encrypt writes an armored, multi-recipient OpenPGP message.
func (g *NativeGPG) Encrypt(recipients []string, src io.Reader, dst io.Writer) error {
	var entities []*openpgp.Entity
	for _, id := range recipients {
		keys, err := g.FindKeys(id)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return errors.Wrapf(ErrKeyNotFound, "recipient '%s'", id)
		}
		entities = append(entities, g.entityFor(keys[0]))
	}
	if len(entities) == 0 {
		return errors.New("no recipients resolved for encryption")
	}

	armorWriter, err := armor.Encode(dst, "PGP MESSAGE", nil)
	if err != nil {
		return errors.Wrap(err, "failed to open armor writer")
	}

	config := &packet.Config{
		DefaultHash:            crypto.SHA256,
		DefaultCipher:          packet.CipherAES256,
		DefaultCompressionAlgo: packet.CompressionZLIB,
	}

	plainWriter, err := openpgp.Encrypt(armorWriter, entities, nil, nil, config)
	if err != nil {
		armorWriter.Close()
		return errors.Wrap(err, "failed to open encrypt writer")
	}

	if _, err := io.Copy(plainWriter, src); err != nil {
		plainWriter.Close()
		armorWriter.Close()
		return errors.Wrap(err, "failed to write encrypted content")
	}
	if err := plainWriter.Close(); err != nil {
		armorWriter.Close()
		return errors.Wrap(err, "failed to finalize encryption")
	}
	return errors.Wrap(armorWriter.Close(), "failed to finalize armor encoding")
}

// Decrypt reads an armored OpenPGP message and writes its plaintext,
// trying every secret key in the keyring.
func (g *NativeGPG) Decrypt(src io.Reader, dst io.Writer) error {
	block, err := armor.Decode(src)
	if err != nil {
		return errors.Wrap(err, "failed to decode armor")
	}

	var privateKeys openpgp.EntityList
	for _, entity := range g.keyring {
		if entity.PrivateKey != nil {
			privateKeys = append(privateKeys, entity)
		}
	}
	if len(privateKeys) == 0 {
		return ErrNoPrivateKey
	}

	md, err := openpgp.ReadMessage(block.Body, privateKeys, nil, nil)
	if err != nil {
		return errors.Wrap(err, "failed to read encrypted message")
	}

	_, err = io.Copy(dst, md.UnverifiedBody)
	return errors.Wrap(err, "failed to read decrypted content")
}

// ExportKey re-armors the entity backing key, signatures included.
func (g *NativeGPG) ExportKey(key Key) ([]byte, error) {
	entity := g.entityFor(key)
	if entity == nil {
		return nil, ErrKeyNotFound
	}

	var buf strings.Builder
	armorWriter, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open armor writer")
	}
	if err := entity.Serialize(armorWriter); err != nil {
		armorWriter.Close()
		return nil, errors.Wrap(err, "failed to serialize public key")
	}
	if err := armorWriter.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finalize armor encoding")
	}
	return []byte(buf.String()), nil
}

// ImportKeys adopts armored key material into the in-memory keyring.
func (g *NativeGPG) ImportKeys(armored []byte) ([]Key, error) {
	block, err := armor.Decode(strings.NewReader(string(armored)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode armor")
	}

	entities, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key material")
	}
	if len(entities) == 0 {
		return nil, ErrInvalidKey
	}

	var imported []Key
	for _, entity := range entities {
		g.keyring = append(g.keyring, entity)
		imported = append(imported, entityToKey(entity))
	}
	return imported, nil
}

// SignKey is not supported by the native backend: go-crypto's entity
// signing API does not expose a self-contained "sign this identity"
// primitive the way the gpg CLI's --sign-key does. Callers needing a
// signature fall through to CLIGPG via Fallback.
func (g *NativeGPG) SignKey(signingKey, target Key) error {
	return errors.New("native backend cannot sign keys; CLI fallback required")
}

// SecretKeys returns every entity this process holds a private key for.
func (g *NativeGPG) SecretKeys() ([]Key, error) {
	var keys []Key
	for _, entity := range g.keyring {
		if entity.PrivateKey != nil {
			keys = append(keys, entityToKey(entity))
		}
	}
	return keys, nil
}
