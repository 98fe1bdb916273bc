package crypto

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound  = errors.New("GPG key not found")
	ErrInvalidKey   = errors.New("invalid GPG key")
	ErrNoPrivateKey = errors.New("no private key available for decryption")
	ErrAmbiguousKey = errors.New("id resolved to more than one key")
)

// Provider is the Crypto Façade contract (§4.D): a backend that can find
// keys, encrypt and decrypt streams, and export/import/sign keys. Any
// backend offering equivalent semantics satisfies it; NativeGPG and CLIGPG
// are the two shipped implementations, composed by Fallback.
type Provider interface {
	// FindKeys resolves id (fingerprint, key id, or user-id substring) to
	// every matching key in the keyring. Zero matches is not an error here;
	// callers (the Recipients Registry) decide how to report that.
	FindKeys(id string) ([]Key, error)

	// Encrypt writes an OpenPGP message encrypted to recipients (a list of
	// key ids understood by FindKeys) to dst, reading plaintext from src.
	Encrypt(recipients []string, src io.Reader, dst io.Writer) error

	// Decrypt writes the plaintext of the OpenPGP message read from src to
	// dst, using whichever secret key in the keyring applies.
	Decrypt(src io.Reader, dst io.Writer) error

	// ExportKey returns the armored public key material for key, including
	// any signatures the backend holds on it.
	ExportKey(key Key) ([]byte, error)

	// ImportKeys adopts armored key material (public or, for the CLI
	// backend, secret) into the keyring and returns what was imported.
	ImportKeys(armored []byte) ([]Key, error)

	// SignKey certifies target with signingKey, adopting the signature into
	// the keyring.
	SignKey(signingKey, target Key) error

	// SecretKeys returns every key this backend holds a private key for.
	SecretKeys() ([]Key, error)
}

var defaultProvider Provider

// Default returns the process-wide provider, constructing the native
// backend with a CLI fallback on first use.
func Default() Provider {
	if defaultProvider == nil {
		defaultProvider = Fallback(NewNativeGPG(), NewCLIGPG())
	}
	return defaultProvider
}

// SetDefault overrides the process-wide provider; tests use this to inject
// a fake.
func SetDefault(p Provider) {
	defaultProvider = p
}

// fallbackProvider tries primary first and falls through to fallback only
// when primary reports it has no answer, mirroring the teacher's
// native-then-CLI composition.
type fallbackProvider struct {
	primary  Provider
	fallback Provider
}

// Fallback composes primary and fallback into a single Provider.
func Fallback(primary, fallback Provider) Provider {
	return &fallbackProvider{primary: primary, fallback: fallback}
}

func (f *fallbackProvider) FindKeys(id string) ([]Key, error) {
	keys, err := f.primary.FindKeys(id)
	if err == nil && len(keys) > 0 {
		return keys, nil
	}
	fbKeys, fbErr := f.fallback.FindKeys(id)
	if fbErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fbErr
	}
	return fbKeys, nil
}

func (f *fallbackProvider) Encrypt(recipients []string, src io.Reader, dst io.Writer) error {
	input, err := io.ReadAll(src)
	if err != nil {
		return errors.Wrap(err, "failed to read plaintext")
	}
	var buf writeBuffer
	if err := f.primary.Encrypt(recipients, bytes.NewReader(input), &buf); err == nil {
		_, werr := dst.Write(buf.Bytes())
		return werr
	}
	return f.fallback.Encrypt(recipients, bytes.NewReader(input), dst)
}

func (f *fallbackProvider) Decrypt(src io.Reader, dst io.Writer) error {
	input, err := io.ReadAll(src)
	if err != nil {
		return errors.Wrap(err, "failed to read ciphertext")
	}
	var buf writeBuffer
	if err := f.primary.Decrypt(bytes.NewReader(input), &buf); err == nil {
		_, werr := dst.Write(buf.Bytes())
		return werr
	}
	return f.fallback.Decrypt(bytes.NewReader(input), dst)
}

func (f *fallbackProvider) ExportKey(key Key) ([]byte, error) {
	out, err := f.primary.ExportKey(key)
	if err == nil {
		return out, nil
	}
	return f.fallback.ExportKey(key)
}

func (f *fallbackProvider) ImportKeys(armored []byte) ([]Key, error) {
	keys, err := f.primary.ImportKeys(armored)
	if err == nil {
		return keys, nil
	}
	return f.fallback.ImportKeys(armored)
}

func (f *fallbackProvider) SignKey(signingKey, target Key) error {
	if err := f.primary.SignKey(signingKey, target); err == nil {
		return nil
	}
	return f.fallback.SignKey(signingKey, target)
}

func (f *fallbackProvider) SecretKeys() ([]Key, error) {
	keys, err := f.primary.SecretKeys()
	if err == nil && len(keys) > 0 {
		return keys, nil
	}
	return f.fallback.SecretKeys()
}

// writeBuffer is a tiny io.Writer sink so Encrypt/Decrypt can be retried
// against the fallback without partially writing to dst first.
type writeBuffer struct {
	data []byte
}

func (b *writeBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *writeBuffer) Bytes() []byte {
	return b.data
}
