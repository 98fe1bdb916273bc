// Package resource implements the Resource Engine (§4.E): listing, showing,
// adding, editing, and removing the encrypted `.gpg` resources under a
// vault's secrets directory.
package resource

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/pathutil"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/cychiuae/syvault/internal/vaultlog"
	"github.com/pkg/errors"
	"golang.org/x/term"
)

const gpgSuffix = ".gpg"

// RecipientKeys returns the key ids listed in v's recipients file, one per
// non-blank line; they are not looked up in a keyring here. It fails when
// the file lists no ids. The Resource Engine never caches this
// set: it is recomputed at the start of every operation (§4.E).
func RecipientKeys(v *vaultconfig.Vault) ([]string, error) {
	data, err := os.ReadFile(v.RecipientsPath())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read recipients file at '%s'", v.RecipientsPath())
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}
	if len(ids) == 0 {
		return nil, errors.Errorf("No recipients found in recipients file at '%s'.", v.RecipientsPath())
	}
	return ids, nil
}

// List writes url(v) followed by every "**/*.gpg" resource under
// secrets_path(v), in sorted order, with the .gpg suffix stripped (§4.E).
func List(v *vaultconfig.Vault, w io.Writer) error {
	if _, err := fmt.Fprintln(w, v.URL()); err != nil {
		return err
	}

	paths, err := Glob(v.SecretsPath())
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := fmt.Fprintln(w, strings.TrimSuffix(p, gpgSuffix)); err != nil {
			return err
		}
	}
	return nil
}

// Glob walks root and returns every *.gpg file's path relative to root, in
// sorted order. Resolved by hand with filepath.WalkDir: no corpus library
// offers a "**" recursive glob, and WalkDir with a suffix check is the
// idiomatic stdlib substitute.
func Glob(root string) ([]string, error) {
	var matches []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == root {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, gpgSuffix) {
			rel, relErr := filepath.Rel(root, p)
			if relErr != nil {
				return relErr
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list resources under '%s'", root)
	}
	sort.Strings(matches)
	return matches, nil
}

// resolvePath locates path, path+".gpg", and their absolute-vs-secrets
// variants, returning the first that exists as a regular file.
func resolvePath(v *vaultconfig.Vault, path string) (string, error) {
	path = pathutil.Normalize(path)

	candidates := []string{
		v.AbsolutePath(path),
		v.AbsolutePath(path + gpgSuffix),
	}
	if filepath.IsAbs(path) {
		candidates = append(candidates, path, path+gpgSuffix)
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", errors.Errorf("resource '%s' does not exist under '%s'", path, v.SecretsPath())
}

// Show decrypts the resource at path to w.
func Show(v *vaultconfig.Vault, provider crypto.Provider, path string, w io.Writer) error {
	resolved, err := resolvePath(v, path)
	if err != nil {
		return err
	}

	f, err := os.Open(resolved)
	if err != nil {
		return errors.Wrapf(err, "failed to open '%s'", resolved)
	}
	defer f.Close()

	if err := provider.Decrypt(f, w); err != nil {
		return errors.Wrapf(err, "failed to decrypt '%s'", resolved)
	}
	return nil
}

// Spec parses an add-spec of the form "<src>:<dst>" or "<src>" (shorthand
// for "<src>:<src>").
func Spec(raw string) (src, dst string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, raw
}

// EditorCommand resolves the editor to launch, defaulting to $EDITOR, then
// $VISUAL, then "vim" (§4.E).
func EditorCommand() string {
	if e := os.Getenv("EDITOR"); e != "" {
		return e
	}
	if e := os.Getenv("VISUAL"); e != "" {
		return e
	}
	return "vim"
}

// Add reads spec's source (a path, or standard input when src is empty,
// invoking the editor first if stdin is a TTY), encrypts it to v's current
// recipients, and writes <dst>.gpg. It fails if the destination already
// exists.
func Add(v *vaultconfig.Vault, provider crypto.Provider, spec string, stdin io.Reader) error {
	src, dst := Spec(spec)

	dstPath := v.AbsolutePath(pathutil.Normalize(dst)) + gpgSuffix
	if _, err := os.Stat(dstPath); err == nil {
		return errors.Errorf("resource '%s' already exists", dst)
	}

	var content []byte
	var err error
	if src == "" {
		content, err = readFromStdinOrEditor(stdin)
	} else {
		srcPath := v.AbsolutePath(pathutil.Normalize(src))
		content, err = os.ReadFile(srcPath)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read source content")
	}

	ids, err := RecipientKeys(v)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create parent directories for '%s'", dstPath)
	}

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to create '%s'", dstPath)
	}
	defer f.Close()

	if err := provider.Encrypt(ids, bytes.NewReader(content), f); err != nil {
		return errors.Wrapf(err, "failed to encrypt '%s'", dstPath)
	}

	vaultlog.Log().WithField("resource", dst).Debug("resource added")
	return nil
}

func readFromStdinOrEditor(stdin io.Reader) ([]byte, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return editEmptyTempFile()
	}
	return io.ReadAll(stdin)
}

func editEmptyTempFile() ([]byte, error) {
	tmp, err := os.CreateTemp("", "syvault-add-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create temporary file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := runEditor(tmpPath); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpPath)
}

func runEditor(path string) error {
	editor := EditorCommand()
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return errors.New("no editor configured")
	}
	args := append(append([]string{}, parts[1:]...), path)
	c := exec.Command(parts[0], args...)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	return errors.Wrap(c.Run(), "editor exited with an error")
}

// EditOptions controls Edit's pre-flight checks (§4.E).
type EditOptions struct {
	NoTryEncrypt bool
	NoCreate     bool
}

// Edit decrypts path to a temp file, spawns the editor, re-encrypts from
// the edited content, then removes the temp file.
func Edit(v *vaultconfig.Vault, provider crypto.Provider, path string, opts EditOptions) error {
	path = pathutil.Normalize(path)
	dstPath := v.AbsolutePath(path) + gpgSuffix

	var decrypted []byte
	resolved, resolveErr := resolvePath(v, path)
	exists := resolveErr == nil

	if !exists && opts.NoCreate {
		return errors.Errorf("resource '%s' does not exist and --no-create was given", path)
	}

	ids, err := RecipientKeys(v)
	if err != nil {
		return err
	}

	if !opts.NoTryEncrypt {
		var discard bytes.Buffer
		if err := provider.Encrypt(ids, bytes.NewReader(nil), &discard); err != nil {
			return errors.Wrap(err, "recipient set cannot be used to encrypt")
		}
	}

	if exists {
		f, err := os.Open(resolved)
		if err != nil {
			return errors.Wrapf(err, "failed to open '%s'", resolved)
		}
		var buf bytes.Buffer
		decErr := provider.Decrypt(f, &buf)
		f.Close()
		if decErr != nil {
			return errors.Wrapf(decErr, "failed to decrypt '%s'", resolved)
		}
		decrypted = buf.Bytes()
	}

	tmpDir, err := os.MkdirTemp("", "syvault-edit-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp directory")
	}
	defer os.RemoveAll(tmpDir)
	if err := os.Chmod(tmpDir, 0700); err != nil {
		return errors.Wrap(err, "failed to set temp directory permissions")
	}

	tmpFile := filepath.Join(tmpDir, filepath.Base(path))
	if err := os.WriteFile(tmpFile, decrypted, 0600); err != nil {
		return errors.Wrap(err, "failed to write temp file")
	}

	if err := runEditor(tmpFile); err != nil {
		return err
	}

	edited, err := os.ReadFile(tmpFile)
	if err != nil {
		return errors.Wrap(err, "failed to read edited content")
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create parent directories for '%s'", dstPath)
	}

	out, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open '%s' for writing", dstPath)
	}
	defer out.Close()

	if err := provider.Encrypt(ids, bytes.NewReader(edited), out); err != nil {
		return errors.Wrapf(err, "failed to encrypt '%s'", dstPath)
	}

	vaultlog.Log().WithField("resource", path).Debug("resource edited")
	return nil
}

// Remove deletes each resolved .gpg file. A missing path is a fatal error
// for that path, but remaining paths are still attempted; Remove returns
// the combined error, if any.
func Remove(v *vaultconfig.Vault, paths []string) error {
	var failures []string
	for _, p := range paths {
		resolved, err := resolvePath(v, p)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		if err := os.Remove(resolved); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", p, err))
		}
	}
	if len(failures) > 0 {
		return errors.Errorf("failed to remove %d resource(s):\n%s", len(failures), strings.Join(failures, "\n"))
	}
	return nil
}
