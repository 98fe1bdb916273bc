// Package vaultconfig owns the in-memory vault configuration tree: the
// leader/partition layout, its on-disk YAML representation, and the
// structural invariants that must hold after every mutation (§3, §4.B).
package vaultconfig

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cychiuae/syvault/internal/pathutil"
	"github.com/cychiuae/syvault/internal/vaultlog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind distinguishes the leader vault of the current command from its
// partitions. Only the Leader arm carries meaningful data (Index); this is
// modeled as a sum type rather than an interface hierarchy per §9.
type Kind int

const (
	KindLeader Kind = iota
	KindPartition
)

func (k Kind) String() string {
	if k == KindLeader {
		return "Leader"
	}
	return "Partition"
}

const (
	defaultSecrets    = "."
	defaultRecipients = ".gpg-id"
)

// Vault is a single leader or partition entry. Fields tagged yaml:"-" are
// never persisted; they are populated by Load/Select at runtime.
type Vault struct {
	Name       string `yaml:"name,omitempty"`
	Secrets    string `yaml:"secrets"`
	GPGKeys    string `yaml:"gpg_keys,omitempty"`
	Recipients string `yaml:"recipients"`

	Kind       Kind     `yaml:"-"`
	Index      int      `yaml:"-"`
	Partitions []*Vault `yaml:"-"`
	ResolvedAt string   `yaml:"-"`
	VaultPath  string   `yaml:"-"`
}

// rawVault mirrors Vault's persisted fields only, used to reject unknown
// keys and to apply field defaults that yaml.v3 doesn't apply on its own.
type rawVault struct {
	Name       string `yaml:"name"`
	Secrets    string `yaml:"secrets"`
	GPGKeys    string `yaml:"gpg_keys"`
	Recipients string `yaml:"recipients"`
}

var vaultFieldNames = map[string]bool{
	"name": true, "secrets": true, "gpg_keys": true, "recipients": true,
}

// UnmarshalYAML applies the §3 field defaults (secrets ".", recipients
// ".gpg-id") and rejects unknown keys. node.Decode alone doesn't honor a
// surrounding Decoder's KnownFields setting, so unknown keys are rejected
// here by hand against the document's mapping keys.
func (v *Vault) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.New("a configuration document must be a YAML mapping")
	}
	for i := 0; i < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !vaultFieldNames[key] {
			return errors.Errorf("unknown configuration key '%s'", key)
		}
	}

	var decoded rawVault
	if err := node.Decode(&decoded); err != nil {
		return err
	}

	v.Name = decoded.Name
	v.Secrets = decoded.Secrets
	if v.Secrets == "" {
		v.Secrets = defaultSecrets
	}
	v.GPGKeys = decoded.GPGKeys
	v.Recipients = decoded.Recipients
	if v.Recipients == "" {
		v.Recipients = defaultRecipients
	}
	return nil
}

// MarshalYAML emits only the persisted fields, in field-declaration order.
func (v Vault) MarshalYAML() (interface{}, error) {
	return rawVault{
		Name:       v.Name,
		Secrets:    v.Secrets,
		GPGKeys:    v.GPGKeys,
		Recipients: v.Recipients,
	}, nil
}

// New returns a Vault with §3 defaults applied and no partitions.
func New() *Vault {
	return &Vault{
		Kind:       KindLeader,
		Secrets:    defaultSecrets,
		Recipients: defaultRecipients,
	}
}

// AbsolutePath resolves p against v's resolved-at anchor (§4.A).
func (v *Vault) AbsolutePath(p string) string {
	return pathutil.AbsolutePath(v.ResolvedAt, p)
}

// SecretsPath is the normalized absolute path of v's secrets directory.
func (v *Vault) SecretsPath() string {
	return pathutil.Normalize(v.AbsolutePath(v.Secrets))
}

// RecipientsPath is the normalized absolute path of v's recipients file.
func (v *Vault) RecipientsPath() string {
	return v.AbsolutePath(v.Recipients)
}

// GPGKeysPath is the normalized absolute path of v's gpg_keys directory, or
// "", false if unconfigured.
func (v *Vault) GPGKeysPath() (string, bool) {
	if v.GPGKeys == "" {
		return "", false
	}
	return v.AbsolutePath(v.GPGKeys), true
}

// URL renders the syv:// form (§4.B, §6).
func (v *Vault) URL() string {
	if v.Name != "" {
		return fmt.Sprintf("syv://%s@%s", v.Name, v.SecretsPath())
	}
	return fmt.Sprintf("syv://%s", v.SecretsPath())
}

// Load reads the multi-document YAML file at path (or stdin if path == "-"),
// sets resolved_at/vault_path on every document, and validates the first
// document (the leader candidate) per §4.B.
func Load(path string) ([]*Vault, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open configuration file at '%s' for reading", path)
		}
		defer f.Close()
		r = f
	}

	var anchor string
	if path == "-" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrap(err, "failed to determine working directory for stdin-loaded configuration")
		}
		anchor = pathutil.Normalize(wd)
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve absolute path of '%s'", path)
		}
		anchor = pathutil.Normalize(filepath.Dir(abs))
	}

	vaults, err := decodeDocuments(r, path)
	if err != nil {
		return nil, err
	}

	for _, v := range vaults {
		v.ResolvedAt = anchor
		if path != "-" {
			v.VaultPath = path
		}
	}

	if len(vaults) > 0 {
		if err := vaults[0].Validate(vaults); err != nil {
			return nil, err
		}
	}

	vaultlog.Log().WithField("path", path).WithField("documents", len(vaults)).Debug("configuration loaded")
	return vaults, nil
}

func decodeDocuments(r io.Reader, path string) ([]*Vault, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var vaults []*Vault
	for {
		v := &Vault{}
		err := dec.Decode(v)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to deserialize configuration document in '%s'", path)
		}
		vaults = append(vaults, v)
	}
	return vaults, nil
}

// Select re-homes the flat document list into a leader-with-partitions tree
// (§4.B, §9). The selector is a non-negative decimal index or a name.
func Select(vaults []*Vault, selector string) (*Vault, error) {
	var index int
	var leader *Vault

	if idx, err := strconv.Atoi(selector); err == nil && idx >= 0 {
		if idx >= len(vaults) {
			return nil, errors.Errorf("Vault index %d is out of bounds.", idx)
		}
		index = idx
		leader = vaults[idx]
	} else {
		found := -1
		for i, v := range vaults {
			if v.Name == selector {
				found = i
				break
			}
		}
		if found == -1 {
			return nil, errors.Errorf("Vault name '%s' is unknown.", selector)
		}
		index = found
		leader = vaults[found]
	}

	result := *leader
	result.Kind = KindLeader
	result.Index = index
	result.Partitions = nil

	for i, v := range vaults {
		if i == index {
			continue
		}
		partition := *v
		partition.Kind = KindPartition
		partition.Index = 0
		partition.Partitions = nil
		result.Partitions = append(result.Partitions, &partition)
	}

	return &result, nil
}

// WriteMode controls whether Save may overwrite an existing file.
type WriteMode int

const (
	Overwrite WriteMode = iota
	RefuseOverwrite
)

// ErrConfigurationFileExists is returned by Save under RefuseOverwrite when
// the target file already exists.
var ErrConfigurationFileExists = errors.New("configuration file already exists")

// ErrPartitionUnsupported is returned by Save when called on a vault whose
// Kind is Partition.
var ErrPartitionUnsupported = errors.New("a partition cannot be saved as a standalone configuration file")

// Save writes v (a leader, with its Partitions) to path in the canonical
// on-disk order (§4.B): the leader is inserted into the partition sequence
// at its declared Index.
func Save(v *Vault, path string, mode WriteMode) error {
	if v.Kind == KindPartition {
		return ErrPartitionUnsupported
	}

	if mode == RefuseOverwrite {
		if _, err := os.Stat(path); err == nil {
			return ErrConfigurationFileExists
		}
	}

	if err := v.Validate(allVaults(v)); err != nil {
		return err
	}

	var buf bytes.Buffer
	ordered := canonicalOrder(v)
	for _, doc := range ordered {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return errors.Wrapf(err, "failed to serialize configuration document for '%s'", path)
		}
		enc.Close()
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return errors.Wrapf(err, "failed to write configuration file at '%s'", path)
	}

	vaultlog.Log().WithField("path", path).WithField("documents", len(ordered)).Debug("configuration saved")
	return nil
}

func canonicalOrder(v *Vault) []*Vault {
	n := len(v.Partitions)
	ordered := make([]*Vault, 0, n+1)
	for i := 0; i <= n; i++ {
		if i == v.Index {
			ordered = append(ordered, v)
		}
		if i < n {
			ordered = append(ordered, v.Partitions[i])
		}
	}
	return ordered
}

func allVaults(v *Vault) []*Vault {
	all := make([]*Vault, 0, len(v.Partitions)+1)
	all = append(all, v)
	all = append(all, v.Partitions...)
	return all
}

// Validate enforces §3 invariants 1-2: no two documents' secrets paths are
// in a prefix relation, and no two documents share a recipients path.
func (v *Vault) Validate(all []*Vault) error {
	if len(all) <= 1 {
		return nil
	}

	type pathEntry struct {
		vault *Vault
		path  string
	}

	secretsPaths := make([]pathEntry, 0, len(all))
	for _, entry := range all {
		secretsPaths = append(secretsPaths, pathEntry{entry, entry.SecretsPath()})
	}

	for i, a := range secretsPaths {
		for j, b := range secretsPaths {
			if i == j {
				continue
			}
			if isPrefix(a.path, b.path) {
				return errors.Errorf(
					"Partition at '%s' overlaps with another vault's secrets directory at '%s'",
					b.path, a.path,
				)
			}
		}
	}

	seen := make(map[string]bool, len(all))
	for _, entry := range all {
		rp := entry.RecipientsPath()
		if seen[rp] {
			return errors.Errorf(
				"Recipients path '%s' is already used, but must be unique across all partitions", rp,
			)
		}
		seen[rp] = true
	}

	return nil
}

// isPrefix reports whether child is contained in or equal to parent, treated
// as directory paths (so "data" is a prefix of "data/p1" but not "datax").
func isPrefix(parent, child string) bool {
	parent = strings.TrimSuffix(parent, string(filepath.Separator))
	if parent == child {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}
