// Package prefs reads the optional user-level preferences file
// ~/.syvault.ini, providing fallback defaults for the global CLI flags
// (config file path, vault selector, editor) before the hard-coded
// defaults apply.
package prefs

import (
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const fileName = ".syvault.ini"

// Preferences holds the user-level defaults. Zero values mean "unset".
type Preferences struct {
	Editor     string
	ConfigFile string
	Select     string
}

// Load reads ~/.syvault.ini. A missing file is not an error; it yields an
// empty Preferences so callers fall through to hard-coded defaults.
func Load() (Preferences, error) {
	path, err := homedir.Expand("~/" + fileName)
	if err != nil {
		return Preferences{}, errors.Wrap(err, "failed to resolve home directory")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Preferences{}, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return Preferences{}, errors.Wrapf(err, "failed to parse preferences file at '%s'", path)
	}

	section := cfg.Section("")
	return Preferences{
		Editor:     section.Key("editor").String(),
		ConfigFile: section.Key("config_file").String(),
		Select:     section.Key("select").String(),
	}, nil
}
