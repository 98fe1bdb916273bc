package prefs

import (
	"os"
	"path/filepath"
	"testing"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()

	p, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Preferences{}, p)
}

func TestLoadParsesKnownKeys(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()

	content := "editor = nano\nconfig_file = ./custom-vault.yml\nselect = prod\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, fileName), []byte(content), 0600))

	p, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "nano", p.Editor)
	assert.Equal(t, "./custom-vault.yml", p.ConfigFile)
	assert.Equal(t, "prod", p.Select)
}
