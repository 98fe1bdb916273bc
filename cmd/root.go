// Package cmd wires the Cobra command tree for syvault: driver glue only,
// calling straight into internal/vaultconfig, internal/resource,
// internal/recipient, and internal/merge. Command output goes to
// cmd.OutOrStdout(); operational diagnostics go through vaultlog.
package cmd

import (
	"fmt"

	"github.com/cychiuae/syvault/internal/crypto"
	"github.com/cychiuae/syvault/internal/prefs"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/spf13/cobra"
)

const defaultConfigFile = "./sy-vault.yml"

var (
	Version   = "development"
	BuildTime = "unknown"
)

var (
	selectFlag     string
	configFileFlag string
)

var rootCmd = &cobra.Command{
	Use:   "syvault",
	Short: "A recipient-keyed secrets vault",
	Long: `syvault stores sensitive files encrypted for a set of recipients
identified by public keys in an OpenPGP keyring. It organizes storage into
a leader vault plus zero-or-more partitions, each with an independent
recipients list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	prefsVal, _ := prefs.Load()

	defaultSelect := "0"
	if prefsVal.Select != "" {
		defaultSelect = prefsVal.Select
	}
	defaultConfig := defaultConfigFile
	if prefsVal.ConfigFile != "" {
		defaultConfig = prefsVal.ConfigFile
	}

	rootCmd.PersistentFlags().StringVarP(&selectFlag, "select", "s", defaultSelect, "Vault selector (index or name)")
	rootCmd.PersistentFlags().StringVarP(&configFileFlag, "config-file", "c", defaultConfig, "Path to the vault configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(completionsCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "syvault version %s (built %s)\n", Version, BuildTime)
	},
}

// leaderVault loads configFileFlag and selects the vault named by
// selectFlag, returning the resulting leader-with-partitions tree.
func leaderVault() (*vaultconfig.Vault, error) {
	vaults, err := vaultconfig.Load(configFileFlag)
	if err != nil {
		return nil, err
	}
	return vaultconfig.Select(vaults, selectFlag)
}

// allVaults flattens leader plus its partitions, leader first, in
// declaration order — the order the Recipient Engine's sweep processes them.
func allVaults(leader *vaultconfig.Vault) []*vaultconfig.Vault {
	all := make([]*vaultconfig.Vault, 0, len(leader.Partitions)+1)
	all = append(all, leader)
	all = append(all, leader.Partitions...)
	return all
}

func provider() crypto.Provider {
	return crypto.Default()
}
