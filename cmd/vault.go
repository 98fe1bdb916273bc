package cmd

import (
	"fmt"
	"os"

	"github.com/cychiuae/syvault/internal/pathutil"
	"github.com/cychiuae/syvault/internal/recipient"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	initName       string
	initSecrets    string
	initRecipients string
	initGPGKeys    string
	initIDs        []string
)

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultInitCmd)

	// secrets-dir has no shorthand: -s is already the global --select flag.
	vaultInitCmd.Flags().StringVarP(&initName, "name", "n", "", "Human-readable vault name")
	vaultInitCmd.Flags().StringVar(&initSecrets, "secrets-dir", "", "Secrets directory (default: .)")
	vaultInitCmd.Flags().StringVarP(&initRecipients, "recipients-file", "r", "", "Recipients file (default: .gpg-id)")
	vaultInitCmd.Flags().StringVarP(&initGPGKeys, "gpg-keys-dir", "k", "", "Directory to export recipient public keys into")
	vaultInitCmd.Flags().StringSliceVarP(&initIDs, "gpg-key-id", "i", nil, "Recipient id(s) (fingerprint, key id, or user-id); default: the sole secret key in the backend")
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage a recipient-keyed secrets vault",
}

var vaultInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new vault configuration and bootstrap its recipients",
	Long: `init writes a new leader vault configuration at --config-file and
bootstraps its recipients file. With no --gpg-key-id, the sole secret key
available in the backend is used; it is an error if there are zero or more
than one.`,
	Args: cobra.NoArgs,
	RunE: runVaultInit,
}

func runVaultInit(cmd *cobra.Command, args []string) error {
	v := vaultconfig.New()
	v.Name = initName
	if initSecrets != "" {
		v.Secrets = initSecrets
	}
	if initRecipients != "" {
		v.Recipients = initRecipients
	}
	v.GPGKeys = initGPGKeys

	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "failed to determine working directory")
	}
	v.ResolvedAt = pathutil.Normalize(wd)

	if err := vaultconfig.Save(v, configFileFlag, vaultconfig.RefuseOverwrite); err != nil {
		return err
	}

	if err := recipient.Init(v, provider(), initIDs); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", v.URL())
	return nil
}
