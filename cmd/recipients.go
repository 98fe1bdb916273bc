package cmd

import (
	"github.com/cychiuae/syvault/internal/recipient"
	"github.com/spf13/cobra"
)

var (
	recipientsSigningKey string
	recipientsVerified   bool
)

func init() {
	vaultCmd.AddCommand(recipientsCmd)
	recipientsCmd.AddCommand(recipientsInitCmd)
	recipientsCmd.AddCommand(recipientsAddCmd)
	recipientsCmd.AddCommand(recipientsRemoveCmd)
	recipientsCmd.AddCommand(recipientsListCmd)

	recipientsAddCmd.Flags().StringVar(&recipientsSigningKey, "signing-key", "", "Key id to sign newly added recipients with (default: the sole secret key that is also a current recipient)")
	recipientsAddCmd.Flags().BoolVar(&recipientsVerified, "verified", false, "Skip the full-fingerprint requirement and signing step; the keys are assumed already trusted")
}

var recipientsCmd = &cobra.Command{
	Use:   "recipients",
	Short: "Manage the vault's recipients",
	Long: `Recipient ids are looked up in the keyring as a full fingerprint, a
key id, or a user-id substring. "add" accepts only full fingerprints
unless --verified is given.`,
}

var recipientsInitCmd = &cobra.Command{
	Use:   "init [id...]",
	Short: "Bootstrap the recipients file of a vault created without --gpg-key-id",
	Args:  cobra.ArbitraryArgs,
	RunE:  runRecipientsInit,
}

var recipientsAddCmd = &cobra.Command{
	Use:   "add <id...>",
	Short: "Add recipients and re-encrypt every resource under this vault and its partitions",
	Long: `Each id must be a full key fingerprint unless --verified is given.
Unless --verified, the key is signed with --signing-key (or the sole secret
key that is also a current recipient) before being trusted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecipientsAdd,
}

var recipientsRemoveCmd = &cobra.Command{
	Use:   "remove <id...>",
	Short: "Remove recipients and re-encrypt every resource under this vault",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecipientsRemove,
}

var recipientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the vault's recipients",
	Args:  cobra.NoArgs,
	RunE:  runRecipientsList,
}

func runRecipientsInit(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return recipient.Init(v, provider(), args)
}

func runRecipientsAdd(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return recipient.Add(allVaults(v), provider(), args, recipientsSigningKey, recipientsVerified)
}

func runRecipientsRemove(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return recipient.Remove(v, provider(), args)
}

func runRecipientsList(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return recipient.List(v, provider(), cmd.OutOrStdout())
}
