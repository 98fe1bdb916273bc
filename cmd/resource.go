package cmd

import (
	"os"

	"github.com/cychiuae/syvault/internal/prefs"
	"github.com/cychiuae/syvault/internal/resource"
	"github.com/spf13/cobra"
)

var (
	editNoTryEncrypt bool
	editNoCreate     bool
	editEditor       string
)

func init() {
	vaultCmd.AddCommand(resourceListCmd)
	vaultCmd.AddCommand(resourceAddCmd)
	vaultCmd.AddCommand(resourceRemoveCmd)
	vaultCmd.AddCommand(resourceShowCmd)
	vaultCmd.AddCommand(resourceEditCmd)

	prefsVal, _ := prefs.Load()

	resourceEditCmd.Flags().BoolVar(&editNoTryEncrypt, "no-try-encrypt", false, "Skip the pre-flight dry-run encryption check")
	resourceEditCmd.Flags().BoolVar(&editNoCreate, "no-create", false, "Fail instead of creating the resource if it does not exist")
	resourceEditCmd.Flags().StringVarP(&editEditor, "editor", "e", prefsVal.Editor, "Editor command to invoke (default: ~/.syvault.ini's editor, then $EDITOR, then $VISUAL, then vim)")
}

var resourceListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List the resources stored in the vault",
	Args:    cobra.NoArgs,
	RunE:    runResourceList,
}

var resourceAddCmd = &cobra.Command{
	Use:     "add <src>:<dst> | <path>",
	Aliases: []string{"insert"},
	Short:   "Add a resource, encrypting it to the vault's current recipients",
	Long: `add's argument is "<src>:<dst>", or a bare "<path>" as shorthand for
"<path>:<path>". An empty <src> reads from standard input, invoking the
editor first if that stream is a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runResourceAdd,
}

var resourceRemoveCmd = &cobra.Command{
	Use:     "remove <path...>",
	Aliases: []string{"delete"},
	Short:   "Remove one or more resources",
	Args:    cobra.MinimumNArgs(1),
	RunE:    runResourceRemove,
}

var resourceShowCmd = &cobra.Command{
	Use:   "show <path>",
	Short: "Decrypt and print a resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceShow,
}

var resourceEditCmd = &cobra.Command{
	Use:   "edit <path>",
	Short: "Decrypt a resource, open it in an editor, and re-encrypt it",
	Args:  cobra.ExactArgs(1),
	RunE:  runResourceEdit,
}

func runResourceList(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return resource.List(v, cmd.OutOrStdout())
}

func runResourceAdd(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return resource.Add(v, provider(), args[0], cmd.InOrStdin())
}

func runResourceRemove(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return resource.Remove(v, args)
}

func runResourceShow(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	return resource.Show(v, provider(), args[0], cmd.OutOrStdout())
}

func runResourceEdit(cmd *cobra.Command, args []string) error {
	v, err := leaderVault()
	if err != nil {
		return err
	}
	if editEditor != "" {
		os.Setenv("EDITOR", editEditor)
	}
	return resource.Edit(v, provider(), args[0], resource.EditOptions{
		NoTryEncrypt: editNoTryEncrypt,
		NoCreate:     editNoCreate,
	})
}
