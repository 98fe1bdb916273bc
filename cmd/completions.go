package cmd

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var completionsCmd = &cobra.Command{
	Use:       "completions [bash|zsh|fish|powershell]",
	Short:     "Generate a shell-completion script",
	Long:      `With no argument, the shell named by $SHELL is used.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE:      runCompletions,
}

func runCompletions(cmd *cobra.Command, args []string) error {
	shell := ""
	if len(args) == 1 {
		shell = args[0]
	} else {
		shell = shellNameFromPath(os.Getenv("SHELL"))
	}

	out := cmd.OutOrStdout()
	switch shell {
	case "bash":
		return rootCmd.GenBashCompletion(out)
	case "zsh":
		return rootCmd.GenZshCompletion(out)
	case "fish":
		return rootCmd.GenFishCompletion(out, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(out)
	default:
		return errors.Errorf("cannot determine shell for completion generation; pass bash, zsh, fish, or powershell explicitly")
	}
}

// shellNameFromPath extracts "bash" out of "/bin/bash", etc.
func shellNameFromPath(path string) string {
	if path == "" {
		return ""
	}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
