package cmd

import (
	"github.com/cychiuae/syvault/internal/merge"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	mergeModeFlag   string
	mergeOutputFlag string
)

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringVar(&mergeModeFlag, "mode", "never-drop", "Clash policy: never-drop or overwrite")
	mergeCmd.Flags().StringVar(&mergeOutputFlag, "output", "json", "Output format: json or yaml")
}

var mergeCmd = &cobra.Command{
	Use:   "merge <path...>",
	Short: "Deep-merge JSON/YAML documents and print the result",
	Long: `Each path is read in order and merged into the accumulated
document (auto-detecting JSON vs YAML; a multi-document YAML file
contributes its documents in order). Use "-" for standard input. Under
--mode never-drop, any key whose value would be overwritten by a differing
incoming value fails the merge; under --mode overwrite, the later value
wins.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	mode, err := parseMergeMode(mergeModeFlag)
	if err != nil {
		return err
	}
	output, err := parseOutputMode(mergeOutputFlag)
	if err != nil {
		return err
	}

	cmds := []merge.Command{merge.SetMergeMode(mode), merge.SetOutputMode(output)}
	for _, path := range args {
		if path == "-" {
			cmds = append(cmds, merge.MergeStdin())
		} else {
			cmds = append(cmds, merge.MergePath(path))
		}
	}
	cmds = append(cmds, merge.Serialize())

	_, err = merge.Reduce(cmds, nil, cmd.InOrStdin(), cmd.OutOrStdout())
	return err
}

func parseMergeMode(s string) (merge.MergeMode, error) {
	switch s {
	case "never-drop":
		return merge.NeverDrop, nil
	case "overwrite":
		return merge.Overwrite, nil
	default:
		return 0, errors.Errorf("unknown merge mode '%s': expected never-drop or overwrite", s)
	}
}

func parseOutputMode(s string) (merge.OutputMode, error) {
	switch s {
	case "json":
		return merge.JSON, nil
	case "yaml":
		return merge.YAML, nil
	default:
		return 0, errors.Errorf("unknown output mode '%s': expected json or yaml", s)
	}
}
