package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/cychiuae/syvault/internal/pathutil"
	"github.com/cychiuae/syvault/internal/recipient"
	"github.com/cychiuae/syvault/internal/vaultconfig"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var partitionName string

func init() {
	vaultCmd.AddCommand(partitionsCmd)
	partitionsCmd.AddCommand(partitionsAddCmd)
	partitionsCmd.AddCommand(partitionsRemoveCmd)

	partitionsAddCmd.Flags().StringVarP(&partitionName, "name", "n", "", "Human-readable name for the new partition")
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "Manage the vault's partitions",
	Long: `A partition is a sibling vault sharing this configuration file whose
secrets directory is disjoint from the leader's and from every other
partition's, with its own independent recipients list.`,
}

var partitionsAddCmd = &cobra.Command{
	Use:   "add <partition-path>",
	Short: "Add a new partition rooted at partition-path",
	Args:  cobra.ExactArgs(1),
	RunE:  runPartitionsAdd,
}

var partitionsRemoveCmd = &cobra.Command{
	Use:   "remove <partition-selector>",
	Short: "Remove a partition, selectable by directory, name, or index",
	Args:  cobra.ExactArgs(1),
	RunE:  runPartitionsRemove,
}

func runPartitionsAdd(cmd *cobra.Command, args []string) error {
	leader, err := leaderVault()
	if err != nil {
		return err
	}

	path := pathutil.Normalize(args[0])
	partition := &vaultconfig.Vault{
		Kind:       vaultconfig.KindPartition,
		Name:       partitionName,
		Secrets:    path,
		Recipients: filepath.Join(path, ".gpg-id"),
		ResolvedAt: leader.ResolvedAt,
		VaultPath:  leader.VaultPath,
	}
	leader.Partitions = append(leader.Partitions, partition)

	if err := vaultconfig.Save(leader, configFileFlag, vaultconfig.Overwrite); err != nil {
		return err
	}

	if err := recipient.Init(partition, provider(), nil); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Added partition %s\n", partition.URL())
	return nil
}

func runPartitionsRemove(cmd *cobra.Command, args []string) error {
	leader, err := leaderVault()
	if err != nil {
		return err
	}

	idx, err := selectPartition(leader, args[0])
	if err != nil {
		return err
	}
	removed := leader.Partitions[idx]
	leader.Partitions = append(leader.Partitions[:idx], leader.Partitions[idx+1:]...)

	if err := vaultconfig.Save(leader, configFileFlag, vaultconfig.Overwrite); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed partition %s\n", removed.URL())
	return nil
}

// selectPartition resolves selector against leader's partitions by index,
// name, or secrets directory, mirroring vaultconfig.Select's selector
// semantics at the partition-subset level.
func selectPartition(leader *vaultconfig.Vault, selector string) (int, error) {
	if idx, err := strconv.Atoi(selector); err == nil && idx >= 0 {
		if idx >= len(leader.Partitions) {
			return 0, errors.Errorf("Partition index %d is out of bounds.", idx)
		}
		return idx, nil
	}

	normalized := pathutil.Normalize(selector)
	for i, p := range leader.Partitions {
		if p.Name == selector || p.Secrets == normalized || p.SecretsPath() == leader.AbsolutePath(normalized) {
			return i, nil
		}
	}
	return 0, errors.Errorf("Partition '%s' is unknown.", selector)
}
