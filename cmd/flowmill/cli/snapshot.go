package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"flowmill/internal/snapshot"
)

// The snapshot subcommands operate on a partition's directories directly,
// without opening a store: opening would run recovery, which purges pending
// directories an operator may still want to look at.
func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and maintain a partition's snapshot directories",
	}
	cmd.PersistentFlags().String("data-dir", "", "data directory holding the partition subdirectories")
	cmd.PersistentFlags().Int("partition", 1, "partition id")
	_ = cmd.MarkPersistentFlagRequired("data-dir")

	cmd.AddCommand(newSnapshotInspectCmd(), newSnapshotVerifyCmd(), newSnapshotPurgePendingCmd())
	return cmd
}

func partitionRoot(cmd *cobra.Command) (string, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	partition, _ := cmd.Flags().GetInt("partition")
	if partition <= 0 {
		return "", fmt.Errorf("partition ids must be positive, got %d", partition)
	}
	root := filepath.Join(dataDir, strconv.Itoa(partition))
	if _, err := os.Stat(root); err != nil {
		return "", fmt.Errorf("partition root: %w", err)
	}
	return root, nil
}

func newSnapshotInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List the committed snapshot and any pending directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := partitionRoot(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			committed, err := listDirs(filepath.Join(root, "snapshots"))
			if err != nil {
				return err
			}
			if len(committed) == 0 {
				fmt.Fprintln(out, "committed: none")
			}
			for _, name := range committed {
				printSnapshotDir(out, filepath.Join(root, "snapshots"), name)
			}

			pending, err := listDirs(filepath.Join(root, "pending"))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "pending: %d\n", len(pending))
			for _, name := range pending {
				printSnapshotDir(out, filepath.Join(root, "pending"), name)
			}
			return nil
		},
	}
}

func printSnapshotDir(out io.Writer, parent, name string) {
	dir := filepath.Join(parent, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintf(out, "%s: unreadable: %v\n", name, err)
		return
	}
	var total int64
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	fmt.Fprintf(out, "%s: %d files, %d bytes\n", name, len(entries), total)
	for _, entry := range entries {
		fmt.Fprintf(out, "  %s\n", entry.Name())
	}
}

func newSnapshotVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the committed snapshot's checksum against its sidecar",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := partitionRoot(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			names, err := listDirs(filepath.Join(root, "snapshots"))
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return fmt.Errorf("no committed snapshot")
			}

			failed := false
			for _, name := range names {
				id, err := snapshot.ParseID(name)
				if err != nil {
					fmt.Fprintf(out, "%s: not a snapshot id\n", name)
					failed = true
					continue
				}
				dir := filepath.Join(root, "snapshots", name)
				stored, err := snapshot.ReadChecksumFile(filepath.Join(dir, snapshot.ChecksumFileName(id)))
				if err != nil {
					fmt.Fprintf(out, "%s: sidecar: %v\n", name, err)
					failed = true
					continue
				}
				actual, err := snapshot.CombinedChecksum(dir, snapshot.ChecksumFileName(id))
				if err != nil {
					return err
				}
				if actual != stored {
					fmt.Fprintf(out, "%s: MISMATCH stored=%d actual=%d\n", name, stored, actual)
					failed = true
					continue
				}
				fmt.Fprintf(out, "%s: ok (checksum %d)\n", name, actual)
			}
			if failed {
				return fmt.Errorf("verification failed")
			}
			return nil
		},
	}
}

func newSnapshotPurgePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-pending",
		Short: "Delete pending directories not belonging to the committed snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := partitionRoot(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			committed, err := listDirs(filepath.Join(root, "snapshots"))
			if err != nil {
				return err
			}
			var committedID *snapshot.ID
			for _, name := range committed {
				if id, err := snapshot.ParseID(name); err == nil {
					committedID = &id
					break
				}
			}

			pending, err := listDirs(filepath.Join(root, "pending"))
			if err != nil {
				return err
			}
			for _, name := range pending {
				if committedID != nil {
					if id, err := snapshot.ParseID(trimSequence(name)); err == nil && id.Compare(*committedID) == 0 {
						continue
					}
				}
				path := filepath.Join(root, "pending", name)
				if err := os.RemoveAll(path); err != nil {
					return fmt.Errorf("purge %s: %w", name, err)
				}
				fmt.Fprintf(out, "purged %s\n", name)
			}
			return nil
		},
	}
}

// trimSequence drops the trailing "-<seq>" of a pending directory name.
func trimSequence(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '-' {
			return name[:i]
		}
	}
	return name
}

func listDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
