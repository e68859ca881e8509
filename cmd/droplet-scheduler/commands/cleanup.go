package commands

import (
	"fmt"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old runs and their events from the journal",
	Long: `Deletes journal runs that started before now minus --older-than.
Events of deleted runs are removed with them.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Delete runs older than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	repo, err := openJournal(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	cutoff := time.Now().UTC().Add(-cleanupOlderThan)
	n, err := repo.Prune(cmd.Context(), cutoff)
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs started before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}
