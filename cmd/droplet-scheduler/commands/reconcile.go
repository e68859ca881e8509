package commands

import (
	"encoding/json"
	"fmt"

	"github.com/nightshift/droplet-scheduler/pkg/errors"
	appfsm "github.com/nightshift/droplet-scheduler/pkg/fsm"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconcile and exit",
	Long: `Observes the managed droplets and snapshots, compares them with the
run-hours window, and shuts down or restores the droplet as needed.
Prints {"statusCode":200,"body":{}} on success.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	orch, closeFn, err := newOrchestrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := orch.Reconcile(ctx); err != nil {
		return errors.Wrap(err, "reconcile failed")
	}

	out, err := json.Marshal(appfsm.OK())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
