package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/nightshift/droplet-scheduler/pkg/digitalocean"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
	"github.com/nightshift/droplet-scheduler/pkg/lifecycle"
	"github.com/nightshift/droplet-scheduler/pkg/schedule"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show managed droplets, snapshots and the decision a reconcile would make now",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	api, err := newAPIClient(cfg)
	if err != nil {
		return err
	}
	window, err := cfg.Window()
	if err != nil {
		return errors.Wrap(err, "run-hours invalid")
	}

	var droplets []digitalocean.Droplet
	var snapshots []digitalocean.Snapshot
	var images []digitalocean.Image

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		droplets, err = api.ListDropletsByTag(gctx, cfg.DropletNamespace)
		return err
	})
	g.Go(func() (err error) {
		snapshots, err = api.ListSnapshots(gctx)
		return err
	})
	g.Go(func() (err error) {
		images, err = api.ListPrivateImages(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "status fetch failed")
	}

	out := cmd.OutOrStdout()
	now := time.Now().UTC()
	shouldRun := window.ShouldRun(now)

	hours := window.String()
	if hours == "" {
		hours = "(none)"
	}
	fmt.Fprintf(out, "Run hours (UTC): %s\n", hours)
	fmt.Fprintf(out, "Now (UTC):       %s (should run: %v)\n", now.Format(time.RFC3339), shouldRun)
	fmt.Fprintf(out, "Decision:        %s\n\n", schedule.Decide(shouldRun, len(droplets)))

	backups := map[string]bool{}
	for _, img := range images {
		backups[img.Name] = true
	}

	fmt.Fprintf(out, "%-12s %-30s %-10s %-8s %-30s\n", "DROPLET", "NAME", "STATUS", "LOCKED", "BACKUP IMAGE")
	fmt.Fprintln(out, strings.Repeat("-", 94))
	if len(droplets) == 0 {
		fmt.Fprintf(out, "No droplets tagged %q\n", cfg.DropletNamespace)
	}
	for _, d := range droplets {
		imageName := lifecycle.ImageName(cfg.ImageNamespace, d.ID)
		if !backups[imageName] {
			imageName = "-"
		}
		fmt.Fprintf(out, "%-12d %-30s %-10s %-8v %-30s\n", d.ID, d.Name, d.Status, d.Locked, imageName)
	}

	fmt.Fprintln(out)
	latest := lifecycle.LatestSnapshot(snapshots)
	if latest == nil {
		fmt.Fprintln(out, "No snapshots available to restore from")
		return nil
	}
	fmt.Fprintf(out, "Snapshots: %d, latest %s (%s, created %s)\n",
		len(snapshots), latest.ID, latest.Name, latest.CreatedAt.Format(time.RFC3339))
	return nil
}
