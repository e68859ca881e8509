package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "droplet-scheduler",
	Short: "Run a DigitalOcean droplet only during scheduled hours",
	Long: `Keeps one DigitalOcean droplet alive during a window of UTC hours.
Outside the window the droplet is snapshotted and deleted; inside it, the
droplet is recreated from the latest snapshot.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("api-url", "https://api.digitalocean.com/", "DigitalOcean API base URL")
	flags.String("image-namespace", "", "Prefix of backup image names")
	flags.String("droplet-namespace", "", "Tag of managed droplets")
	flags.String("droplet-name", "", "Name given to restored droplets")
	flags.String("run-hours", "", "UTC hours the droplet should run, e.g. 9-17 or 9,10,11")
	flags.String("region", "lon1", "Region of restored droplets")
	flags.String("size", "s-1vcpu-3gb", "Size slug of restored droplets")
	flags.StringSlice("ssh-keys", nil, "SSH key fingerprints for restored droplets")
	flags.Bool("ipv6", true, "Enable IPv6 on restored droplets")
	flags.Duration("poll-interval", 5*time.Second, "Action poll interval")
	flags.Duration("action-timeout", 120*time.Second, "Give up waiting on an action after this long")
	flags.Duration("lock-backoff", 15*time.Second, "Wait while a droplet is locked")
	flags.Duration("retry-backoff", 15*time.Second, "Wait after a refused delete")
	flags.String("fsm-db-path", "", "FSM BoltDB directory (temporary per run when empty)")
	flags.Int("fsm-max-retries", 2, "Retries of the observe step")
	flags.String("journal-path", "", "SQLite run journal (disabled when empty)")
	flags.String("report-bucket", "", "S3 bucket for run reports (disabled when empty)")
	flags.String("report-prefix", "reports", "Key prefix for run reports")
	flags.String("report-region", "us-east-1", "S3 region for run reports")
	flags.String("report-endpoint", "", "S3-compatible endpoint for run reports")
	flags.Bool("report-path-style", false, "Use path-style S3 addressing")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "text", "Log format: text or json")

	// api-token has no flag: env or config file only
	flags.VisitAll(func(f *pflag.Flag) {
		viper.BindPFlag(f.Name, f)
	})
}
