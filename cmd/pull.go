package cmd

import (
	"context"
	"fmt"

	"record-sync/core/config"
	"record-sync/core/logger"
	"record-sync/feature/syncer"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// pullCmd pulls remote changes once and exits.
var pullCmd = &cobra.Command{
	Use:   "pull [zone]",
	Short: "Pull remote changes into the local store",
	Long: `Signs in, then applies the change feed of one zone, or of every zone in
feed.zones when none is given. Pulls resume from the last stored token.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		zone := ""
		if len(args) == 1 {
			zone = args[0]
		}
		return withEngine(cmd.Context(), func(ctx context.Context, svc *syncer.Service, l *zap.Logger) error {
			stats, err := svc.Pull(ctx, zone)
			if err != nil {
				return fmt.Errorf("failed to pull: %w", err)
			}
			for _, st := range stats {
				l.Info("Pull report",
					zap.String("zone", st.Zone),
					zap.Int("pages", st.Pages),
					zap.Int("changed", st.Changed),
					zap.Int("deleted", st.Deleted),
					zap.Int("kept_dirty", st.Kept),
					zap.String("token", string(st.Token)),
				)
			}
			return nil
		})
	},
}

// resyncCmd rebuilds one type of a zone from a full query.
var resyncCmd = &cobra.Command{
	Use:   "resync <zone> <type>",
	Short: "Rebuild one record type of a zone from the remote store",
	Long: `Queries every record of the type in the zone, updates the local copies and
removes local objects that no longer exist remotely. Objects never uploaded
are kept.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, svc *syncer.Service, l *zap.Logger) error {
			st, err := svc.Resync(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to resync: %w", err)
			}
			l.Info("Resync report",
				zap.String("zone", st.Zone),
				zap.String("type", args[1]),
				zap.Int("changed", st.Changed),
				zap.Int("deleted", st.Deleted),
				zap.Int("kept_dirty", st.Kept),
			)
			return nil
		})
	},
}

// withEngine loads the configuration, opens the engine, signs in and runs fn.
func withEngine(ctx context.Context, fn func(context.Context, *syncer.Service, *zap.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer l.Sync()

	engine, err := syncer.Open(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Service.Connect(ctx); err != nil {
		return err
	}
	return fn(ctx, engine.Service, l)
}

func init() {
	RootCmd.AddCommand(pullCmd)
	RootCmd.AddCommand(resyncCmd)
}
