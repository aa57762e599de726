package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/outage-watcher/internal/config"
	"github.com/outage-watcher/internal/dedup"
	"github.com/outage-watcher/internal/detect"
	"github.com/outage-watcher/internal/models"
	"github.com/outage-watcher/internal/search"
	"github.com/outage-watcher/internal/source/web"
	"github.com/outage-watcher/internal/storage/sqlite"
	"github.com/outage-watcher/pkg/logger"
	"github.com/outage-watcher/pkg/ratelimit"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	repo    *sqlite.Repository
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "outage-cli",
		Short: "Operator tool for the outage watcher",
		Long:  `Run one-off checks, inspect stats and search the outage audit trail without going through the bot.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log = logger.New(logger.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: cfg.Logging.Output,
			})

			repo, err = sqlite.New(cfg.Database.DSN, log)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			return repo.Migrate()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if repo != nil {
				repo.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	rootCmd.AddCommand(checkCmd(), searchCmd(), statsCmd(), setIntervalCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func checkCmd() *cobra.Command {
	var save bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one observation cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			src := web.New(cfg.Source, ratelimit.NewDefaultLimiter(), log)

			raw, err := src.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch failed: %w", err)
			}

			unique, removed := dedup.Deduplicate(raw)
			changed := detect.New(repo, log).HasChanged(ctx, unique)

			fmt.Printf("Observed records:  %d\n", len(raw))
			fmt.Printf("Duplicates:        %d\n", removed)
			fmt.Printf("Changed:           %v\n", changed)

			for i, o := range unique {
				fmt.Printf("\n%d. %s (%s)\n   %s — %s\n   %s\n", i+1, o.Place, o.District, o.DateFrom, o.DateTo, o.Addresses)
			}

			if save {
				if err := repo.SaveCheck(ctx, unique); err != nil {
					return fmt.Errorf("save check: %w", err)
				}
				fmt.Println("\nCheck record saved.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&save, "save", false, "persist the check record")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search the outage audit trail",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := search.Parse(strings.Join(args, " "))
			if err != nil {
				return err
			}

			rows, err := repo.SearchOutages(context.Background(), filter)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No matches.")
				return nil
			}

			for i, row := range rows {
				fmt.Printf("%d. %s (%s)\n   %s — %s\n   %s\n   recorded %s\n",
					i+1, row.Place, row.District, row.DateFrom, row.DateTo, row.Addresses,
					row.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show subscriber and check statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			subStats, err := repo.SubscriberStats(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Subscribers: %d total, %d active\n", subStats.Total, subStats.Active)

			last, err := repo.LatestCheck(ctx)
			if err != nil {
				return err
			}
			if last == nil {
				fmt.Println("No checks recorded yet.")
				return nil
			}

			fmt.Printf("Last check:  %s (%d records, hash %s)\n",
				last.CheckTime.Format("2006-01-02 15:04"), last.ResultsCount, last.ResultsHash)

			interval, err := repo.GetSetting(ctx, models.SettingUpdateIntervalHours)
			if err != nil {
				return err
			}
			if interval == "" {
				interval = strconv.Itoa(cfg.Watcher.DefaultIntervalHours) + " (default)"
			}
			fmt.Printf("Interval:    %s hours\n", interval)
			return nil
		},
	}
}

func setIntervalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-interval [hours]",
		Short: "Persist a new observation interval (1-24 hours)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.Atoi(args[0])
			if err != nil || hours < 1 || hours > 24 {
				return fmt.Errorf("interval must be an integer between 1 and 24, got %q", args[0])
			}

			if err := repo.SetSetting(context.Background(), models.SettingUpdateIntervalHours, strconv.Itoa(hours)); err != nil {
				return err
			}

			fmt.Printf("Interval set to %d hours. The running bot applies it on restart or via /admin_set_interval.\n", hours)
			return nil
		},
	}
}
