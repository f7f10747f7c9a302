package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/tcriess/queue-coordinator/config"
	"github.com/tcriess/queue-coordinator/globals"
	"github.com/tcriess/queue-coordinator/persistence"
)

// A very simple CLI tool for the administration of archived queue reports.

func main() {
	var (
		configPath string
		persister  persistence.Persister
	)
	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:          "queue-coordinator-admin",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			globalConfig, err := config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
			persister, err = persistence.NewPersister(globalConfig.ArchiveConfig)
			if err != nil {
				return err
			}
			if persister == nil {
				return fmt.Errorf("no archive configured")
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if persister != nil {
				return persister.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdReports = &cobra.Command{
		Use:   "reports",
		Short: "Manage archived reports",
		Long:  `reports lists, shows, deletes and prunes the final reports of destroyed rooms.`,
	}

	var (
		since  time.Duration
		offset int
		limit  int
	)
	var cmdList = &cobra.Command{
		Use:   "list",
		Short: "List reports",
		Long:  `list prints the reports of rooms that ended within --since, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			from := time.Time{}
			if since > 0 {
				from = now.Add(-since)
			}
			reports, err := persister.GetReports(from, now, offset, limit)
			if err != nil {
				globals.AppLogger.Error("could not get reports", "error", err)
				return err
			}
			return printJSON(reports)
		},
	}
	cmdList.Flags().DurationVar(&since, "since", 0, "only reports of rooms that ended within this duration (0 = all)")
	cmdList.Flags().IntVar(&offset, "offset", 0, "number of reports to skip")
	cmdList.Flags().IntVar(&limit, "limit", 50, "maximum number of reports (0 = no limit)")

	var cmdShow = &cobra.Command{
		Use:   "show [room id]",
		Short: "Show report",
		Long:  `show prints the final report of the room with the given id.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := persister.GetReport(args[0])
			if err != nil {
				globals.AppLogger.Error("could not get report", "room", args[0], "error", err)
				return err
			}
			return printJSON(report)
		},
	}

	var cmdDelete = &cobra.Command{
		Use:   "delete [room id]...",
		Short: "Delete reports",
		Long:  `delete removes the reports of the rooms with the given ids.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, roomId := range args {
				if err := persister.DeleteReport(roomId); err != nil {
					globals.AppLogger.Error("could not delete report", "room", roomId, "error", err)
					return err
				}
			}
			return nil
		},
	}

	var cmdPrune = &cobra.Command{
		Use:   "prune [max age]",
		Short: "Prune reports",
		Long:  `prune removes every report of a room that ended longer ago than max age (e.g. 720h).`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge, err := time.ParseDuration(args[0])
			if err != nil {
				return err
			}
			retention, err := persistence.NewRetention(persister, "@hourly", maxAge, nil, globals.AppLogger)
			if err != nil {
				return err
			}
			n, err := retention.Prune()
			if err != nil {
				globals.AppLogger.Error("could not prune reports", "error", err)
				return err
			}
			fmt.Printf("%d reports removed\n", n)
			return nil
		},
	}

	rootCmd.AddCommand(cmdReports)
	cmdReports.AddCommand(cmdList, cmdShow, cmdDelete, cmdPrune)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) error {
	r, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal", "error", err)
		return err
	}
	fmt.Println(string(r))
	return nil
}
