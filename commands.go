package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"wacrm/database"
	"wacrm/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		logger.Info("database is up to date", zap.String("type", cfg.Database["type"]))
		return nil
	},
}

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(cfg.Path); err == nil && !initForce {
			return fmt.Errorf("%s already exists, pass --force to overwrite it", cfg.Path)
		}
		if err := cfg.SaveConfig(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfg.Path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <chats.json>",
	Short: "Upsert chat snapshots from a JSON array",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := readSnapshots(args[0])
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err = store.InitialUpsertChats(cmd.Context(), items); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d chats\n", len(items))
		return nil
	},
}

var (
	analyticsFrom    string
	analyticsTo      string
	analyticsMonthly bool
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Print lead, client and decline counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loc, err := cfg.Location()
		if err != nil {
			return err
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var result interface{}
		if analyticsMonthly {
			fromKey, toKey, err := monthRange(analyticsFrom, analyticsTo, loc)
			if err != nil {
				return err
			}
			result, err = store.MonthlyBreakdown(cmd.Context(), fromKey, toKey)
			if err != nil {
				return err
			}
		} else {
			r, err := secondsRange(analyticsFrom, analyticsTo, loc)
			if err != nil {
				return err
			}
			result, err = store.GetAnalytics(cmd.Context(), r)
			if err != nil {
				return err
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyticsCmd.Flags().StringVar(&analyticsFrom, "from", "", "first day to count, YYYY-MM-DD (default: beginning of time)")
	analyticsCmd.Flags().StringVar(&analyticsTo, "to", "", "last day to count, YYYY-MM-DD (default: now)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	analyticsCmd.Flags().BoolVar(&analyticsMonthly, "monthly", false, "break the counts down per month")

	rootCmd.AddCommand(initCmd, migrateCmd, importCmd, analyticsCmd)
}

// readSnapshots parses a JSON array of chat snapshots. Ids ending in @g.us are
// always imported as groups.
func readSnapshots(path string) ([]database.ChatSnapshot, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}

	var items []database.ChatSnapshot
	if err = json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	for i := range items {
		if utils.IsGroupChatID(items[i].ID) {
			items[i].IsGroup = true
		}
	}
	return items, nil
}

// secondsRange turns an inclusive day range into epoch seconds.
func secondsRange(from, to string, loc *time.Location) (database.AnalyticsRange, error) {
	var r database.AnalyticsRange
	if from != "" {
		day, err := time.ParseInLocation(dateLayout, from, loc)
		if err != nil {
			return r, fmt.Errorf("invalid --from date: %w", err)
		}
		r.FromSec = day.Unix()
	}
	if to != "" {
		day, err := time.ParseInLocation(dateLayout, to, loc)
		if err != nil {
			return r, fmt.Errorf("invalid --to date: %w", err)
		}
		r.ToSec = day.AddDate(0, 0, 1).Unix() - 1
	}
	return r, nil
}

func monthRange(from, to string, loc *time.Location) (string, string, error) {
	r, err := secondsRange(from, to, loc)
	if err != nil {
		return "", "", err
	}
	var fromKey, toKey string
	if r.FromSec != 0 {
		fromKey = time.Unix(r.FromSec, 0).In(loc).Format(utils.MonthKeyLayout)
	}
	if r.ToSec != 0 {
		toKey = time.Unix(r.ToSec, 0).In(loc).Format(utils.MonthKeyLayout)
	}
	return fromKey, toKey, nil
}
