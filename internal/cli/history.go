package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "List the version history for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var diffCmd = &cobra.Command{
	Use:   "diff <key> <v1> <v2>",
	Short: "Show the field-level difference between two versions",
	Args:  cobra.ExactArgs(3),
	RunE:  runDiff,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(diffCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	store, err := openStore(cfg, lg.Zerolog())
	if err != nil {
		return err
	}
	defer store.Close()

	versions, err := store.ListVersions(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Printf("no versions for key %q\n", args[0])
		return nil
	}

	for _, v := range versions {
		line := fmt.Sprintf("v%d  %s", v.Version, v.WrittenAt.Format(time.RFC3339))
		if v.Tag != "" {
			line += "  [" + v.Tag + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	store, err := openStore(cfg, lg.Zerolog())
	if err != nil {
		return err
	}
	defer store.Close()

	var v1, v2 int
	if _, err := fmt.Sscanf(args[1], "%d", &v1); err != nil {
		return fmt.Errorf("invalid version %q", args[1])
	}
	if _, err := fmt.Sscanf(args[2], "%d", &v2); err != nil {
		return fmt.Errorf("invalid version %q", args[2])
	}

	diff, err := store.Diff(context.Background(), args[0], v1, v2)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
