package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <key> <version>",
	Short: "Restore a prior version of a key as a new version",
	Args:  cobra.ExactArgs(2),
	RunE:  runRollback,
}

func init() {
	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
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

	var version int
	if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
		return fmt.Errorf("invalid version %q", args[1])
	}

	newVersion, err := store.Rollback(context.Background(), args[0], version)
	if err != nil {
		return err
	}

	fmt.Printf("rolled back %s to v%d as v%d\n", args[0], version, newVersion)
	return nil
}
