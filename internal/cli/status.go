package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store totals",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	status, err := store.Status(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("keys:     %d\n", status.TotalKeys)
	fmt.Printf("versions: %d\n", status.TotalVersions)
	return nil
}
