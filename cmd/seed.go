package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/logger"
)

// seedCommand enumerates a run's work items from a key file. Re-seeding an
// existing run only adds keys not already present, so a run can be topped
// up safely.
func seedCommand() *cobra.Command {
	var runID string
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Enumerate work items for a run from a key file",
		Long: `Reads item keys (one per line, e.g. search terms) and inserts them as
pending work items for the run. Keys already present in the run are
skipped. Without --run a fresh run ID is generated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				runID = fmt.Sprintf("run-%s", uuid.NewString()[:8])
			}

			keys, err := readKeys(file)
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("no item keys found in %s", file)
			}

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			items := make([]database.SeedItem, 0, len(keys))
			for _, key := range keys {
				items = append(items, database.SeedItem{Key: key})
			}

			inserted, err := a.workItems.InsertPending(cmd.Context(), runID, items)
			if err != nil {
				return fmt.Errorf("seed run: %w", err)
			}

			a.log.Info("run seeded",
				logger.String("run_id", runID),
				logger.Int("keys", len(keys)),
				logger.Int64("inserted", inserted))
			fmt.Printf("run %s: %d keys read, %d new items inserted\n", runID, len(keys), inserted)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run ID (generated when omitted)")
	cmd.Flags().StringVar(&file, "file", "", "path to the item key file, one key per line")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open key file: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		keys = append(keys, key)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	return keys, nil
}
