package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/inklingd/inkling/internal/config"
	"github.com/inklingd/inkling/internal/store"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ Inkling Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 Inkling Status")
		fmt.Printf("Version: %s\n", version)

		// Check config
		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (run 'inkling init' first)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config load failed: %v\n", err)
			return
		}
		if cfg.Oracle.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found")
		}
		if cfg.Identity.UserName != "" {
			fmt.Printf("Subject: %s\n", cfg.Identity.UserName)
		}

		// Producer surface
		if cfg.Journal.Enabled {
			fmt.Println("Journal: ✓ Enabled (" + cfg.Journal.Path + ")")
		} else {
			fmt.Println("Journal: ✗ Disabled")
		}
		if cfg.Kafka.Enabled {
			fmt.Printf("Kafka:   ✓ Enabled (%s @ %s)\n", cfg.Kafka.Topic, cfg.Kafka.Brokers)
		} else {
			fmt.Println("Kafka:   ✗ Disabled")
		}
		if cfg.Slack.Enabled {
			fmt.Printf("Slack:   ✓ Enabled (#%s)\n", cfg.Slack.Channel)
		} else {
			fmt.Println("Slack:   ✗ Disabled")
		}

		// Store counts
		dbPath, err := config.ResolvePath(cfg.Paths.DBPath)
		if err != nil {
			return
		}
		if _, err := os.Stat(dbPath); err != nil {
			fmt.Println("Store:   ✗ No database yet (" + dbPath + ")")
			return
		}
		st, err := store.NewStore(store.StoreOptions{Path: dbPath})
		if err != nil {
			fmt.Printf("Store:   ? Unable to open: %v\n", err)
			return
		}
		defer st.Close()

		ctx := context.Background()
		obs, _ := st.CountObservations(ctx)
		props, _ := st.CountPropositions(ctx)
		pending, _ := st.CountPending(ctx)
		fmt.Printf("Store:   ✓ %s\n", dbPath)
		fmt.Printf("         %d observations, %d propositions, %d spooled updates\n", obs, props, pending)
	},
}
