package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database and Keepa client health",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dbCheck := a.db.Health().Health(ctx)
	keepaCheck := a.keepa.HealthCheck()

	if healthJSON {
		data, err := json.MarshalIndent(map[string]interface{}{
			"database": dbCheck,
			"keepa":    keepaCheck,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		dbState := "healthy"
		if !dbCheck.Healthy {
			dbState = "unhealthy"
		}
		fmt.Printf("Database: %s (%dms)\n", dbState, dbCheck.ResponseTimeMS)
		for _, e := range dbCheck.Errors {
			fmt.Printf("  %s\n", e)
		}
		fmt.Printf("Keepa:    %v, %v tokens left\n", keepaCheck["status"], keepaCheck["tokens_remaining"])
	}

	if !dbCheck.Healthy {
		return fmt.Errorf("database is unhealthy")
	}
	return nil
}
