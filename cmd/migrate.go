package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"filechat/internal/pkg/mongodb"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create MongoDB indexes",
	Long:  `Connect to MongoDB and create the indexes used by conversation queries.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client, err := mongodb.New(ctx, &cfg.Mongo)
	if err != nil {
		return fmt.Errorf("failed to connect mongo: %w", err)
	}
	defer func() {
		_ = client.Close(context.Background())
	}()

	if err := mongodb.EnsureIndexes(ctx, client.Database()); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("indexes ensured")
	return nil
}
