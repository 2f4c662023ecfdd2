package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"filechat/internal/pkg/claude"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage files stored with the provider",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provider files",
	RunE:  runFilesList,
}

var filesPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete provider files older than the given age",
	RunE:  runFilesPurge,
}

var (
	filesLimit  int
	purgeAge    time.Duration
	purgeDryRun bool
)

func init() {
	rootCmd.AddCommand(filesCmd)
	filesCmd.AddCommand(filesListCmd, filesPurgeCmd)

	filesListCmd.Flags().IntVarP(&filesLimit, "limit", "n", 100, "max files per page")
	filesPurgeCmd.Flags().DurationVar(&purgeAge, "older-than", 7*24*time.Hour, "delete files created before now minus this age")
	filesPurgeCmd.Flags().BoolVar(&purgeDryRun, "dry-run", false, "only print the files that would be deleted")
}

func newClaudeClient() (*claude.Client, error) {
	cfg := GetConfig()
	if err := cfg.Claude.Validate(); err != nil {
		return nil, fmt.Errorf("claude config: %w", err)
	}
	return claude.NewClient(cfg.Claude)
}

// eachFile 分页遍历服务商文件
func eachFile(ctx context.Context, client *claude.Client, limit int, fn func(claude.FileObject) error) error {
	afterID := ""
	for {
		page, err := client.ListFiles(ctx, limit, afterID)
		if err != nil {
			return err
		}
		for _, f := range page.Data {
			if err := fn(f); err != nil {
				return err
			}
		}
		if !page.HasMore || page.LastID == "" {
			return nil
		}
		afterID = page.LastID
	}
}

func runFilesList(cmd *cobra.Command, args []string) error {
	client, err := newClaudeClient()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tMIME\tSIZE\tCREATED\tDOWNLOADABLE")
	err = eachFile(cmd.Context(), client, filesLimit, func(f claude.FileObject) error {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\n", f.ID, f.Filename, f.MimeType, f.SizeBytes, f.CreatedAt.Format(time.RFC3339), f.Downloadable)
		return nil
	})
	if flushErr := w.Flush(); err == nil {
		err = flushErr
	}
	return err
}

func runFilesPurge(cmd *cobra.Command, args []string) error {
	client, err := newClaudeClient()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	cutoff := time.Now().Add(-purgeAge)
	var stale []claude.FileObject
	err = eachFile(ctx, client, 100, func(f claude.FileObject) error {
		if f.CreatedAt.Before(cutoff) {
			stale = append(stale, f)
		}
		return nil
	})
	if err != nil {
		return err
	}

	deleted := 0
	for _, f := range stale {
		if purgeDryRun {
			fmt.Printf("would delete %s (%s)\n", f.ID, f.Filename)
			continue
		}
		if err := client.DeleteFile(ctx, f.ID); err != nil {
			log.Warn().Err(err).Str("file_id", f.ID).Msg("failed to delete provider file")
			continue
		}
		deleted++
	}
	log.Info().Int("matched", len(stale)).Int("deleted", deleted).Bool("dry_run", purgeDryRun).Msg("purge finished")
	return nil
}
