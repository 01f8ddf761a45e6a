package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/directorio/directorio/go/internal/dbconfig"
	"github.com/directorio/directorio/go/internal/meetings"
)

type importOptions struct {
	meetingID string
	title     string
	replace   bool
}

type importResult struct {
	MeetingID uuid.UUID
	Created   bool
	Removed   int64
	Inserted  int
	FirstIdx  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:          "import_stages <file.csv>",
		Short:        "Bulk import title,duration stage rows into a meeting",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.meetingID == "" && opts.title == "" {
				return fmt.Errorf("either --meeting or --title is required")
			}

			// 1) Parse the CSV
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer f.Close()
			stages, err := meetings.ParseStagesCSV(f)
			if err != nil {
				return err
			}

			// 2) Connect using shared dbconfig
			cfg := dbconfig.NewConfigFromEnv()
			if err := cfg.Validate(); err != nil {
				return err
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.DSN())
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer pool.Close()

			// 3) Insert inside one transaction
			res, err := importStages(cmd.Context(), pool, opts, stages)
			if err != nil {
				return err
			}

			// 4) Print summary
			fmt.Fprintf(cmd.OutOrStdout(),
				"Stages import complete: meeting %s (created=%t), %d removed, %d inserted from index %d\n",
				res.MeetingID, res.Created, res.Removed, res.Inserted, res.FirstIdx,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.meetingID, "meeting", "", "Existing meeting id to append to")
	cmd.Flags().StringVar(&opts.title, "title", "", "Create a new meeting with this title")
	cmd.Flags().BoolVar(&opts.replace, "replace", false, "Delete the meeting's existing stages first")

	return cmd
}

func importStages(ctx context.Context, pool *pgxpool.Pool, opts importOptions, stages []meetings.CreateStageRequest) (importResult, error) {
	var res importResult

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if opts.meetingID != "" {
			id, err := uuid.Parse(opts.meetingID)
			if err != nil {
				return fmt.Errorf("invalid meeting id: %w", err)
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM meetings WHERE id = $1)`, id).Scan(&exists); err != nil {
				return fmt.Errorf("look up meeting: %w", err)
			}
			if !exists {
				return fmt.Errorf("meeting %s not found", id)
			}
			res.MeetingID = id
		} else {
			res.MeetingID = uuid.New()
			res.Created = true
			if _, err := tx.Exec(ctx, `INSERT INTO meetings (id, title) VALUES ($1, $2)`, res.MeetingID, opts.title); err != nil {
				return fmt.Errorf("create meeting: %w", err)
			}
		}

		if opts.replace {
			tag, err := tx.Exec(ctx, `DELETE FROM stages WHERE meeting_id = $1`, res.MeetingID)
			if err != nil {
				return fmt.Errorf("delete stages: %w", err)
			}
			res.Removed = tag.RowsAffected()
		}

		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(order_index) + 1, 0) FROM stages WHERE meeting_id = $1`,
			res.MeetingID,
		).Scan(&res.FirstIdx); err != nil {
			return fmt.Errorf("next order index: %w", err)
		}

		batch := &pgx.Batch{}
		for i, s := range stages {
			batch.Queue(`
                INSERT INTO stages (id, meeting_id, title, duration_sec, order_index)
                VALUES ($1, $2, $3, $4, $5)
            `, uuid.New(), res.MeetingID, s.Title, s.DurationSec, res.FirstIdx+i)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert stages: %w", err)
		}
		res.Inserted = len(stages)
		return nil
	})
	return res, err
}
