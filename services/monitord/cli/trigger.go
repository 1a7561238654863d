package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FreeBandoLano/echobot-sub000/internal/capture"
	"github.com/FreeBandoLano/echobot-sub000/internal/kafka"
	"github.com/FreeBandoLano/echobot-sub000/internal/postgres"
	"github.com/FreeBandoLano/echobot-sub000/services/monitord/config"
	"github.com/FreeBandoLano/echobot-sub000/services/pipeline"
)

// newTriggerCmd builds the manual-trigger command tree. These run the
// pipeline operation in-process against the shared database; the daemon's
// queue worker picks up whatever they enqueue.
func newTriggerCmd() *cobra.Command {
	var dateFlag string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Manually fire a pipeline operation",
	}
	cmd.PersistentFlags().StringVar(&dateFlag, "date", "", "show date YYYY-MM-DD (default: today)")

	captureCmd := &cobra.Command{
		Use:   "capture <code>",
		Short: "Record one block's window now and queue transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withPipeline(dateFlag, func(ctx context.Context, pipe *pipeline.Pipeline, date time.Time) error {
				return pipe.CaptureByCode(ctx, date, args[0])
			})
		},
	}

	processCmd := &cobra.Command{
		Use:   "process <code>",
		Short: "Re-derive the missing queue task for a block",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withPipeline(dateFlag, func(ctx context.Context, pipe *pipeline.Pipeline, date time.Time) error {
				return pipe.ProcessBlock(ctx, date, args[0])
			})
		},
	}

	digestCmd := &cobra.Command{
		Use:   "digest",
		Short: "Queue digest creation for the date if every block is complete",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withPipeline(dateFlag, func(ctx context.Context, pipe *pipeline.Pipeline, date time.Time) error {
				return pipe.DigestCutoff(ctx, date)
			})
		},
	}

	cmd.AddCommand(captureCmd, processCmd, digestCmd)
	return cmd
}

func withPipeline(dateFlag string, fn func(context.Context, *pipeline.Pipeline, time.Time) error) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := buildLogger(cfg.LogLevel, cfg.LogFile, "monitord")

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if dateFlag != "" {
		date, err = time.ParseInLocation("2006-01-02", dateFlag, time.UTC)
		if err != nil {
			return fmt.Errorf("bad --date, want YYYY-MM-DD: %w", err)
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("timezone: %w", err)
	}

	// A capture blocks for the full window length, so the deadline is
	// generous.
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	windows := make([]pipeline.Window, len(cfg.Blocks))
	for i, b := range cfg.Blocks {
		windows[i] = pipeline.Window{Code: b.Code, Start: b.Start, End: b.End}
	}
	pipe := pipeline.New(pipeline.Config{
		Windows:     windows,
		Location:    loc,
		DigestTime:  cfg.DigestTime,
		CleanupTime: cfg.CleanupTime,
		Retention:   cfg.Retention,
		AudioDir:    cfg.AudioDir,
	},
		postgres.NewBlockRepository(pool),
		postgres.NewTaskRepository(pool),
		capture.NewFFmpegRecorder(cfg.StreamURL, cfg.AudioDir, logger),
		kafka.NopPublisher{},
		logger,
	)

	return fn(ctx, pipe, date)
}
