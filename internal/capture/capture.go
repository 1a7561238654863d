// Package capture records a live audio stream to disk with ffmpeg.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/FreeBandoLano/echobot-sub000/internal/domain"
)

// Recorder captures one block's audio window and returns the artifact path.
type Recorder interface {
	Record(ctx context.Context, block *domain.Block) (string, error)
}

// FFmpegRecorder shells out to ffmpeg to capture a stream segment.
type FFmpegRecorder struct {
	streamURL string
	outDir    string
	logger    *slog.Logger
}

func NewFFmpegRecorder(streamURL, outDir string, logger *slog.Logger) *FFmpegRecorder {
	return &FFmpegRecorder{streamURL: streamURL, outDir: outDir, logger: logger}
}

// Record captures block.Duration() of audio from the configured stream.
// The call blocks for the full window; run it from a worker goroutine,
// never from the scheduler's poll loop.
func (r *FFmpegRecorder) Record(ctx context.Context, block *domain.Block) (string, error) {
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}

	seconds := int(block.Duration().Seconds())
	if seconds <= 0 {
		return "", fmt.Errorf("block %d has a non-positive window", block.ID)
	}

	outPath := filepath.Join(r.outDir,
		fmt.Sprintf("%s_%s.mp3", domain.ShowDateKey(block.ShowDate), block.Code))

	args := []string{
		"-y",
		"-i", r.streamURL,
		"-t", fmt.Sprintf("%d", seconds),
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "64k",
		"-nostats",
		outPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	start := time.Now()
	r.logger.Info("capture starting",
		slog.String("block", block.Code),
		slog.Int("seconds", seconds),
		slog.String("out", outPath),
	)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start ffmpeg: %w", err)
	}

	// ffmpeg reports errors on stderr; keep the last line for diagnostics.
	var lastErrLine string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lastErrLine = line
		}
	}

	if err := cmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ctx.Err()
		}
		if lastErrLine != "" {
			return "", fmt.Errorf("ffmpeg failed: %s", lastErrLine)
		}
		return "", fmt.Errorf("ffmpeg failed: %w", err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return "", fmt.Errorf("stat capture artifact: %w", err)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("capture produced an empty file: %s", outPath)
	}

	r.logger.Info("capture finished",
		slog.String("block", block.Code),
		slog.Int64("bytes", info.Size()),
		slog.Duration("elapsed", time.Since(start)),
	)
	return outPath, nil
}
