package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type EnhanceConfig struct {
	FFmpegPath  string
	FFprobePath string
	OutputDir   string
	Preset      string
	CRF         int
}

// VideoEnhancement returns the processing function for the enhancement
// pipeline: an ffmpeg re-encode with contrast and denoise filters, reporting
// progress parsed from ffmpeg's machine-readable output.
func VideoEnhancement(cfg EnhanceConfig) ProcessFunc {
	return func(ctx context.Context, task entity.TaskMessage, inputPath string, report ProgressFunc) Result {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return failed(fmt.Errorf("create output dir: %w", err))
		}
		outputPath := filepath.Join(cfg.OutputDir, "enhanced_"+filepath.Base(inputPath))

		duration, err := probeDuration(ctx, cfg.FFprobePath, inputPath)
		if err != nil {
			// progress will be coarse without a known duration
			duration = 0
		}

		if err := runFFmpeg(ctx, cfg, inputPath, outputPath, duration, report); err != nil {
			return failed(err)
		}
		return Result{Status: entity.StatusCompleted, OutputPath: outputPath}
	}
}

func failed(err error) Result {
	msg := err.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return Result{Status: entity.StatusFailed, Error: msg}
}

func probeDuration(ctx context.Context, ffprobePath, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	durationStr := strings.TrimSpace(string(output))
	if durationStr == "" {
		return 0, errors.New("empty duration")
	}
	return strconv.ParseFloat(durationStr, 64)
}

func runFFmpeg(ctx context.Context, cfg EnhanceConfig, inputPath, outputPath string, duration float64, report ProgressFunc) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vf", "eq=contrast=1.2:saturation=1.1,hqdn3d",
		"-preset", cfg.Preset,
		"-crf", strconv.Itoa(cfg.CRF),
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	var stderrBuf strings.Builder
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	consumeFFmpegProgress(bufio.NewScanner(stdout), duration, report)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg execution: %w - %s", err, strings.TrimSpace(stderrBuf.String()))
	}
	return nil
}

// consumeFFmpegProgress parses key=value lines from ffmpeg's -progress
// output, reporting whole-percent increases at most once per second.
func consumeFFmpegProgress(scanner *bufio.Scanner, duration float64, report ProgressFunc) {
	var lastProgress int
	lastEmit := time.Now()

	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		switch parts[0] {
		case "out_time_ms":
			if duration <= 0 {
				continue
			}
			outTimeMs, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				continue
			}
			current := int(math.Min(100, math.Max(0, (outTimeMs/1e6)/duration*100)))
			if current > lastProgress && time.Since(lastEmit) >= time.Second {
				lastProgress = current
				lastEmit = time.Now()
				report(current)
			}
		case "progress":
			if parts[1] == "end" {
				report(100)
				return
			}
		}
	}
}
