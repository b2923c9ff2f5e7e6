package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ronitkothari22/distributed-video-processing/internal/domain/entity"
)

type MetadataConfig struct {
	FFprobePath string
	MetadataDir string
}

// videoMetadata is the document written for each probed file.
type videoMetadata struct {
	FileID     string  `json:"file_id"`
	Filename   string  `json:"filename"`
	Format     string  `json:"format"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int64   `json:"frame_count"`
	Duration   float64 `json:"duration_seconds"`
	CodecName  string  `json:"codec_name"`
	BitRate    int64   `json:"bit_rate"`
	SizeBytes  int64   `json:"size_bytes"`
}

// MetadataExtraction returns the processing function for the metadata
// pipeline: an ffprobe structural probe whose result is written as a JSON
// document next to the other extracted metadata.
func MetadataExtraction(cfg MetadataConfig) ProcessFunc {
	return func(ctx context.Context, task entity.TaskMessage, inputPath string, report ProgressFunc) Result {
		if err := os.MkdirAll(cfg.MetadataDir, 0o755); err != nil {
			return failed(fmt.Errorf("create metadata dir: %w", err))
		}

		report(30)

		probe, err := runFFprobe(ctx, cfg.FFprobePath, inputPath)
		if err != nil {
			return failed(fmt.Errorf("probe video: %w", err))
		}

		report(70)

		meta := buildMetadata(task, inputPath, probe)
		outputPath := filepath.Join(cfg.MetadataDir, task.FileID+"_metadata.json")
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return failed(fmt.Errorf("encode metadata: %w", err))
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return failed(fmt.Errorf("write metadata: %w", err))
		}

		return Result{Status: entity.StatusCompleted, OutputPath: outputPath}
	}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

func runFFprobe(ctx context.Context, ffprobePath, input string) (*ffprobeOutput, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return &probe, nil
}

func buildMetadata(task entity.TaskMessage, inputPath string, probe *ffprobeOutput) videoMetadata {
	meta := videoMetadata{
		FileID:   task.FileID,
		Filename: filepath.Base(inputPath),
		Format:   strings.TrimPrefix(filepath.Ext(inputPath), "."),
	}

	meta.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	meta.BitRate, _ = strconv.ParseInt(probe.Format.BitRate, 10, 64)
	meta.SizeBytes, _ = strconv.ParseInt(probe.Format.Size, 10, 64)

	for _, stream := range probe.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.CodecName = stream.CodecName
		meta.FPS = parseFrameRate(stream.RFrameRate)
		meta.FrameCount, _ = strconv.ParseInt(stream.NbFrames, 10, 64)
		break
	}
	if meta.FrameCount == 0 && meta.FPS > 0 {
		meta.FrameCount = int64(meta.Duration * meta.FPS)
	}
	return meta
}

// parseFrameRate converts ffprobe's "num/den" rational into frames per
// second.
func parseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
