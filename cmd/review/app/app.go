package app

import (
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/drone-dagger/internal/storage"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	logger = logger.With(slog.Int("iteration", config.Iteration), slog.Int("trajectory", config.Trajectory))

	data, err := LoadTrajectory(config.DataDir, config.Iteration, config.Trajectory)
	if err != nil {
		return fmt.Errorf("loading trajectory: %w", err)
	}

	logger.Info("trajectory loaded",
		slog.Group("stats",
			slog.String("timesteps", humanize.Comma(int64(data.Height))),
			slog.String("features", humanize.Comma(int64(data.Width))),
			slog.Int("droneCommands", len(data.Drone)),
			slog.Int("expertCommands", len(data.Expert)),
		))

	if err = renderHeatmap(data, config, logger); err != nil {
		return err
	}

	if config.Overlays {
		dir := trajectory.Dir(config.DataDir, config.Iteration, config.Trajectory)

		count, err := RenderOverlays(ctx, dir, data, config.ThumbWidth)
		if err != nil {
			return fmt.Errorf("rendering overlays: %w", err)
		}
		logger.Info("overlays rendered", slog.String("frames", humanize.Comma(int64(count))))
	}

	if config.DBPath != "" {
		if err = summarizeFlight(ctx, config, logger); err != nil {
			return err
		}
	}

	return nil
}

func renderHeatmap(data *TrajectoryData, config *Config, logger *slog.Logger) (err error) {
	renderer := NewHeatmapRenderer(RenderConfig{
		ColorTheme: config.Theme,
		CellSize:   config.CellSize,
	})

	img, err := renderer.Render(data)
	if err != nil {
		return fmt.Errorf("rendering heatmap: %w", err)
	}

	if config.Verbose {
		logger.Info("heatmap rendered",
			slog.Group("image",
				slog.String("destination", config.OutputFile),
				slog.String("format", string(config.Format)),
				slog.String("theme", string(config.Theme)),
				slog.Int("width", img.Bounds().Dx()),
				slog.Int("height", img.Bounds().Dy()),
			))
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := out.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	switch config.Format {
	case ImagePNG:
		err = png.Encode(out, img)

	case ImageJPEG:
		err = jpeg.Encode(out, img, &jpeg.Options{
			Quality: 98,
		})
	}
	return err
}

func summarizeFlight(ctx context.Context, config *Config, logger *slog.Logger) error {
	if _, err := os.Stat(config.DBPath); err != nil && os.IsNotExist(err) {
		return fmt.Errorf("database file '%s' does not exist: %w", config.DBPath, err)
	}

	store := storage.NewSqliteStore(config.DBPath)
	defer store.Close()

	summary, err := SummarizeTelemetry(ctx, store, config.Iteration, config.Trajectory)
	if err != nil {
		return fmt.Errorf("summarizing telemetry: %w", err)
	}

	logger.Info("flight telemetry", slog.Any("summary", summary))
	return nil
}
