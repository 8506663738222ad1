package app

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/drone-dagger/internal/annotate"
	"github.com/roman-kulish/drone-dagger/internal/camera"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

// RenderOverlays draws the drone and expert command over every recorded frame
// of d and saves them as annotated/{timestep}.png. Workers get an annotator
// each since the font context is not safe for concurrent use.
func RenderOverlays(ctx context.Context, dir string, d *TrajectoryData, thumbWidth int) (int, error) {
	out := filepath.Join(dir, trajectory.AnnotatedDir)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return 0, fmt.Errorf("creating overlay directory: %w", err)
	}

	timesteps := make(chan int)
	rendered := make([]bool, d.Height)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(timesteps)

		for i := range d.Rows {
			select {
			case timesteps <- i:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < runtime.GOMAXPROCS(0); w++ {
		g.Go(func() error {
			annotator, err := annotate.NewAnnotator()
			if err != nil {
				return err
			}

			for i := range timesteps {
				ok, err := renderOverlay(annotator, dir, out, d, i, thumbWidth)
				if err != nil {
					return err
				}
				rendered[i] = ok
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	count := 0
	for _, ok := range rendered {
		if ok {
			count++
		}
	}
	return count, nil
}

// renderOverlay reports false for a timestep without a recorded frame
func renderOverlay(annotator *annotate.Annotator, dir, out string, d *TrajectoryData, i, thumbWidth int) (bool, error) {
	timestep := d.Rows[i].Timestep

	path := camera.FramePath(dir, timestep)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}

	frame, err := camera.Load(path)
	if err != nil {
		return false, err
	}

	overlay := annotate.Overlay{Timestep: timestep}
	if i < len(d.Drone) {
		overlay.Drone = d.Drone[i]
	}
	if i < len(d.Expert) {
		expert := d.Expert[i]
		overlay.Expert = &expert
	}

	img, err := annotator.Annotate(frame, overlay)
	if err != nil {
		return false, fmt.Errorf("timestep %d: %w", timestep, err)
	}

	var result image.Image = img
	if thumbWidth > 0 {
		result = imaging.Resize(img, thumbWidth, 0, imaging.Lanczos)
	}

	if err = imaging.Save(result, filepath.Join(out, strconv.Itoa(timestep)+".png")); err != nil {
		return false, fmt.Errorf("saving overlay %d: %w", timestep, err)
	}
	return true, nil
}
