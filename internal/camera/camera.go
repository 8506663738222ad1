package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/device"
	"github.com/roman-kulish/drone-dagger/internal/link"
)

// ErrNoFrame is returned while the camera server has no frame yet
var ErrNoFrame = fmt.Errorf("no frame available yet: %w", device.ErrTransient)

// Frame is a captured raster image with its sequence number
type Frame struct {
	Image     image.Image
	Seq       uint64
	Timestamp time.Time
}

// HTTPSource pulls the latest snapshot from a camera server that answers every
// GET with the most recent PNG or JPEG image
type HTTPSource struct {
	url    string
	client *http.Client
	seq    uint64
}

// NewHTTPSource creates a snapshot source for url
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Next fetches and decodes one frame
func (s *HTTPSource) Next(ctx context.Context) (Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("requesting frame: %w", link.Classify(err))
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Frame{}, ErrNoFrame
	default:
		return Frame{}, fmt.Errorf("requesting frame: unexpected status %s", resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("decoding frame: %w", err)
	}

	s.seq++
	return Frame{Image: img, Seq: s.seq, Timestamp: time.Now()}, nil
}

// DirSource replays frames saved as {timestep}.jpg in a trajectory directory,
// starting at timestep 1. It returns io.EOF after the last frame.
type DirSource struct {
	dir  string
	next int
}

// NewDirSource creates a replay source for dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, next: 1}
}

// Next loads the next recorded frame
func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	img, err := Load(FramePath(s.dir, s.next))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}

	f := Frame{Image: img, Seq: uint64(s.next), Timestamp: time.Now()}
	s.next++

	return f, nil
}

// FramePath returns the path of the frame recorded at timestep
func FramePath(dir string, timestep int) string {
	return filepath.Join(dir, strconv.Itoa(timestep)+".jpg")
}

// Load decodes an image file
func Load(path string) (img image.Image, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	defer func() {
		if cErr := f.Close(); cErr != nil && err == nil {
			err = cErr
		}
	}()

	if img, _, err = image.Decode(f); err != nil {
		return nil, fmt.Errorf("decoding frame %s: %w", path, err)
	}
	return img, nil
}
