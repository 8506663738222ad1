package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
)

const (
	ImagePNG  = "png"
	ImageJPEG = "jpeg"
)

type ImageFormat string

type Config struct {
	DataDir    string
	Iteration  int
	Trajectory int
	DBPath     string
	OutputFile string
	Format     ImageFormat
	Theme      ColorTheme
	CellSize   int
	Overlays   bool
	ThumbWidth int
	Verbose    bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

var validThemes = map[ColorTheme]struct{}{
	ClassicTheme:   {},
	GrayscaleTheme: {},
	JungleTheme:    {},
	ThermalTheme:   {},
	MarineTheme:    {},
}

func NewConfig() *Config {
	return &Config{
		DataDir:    "data",
		Iteration:  1,
		Trajectory: 1,
		Format:     ImagePNG,
		Theme:      ClassicTheme,
		CellSize:   3,
	}
}

func NewConfigFromCLI() (*Config, error) {
	return parseConfig(flag.CommandLine, os.Args[1:])
}

func parseConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	c := NewConfig()

	var imageFormat, theme string
	fs.StringVar(&c.DataDir, "d", c.DataDir, "Path to the data directory")
	fs.IntVar(&c.Iteration, "i", c.Iteration, "DAgger iteration")
	fs.IntVar(&c.Trajectory, "t", c.Trajectory, "Trajectory within the iteration")
	fs.StringVar(&c.DBPath, "db", "", "Path to the flights database, enables the telemetry summary")
	fs.StringVar(&c.OutputFile, "o", "", "Path to the output file, without extension")
	fs.StringVar(&imageFormat, "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&theme, "theme", string(ClassicTheme), "Heatmap color theme. [classic, grayscale, jungle, thermal, marine]")
	fs.IntVar(&c.CellSize, "cell", c.CellSize, "Heatmap cell size in pixels")
	fs.BoolVar(&c.Overlays, "overlays", false, "Render command overlays for every recorded frame")
	fs.IntVar(&c.ThumbWidth, "thumb", 0, "Resize overlays to this width, 0 keeps the frame size")
	fs.BoolVar(&c.Verbose, "verbose", false, "Enable more verbose output")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)
	theme = strings.ToLower(theme)

	var err error
	switch {
	case c.DataDir == "":
		err = errors.New("data directory is required")
	case c.Iteration <= 0 || c.Trajectory <= 0:
		err = errors.New("iteration and trajectory must be positive")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.CellSize <= 0:
		err = errors.New("cell size must be positive")
	case c.ThumbWidth < 0:
		err = errors.New("thumbnail width must not be negative")
	}
	if err == nil {
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		} else if _, ok = validThemes[ColorTheme(theme)]; !ok {
			err = fmt.Errorf("invalid color theme: %s", theme)
		}
	}

	if err != nil {
		fs.Usage()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.Theme = ColorTheme(theme)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}
