package dagger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roman-kulish/drone-dagger/internal/command"
	"github.com/roman-kulish/drone-dagger/internal/trajectory"
)

const (
	AggregateFeaturesFile = "aggregate_features.data"
	AggregateCommandsFile = "aggregate_cmds.data"
)

// ErrDataIntegrity is returned when persisted features and commands disagree
// or cannot be parsed
var ErrDataIntegrity = errors.New("data integrity error")

// Dataset is a feature matrix with one scalar target per row
type Dataset struct {
	Features [][]float64
	Targets  []float64
}

// Len returns the number of rows
func (d *Dataset) Len() int {
	return len(d.Features)
}

// Dim returns the feature dimension, 0 for an empty dataset
func (d *Dataset) Dim() int {
	if len(d.Features) == 0 {
		return 0
	}
	return len(d.Features[0])
}

// Append adds rows from another dataset after checking shapes
func (d *Dataset) Append(features [][]float64, targets []float64) error {
	if len(features) != len(targets) {
		return fmt.Errorf("%w: %d feature rows for %d commands", ErrDataIntegrity, len(features), len(targets))
	}

	dim := d.Dim()
	for i, row := range features {
		if dim == 0 {
			dim = len(row)
		}
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrDataIntegrity, i+1, len(row), dim)
		}
	}

	d.Features = append(d.Features, features...)
	d.Targets = append(d.Targets, targets...)
	return nil
}

// loadTrajectory reads one trajectory's features and expert X targets
func loadTrajectory(dir string) ([][]float64, []float64, error) {
	rows, err := trajectory.LoadFeatures(filepath.Join(dir, trajectory.FeaturesFile))
	if err != nil {
		return nil, nil, err
	}

	cmds, err := trajectory.LoadCommands(filepath.Join(dir, trajectory.ExpertCommandsFile))
	if err != nil {
		return nil, nil, err
	}

	if len(rows) != len(cmds) {
		return nil, nil, fmt.Errorf("%w: %s has %d feature rows and %d expert commands",
			ErrDataIntegrity, dir, len(rows), len(cmds))
	}

	features := make([][]float64, len(rows))
	targets := make([]float64, len(cmds))
	for i := range rows {
		features[i] = rows[i].Features
		targets[i] = cmds[i].X
	}

	return features, targets, nil
}

// writeAggregate replaces the aggregate files in root with the content of d
func writeAggregate(root string, d *Dataset) error {
	err := writeFileAtomic(filepath.Join(root, AggregateFeaturesFile), func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, row := range d.Features {
			for i, f := range row {
				if i > 0 {
					_ = bw.WriteByte(' ')
				}
				_, _ = bw.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
			}
			if err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
	if err != nil {
		return fmt.Errorf("writing aggregate features: %w", err)
	}

	err = writeFileAtomic(filepath.Join(root, AggregateCommandsFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		for _, x := range d.Targets {
			if err := enc.Encode(command.Command{X: x}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing aggregate commands: %w", err)
	}

	return nil
}

// readAggregate loads the aggregate files in root. Missing files yield an empty dataset.
func readAggregate(root string) (*Dataset, error) {
	var d Dataset

	features, err := os.ReadFile(filepath.Join(root, AggregateFeaturesFile))
	if errors.Is(err, os.ErrNotExist) {
		return &d, nil
	}
	if err != nil {
		return nil, err
	}

	cmds, err := trajectory.LoadCommands(filepath.Join(root, AggregateCommandsFile))
	if errors.Is(err, os.ErrNotExist) {
		return &d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataIntegrity, err)
	}

	var rows [][]float64
	for n, line := range strings.Split(string(features), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		values, err := trajectory.ParseFloats(line)
		if err != nil {
			return nil, fmt.Errorf("%w: aggregate features line %d: %w", ErrDataIntegrity, n+1, err)
		}
		rows = append(rows, values)
	}

	targets := make([]float64, len(cmds))
	for i, cmd := range cmds {
		targets[i] = cmd.X
	}

	if err = d.Append(rows, targets); err != nil {
		return nil, err
	}
	return &d, nil
}

// writeFileAtomic writes path through a temporary file renamed into place
func writeFileAtomic(path string, write func(w io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
