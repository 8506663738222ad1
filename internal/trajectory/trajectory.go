package trajectory

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/roman-kulish/drone-dagger/internal/command"
)

const (
	FeaturesFile       = "features.data"
	DroneCommandsFile  = "drone_cmds.data"
	ExpertCommandsFile = "expert_cmds.data"
	AnnotatedDir       = "annotated"
)

// ErrMalformed is returned when a dataset file cannot be parsed
var ErrMalformed = errors.New("malformed dataset file")

// Row is one line of a features file
type Row struct {
	Timestep int
	Features []float64
}

// IterationDir returns the directory holding the trajectories of an iteration
func IterationDir(root string, iteration int) string {
	return filepath.Join(root, strconv.Itoa(iteration))
}

// Dir returns the directory of a trajectory inside the data root
func Dir(root string, iteration, trajectory int) string {
	return filepath.Join(IterationDir(root, iteration), strconv.Itoa(trajectory))
}

// Trajectories lists the trajectory directories of an iteration, numbered from 1
// upward and stopping at the first missing one.
func Trajectories(root string, iteration int) ([]string, error) {
	var dirs []string

	for j := 1; ; j++ {
		dir := Dir(root, iteration, j)

		info, err := os.Stat(dir)
		if errors.Is(err, os.ErrNotExist) {
			return dirs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("checking trajectory %d: %w", j, err)
		}
		if !info.IsDir() {
			return dirs, nil
		}

		dirs = append(dirs, dir)
	}
}

// FormatFeatures encodes a features row prefixed by its timestep
func FormatFeatures(timestep int, features []float64) string {
	var sb strings.Builder

	sb.WriteString(strconv.Itoa(timestep))
	for _, f := range features {
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	sb.WriteByte('\n')

	return sb.String()
}

// ParseFloats parses one whitespace-delimited numeric row
func ParseFloats(line string) ([]float64, error) {
	fields := strings.Fields(line)

	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %w", ErrMalformed, i+1, err)
		}
		values[i] = v
	}

	return values, nil
}

// ReadFeatures parses a features file. Every row carries its timestep in the first
// column and all rows have the same length.
func ReadFeatures(r io.Reader) ([]Row, error) {
	var rows []Row

	err := scanLines(r, func(n int, line string) error {
		values, err := ParseFloats(line)
		if err != nil {
			return err
		}
		if len(values) < 2 {
			return fmt.Errorf("%w: row without features", ErrMalformed)
		}
		if len(rows) > 0 && len(values)-1 != len(rows[0].Features) {
			return fmt.Errorf("%w: expected %d features, got %d", ErrMalformed, len(rows[0].Features), len(values)-1)
		}

		rows = append(rows, Row{Timestep: int(values[0]), Features: values[1:]})
		return nil
	})

	return rows, err
}

// ReadCommands parses a file of JSON commands, one per line
func ReadCommands(r io.Reader) ([]command.Command, error) {
	var cmds []command.Command

	err := scanLines(r, func(n int, line string) error {
		cmd, err := command.Decode([]byte(line))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		cmds = append(cmds, cmd)
		return nil
	})

	return cmds, err
}

// LoadFeatures reads a features file from disk
func LoadFeatures(path string) (rows []Row, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeWithError(f, &err)

	if rows, err = ReadFeatures(f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return rows, nil
}

// LoadCommands reads a commands file from disk
func LoadCommands(path string) (cmds []command.Command, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer closeWithError(f, &err)

	if cmds, err = ReadCommands(f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return cmds, nil
}

// SaveCommands replaces the commands file at path. The lines are written to a
// temporary file in the same directory and renamed into place, so a failed
// save leaves the previous file untouched.
func SaveCommands(path string, cmds []command.Command) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temporary commands file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for i, cmd := range cmds {
		p, err := cmd.Encode()
		if err != nil {
			return fmt.Errorf("encoding command %d: %w", i+1, err)
		}
		if _, err = w.Write(p); err != nil {
			return err
		}
	}

	if err = w.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// scanLines calls fn for every non-blank line
func scanLines(r io.Reader, fn func(n int, line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for n := 1; scanner.Scan(); n++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := fn(n, line); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}

	return scanner.Err()
}

func closeWithError(cl io.Closer, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
