package link

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/roman-kulish/drone-dagger/internal/telemetry"
)

// navdataQuery asks the server for a fresh navdata document
var navdataQuery = []byte(`{"N":true}` + "\n")

// maxNavdataSize bounds one navdata response line
const maxNavdataSize = 64 * 1024

// TelemetryLink polls navdata over TCP: it writes a query and reads one JSON line back
type TelemetryLink struct {
	conn

	reader *bufio.Reader
	now    func() time.Time
}

// NewTelemetryLink creates a telemetry link to address. Call Connect before Next.
func NewTelemetryLink(address string, options ...Option) *TelemetryLink {
	l := TelemetryLink{now: time.Now}
	l.init(address, options)

	return &l
}

// Connect dials the remote end
func (l *TelemetryLink) Connect(ctx context.Context) error {
	if err := l.conn.Connect(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.reader = bufio.NewReaderSize(l.conn.conn, maxNavdataSize)
	l.mu.Unlock()

	return nil
}

// Next queries and decodes one telemetry sample
func (l *TelemetryLink) Next(ctx context.Context) (telemetry.Telemetry, error) {
	nc, err := l.current(ctx)
	if err != nil {
		return telemetry.Telemetry{}, err
	}

	if _, err = nc.Write(navdataQuery); err != nil {
		return telemetry.Telemetry{}, fmt.Errorf("writing navdata query: %w", Classify(err))
	}

	l.mu.Lock()
	reader := l.reader
	l.mu.Unlock()

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return telemetry.Telemetry{}, fmt.Errorf("reading navdata: %w", Classify(err))
	}

	t, err := telemetry.Decode(line, l.now())
	if err != nil {
		return telemetry.Telemetry{}, err
	}

	return *t, nil
}
