package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/acpconductor/conductor/internal/port/connector"
	"github.com/acpconductor/conductor/pkg/acp"
)

// Pipe connects to a pipeline component over a pair of already-open streams
// rather than spawning a subprocess. This is how the conductor talks to the
// client: the client is whatever spawned the conductor itself, so the
// conductor's own stdin/stdout are the wire, not a subprocess's.
type Pipe struct {
	r io.Reader
	w io.Writer

	mu      sync.Mutex
	started bool
}

// NewPipe wraps r/w as a Connector. Close does not close r/w, since the
// conductor does not own the lifetime of its own stdin/stdout.
func NewPipe(r io.Reader, w io.Writer) *Pipe {
	return &Pipe{r: r, w: w}
}

// Connect begins scanning r for frames.
func (p *Pipe) Connect(ctx context.Context) (<-chan connector.Event, error) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil, errors.New("connector: pipe connector already connected")
	}
	p.started = true
	p.mu.Unlock()

	events := make(chan connector.Event, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(p.r)
		scanner.Buffer(make([]byte, scannerBufferSize), scannerBufferSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			if len(line) == 0 {
				continue
			}
			frame, err := acp.Decode(line)
			if err != nil {
				events <- connector.Event{Err: fmt.Errorf("connector: %w", err)}
				return
			}
			events <- connector.Event{Frame: frame}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
			events <- connector.Event{Err: fmt.Errorf("connector: reading pipe: %w", err)}
			return
		}
		events <- connector.Event{Err: fmt.Errorf("connector: %w", io.EOF)}
	}()

	return events, nil
}

// Send writes one frame followed by a newline.
func (p *Pipe) Send(ctx context.Context, frame []byte) error {
	if _, err := p.w.Write(append(append([]byte(nil), frame...), '\n')); err != nil {
		return fmt.Errorf("connector: writing frame: %w", err)
	}
	return nil
}

// Close is a no-op: the conductor does not own its own stdin/stdout.
func (p *Pipe) Close() error {
	return nil
}

var _ connector.Connector = (*Pipe)(nil)
