package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/acpconductor/conductor/internal/port/connector"
	"github.com/acpconductor/conductor/pkg/acp"
)

// InProcess is a Connector backed by a pair of Go channels rather than a
// real transport. NewInProcessPair wires two of them together so that Send
// on one surfaces as an inbound Event on the other. Used for deterministic
// router tests and for in-process fakes standing in for a real client or
// agent.
type InProcess struct {
	mu        sync.Mutex
	out       chan []byte
	outClosed bool

	in <-chan connector.Event
}

// NewInProcessPair returns two linked in-process connectors: frames sent on
// a arrive as events on b, and vice versa. Closing one side closes that
// side's outbound channel, which ends the other side's inbound event
// stream with an io.EOF error event — modelling an ordinary disconnect.
func NewInProcessPair() (a, b *InProcess) {
	abChan := make(chan []byte, 16)
	baChan := make(chan []byte, 16)
	a = &InProcess{out: abChan}
	b = &InProcess{out: baChan}
	a.in = relay(baChan)
	b.in = relay(abChan)
	return a, b
}

// relay decodes every frame written to raw into an Event stream. When raw is
// closed it reports io.EOF as a final error event and ends the stream, the
// same way the stdio and pipe connectors report a disconnect.
func relay(raw <-chan []byte) <-chan connector.Event {
	events := make(chan connector.Event, 16)
	go func() {
		defer close(events)
		for frame := range raw {
			f, err := acp.Decode(frame)
			if err != nil {
				events <- connector.Event{Err: err}
				return
			}
			events <- connector.Event{Frame: f}
		}
		events <- connector.Event{Err: fmt.Errorf("connector: %w", io.EOF)}
	}()
	return events
}

// Connect returns the inbound event stream.
func (p *InProcess) Connect(ctx context.Context) (<-chan connector.Event, error) {
	return p.in, nil
}

// Send writes frame to the paired connector's inbound stream.
func (p *InProcess) Send(ctx context.Context, frame []byte) error {
	p.mu.Lock()
	if p.outClosed {
		p.mu.Unlock()
		return errors.New("connector: closed")
	}
	out := p.out
	p.mu.Unlock()

	select {
	case out <- append([]byte(nil), frame...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes this side's outbound channel, which ends the paired
// connector's inbound event stream. Idempotent.
func (p *InProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outClosed {
		return nil
	}
	p.outClosed = true
	close(p.out)
	return nil
}

var _ connector.Connector = (*InProcess)(nil)
