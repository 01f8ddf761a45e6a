package windowsync

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var ErrNoTransport = errors.New("no cross-window transport available")

// Transport delivers messages to the other windows of the same origin.
// Send is fire and forget; duplicates and reordering are possible.
type Transport interface {
	Name() string
	Send(msg Message) error
	// Listen sets the handler for inbound messages. Messages the transport
	// receives before Listen is called are held until then.
	Listen(fn func(Message))
	Close() error
}

// TransportFactory constructs one kind of transport.
type TransportFactory struct {
	Name string
	New  func() (Transport, error)
}

// SelectTransport returns the first transport that can be constructed, in
// the order given. If none can, the returned error wraps ErrNoTransport.
func SelectTransport(factories ...TransportFactory) (Transport, error) {
	var errs []error
	for _, f := range factories {
		if f.New == nil {
			continue
		}
		t, err := f.New()
		if err != nil {
			log.Debug().Err(err).Str("transport", f.Name).Msg("transport unavailable")
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		return t, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoTransport
	}
	return nil, fmt.Errorf("%w: %w", ErrNoTransport, errors.Join(errs...))
}
