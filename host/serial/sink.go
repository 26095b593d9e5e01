package serial

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gopperplr/log"
)

var (
	ErrPrinter = errors.New("serial: printer reported an error")
	ErrTimeout = errors.New("serial: no reply from printer")
)

// DefaultReplyTimeout is how long the sink waits without hearing anything
// from the printer. Busy and temperature reports restart the wait.
const DefaultReplyTimeout = 30 * time.Second

// Sink sends G-code lines to a printer and waits for each to be
// acknowledged. It is not safe for concurrent use.
type Sink struct {
	port    Port
	timeout time.Duration
	log     zerolog.Logger

	buf   []byte
	chunk [256]byte
}

// NewSink wraps port. The port should have a read timeout so replies are
// polled and the context is honoured.
func NewSink(port Port) *Sink {
	return &Sink{
		port:    port,
		timeout: DefaultReplyTimeout,
		log:     log.WithComponent("serial"),
	}
}

// SetTimeout changes the reply timeout
func (s *Sink) SetTimeout(d time.Duration) {
	s.timeout = d
}

// SetLogger replaces the sink logger
func (s *Sink) SetLogger(l zerolog.Logger) {
	s.log = l
}

// Execute writes line and waits for "ok". An "Error" or "!!" reply fails
// the command.
func (s *Sink) Execute(ctx context.Context, line string) error {
	s.log.Debug().Str("line", line).Msg("send")
	if _, err := io.WriteString(s.port, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}

	var failure string
	for {
		reply, err := s.readLine(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", line, err)
		}
		switch {
		case strings.HasPrefix(reply, "ok"):
			if failure != "" {
				return fmt.Errorf("%w: %s: %s", ErrPrinter, line, failure)
			}
			return nil
		case strings.HasPrefix(reply, "Error"), strings.HasPrefix(reply, "!!"):
			failure = reply
			if strings.HasPrefix(reply, "!!") {
				return fmt.Errorf("%w: %s: %s", ErrPrinter, line, failure)
			}
		default:
			s.log.Debug().Str("reply", reply).Msg("printer")
		}
	}
}

// readLine returns the next non-empty line from the port
func (s *Sink) readLine(ctx context.Context) (string, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
			line := strings.TrimSpace(string(s.buf[:i]))
			s.buf = s.buf[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}

		n, err := s.port.Read(s.chunk[:])
		s.buf = append(s.buf, s.chunk[:n]...)
		if n > 0 {
			deadline = time.Now().Add(s.timeout)
		}
		// A read timeout surfaces as io.EOF on some platforms
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
	}
}
