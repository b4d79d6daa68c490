package live

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskmatrix/domain"
)

const (
	minBackoff   = time.Second
	maxBackoff   = 5 * time.Second
	maxFrameSize = 1 << 20
)

// Streamer opens an authenticated event stream.
type Streamer interface {
	OpenStream(ctx context.Context, path string) (io.ReadCloser, error)
}

type sseConn struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SSE follows one server-sent event stream per joined board and reconnects
// with exponential backoff while the board stays joined.
type SSE struct {
	streamer Streamer
	logger   *log.Logger
	events   chan domain.Event

	minBackoff time.Duration
	maxBackoff time.Duration

	mu     sync.Mutex
	boards map[string]*sseConn
	closed bool
}

func NewSSE(streamer Streamer, logger *log.Logger) *SSE {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &SSE{
		streamer:   streamer,
		logger:     logger,
		events:     make(chan domain.Event, eventBuffer),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		boards:     make(map[string]*sseConn),
	}
}

func (s *SSE) Events() <-chan domain.Event { return s.events }

// Join starts following the board. Joining twice is a no-op.
func (s *SSE) Join(_ context.Context, boardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.boards[boardID]; ok {
		return nil
	}
	// the stream must outlive the caller's request context
	ctx, cancel := context.WithCancel(context.Background())
	conn := &sseConn{cancel: cancel, done: make(chan struct{})}
	s.boards[boardID] = conn
	go s.follow(ctx, boardID, conn.done)
	s.logger.WithField("board", boardID).Debug("joined board stream")
	return nil
}

func (s *SSE) Leave(_ context.Context, boardID string) error {
	s.mu.Lock()
	conn, ok := s.boards[boardID]
	delete(s.boards, boardID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	conn.cancel()
	<-conn.done
	s.logger.WithField("board", boardID).Debug("left board stream")
	return nil
}

// Close leaves every board and closes the events channel.
func (s *SSE) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.boards
	s.boards = make(map[string]*sseConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		<-c.done
	}
	close(s.events)
	return nil
}

func (s *SSE) follow(ctx context.Context, boardID string, done chan struct{}) {
	defer close(done)
	path := "/stream?board=" + url.QueryEscape(boardID)
	logger := s.logger.WithField("board", boardID)
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		body, err := s.streamer.OpenStream(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("open event stream failed, retrying in %v: %v", backoff, err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.maxBackoff)
			continue
		}
		backoff = s.minBackoff
		err = s.read(ctx, body, logger)
		body.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("event stream ended, reconnecting in %v: %v", backoff, err)
		if !sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// read dispatches frames until the stream ends. Frames follow the SSE line
// format: "event:" names the kind, "data:" lines are joined, a blank line
// ends the frame and lines starting with ':' are comments.
func (s *SSE) read(ctx context.Context, body io.Reader, logger *log.Entry) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var kind string
	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if data.Len() > 0 {
				s.dispatch(ctx, kind, data.Bytes(), logger)
			}
			kind = ""
			data.Reset()
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("event:")):
			kind = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(line[len("data:"):], []byte(" ")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (s *SSE) dispatch(ctx context.Context, kind string, data []byte, logger *log.Entry) {
	var (
		ev  domain.Event
		err error
	)
	if kind == "" || kind == "message" {
		ev, err = decodeEnvelope(data)
	} else {
		ev, err = decodeEvent(kind, data)
	}
	if err != nil {
		logger.Warnf("dropping malformed event: %v", err)
		return
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
