package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/jovian/internal/logx"
	"pkt.systems/jovian/schema"
	"pkt.systems/pslog"
)

// MalformedEventHandler observes progress lines that failed schema
// validation. A malformed line is a warning, never a stream failure.
type MalformedEventHandler func(line string, err error)

// ProgressStream is a pull-based, finite sequence of progress events,
// terminated by the first Ready or Failed event. A stalled backend is cut
// off by the idle watchdog; Close aborts the connection immediately.
type ProgressStream struct {
	events      chan schema.ProgressEvent
	body        io.ReadCloser
	activity    chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	doneOnce    sync.Once
	idleFired   atomic.Bool
	errMu       sync.Mutex
	err         error
	log         pslog.Logger
	onMalformed MalformedEventHandler
}

// StreamProgress opens the hub's progress event stream for a tenant.
func (c *Client) StreamProgress(ctx context.Context, tenant schema.TenantID) (*ProgressStream, error) {
	return c.StreamProgressWith(ctx, tenant, nil)
}

// StreamProgressWith opens the progress stream with a malformed-event
// side channel.
func (c *Client) StreamProgressWith(ctx context.Context, tenant schema.TenantID, onMalformed MalformedEventHandler) (*ProgressStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("users", string(tenant), "server", "progress"), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "token "+c.cfg.Token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, schema.WrapError(schema.KindTransient, "open progress stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		discard(resp)
		return nil, schema.NewError(schema.KindProtocol, fmt.Sprintf("progress stream returned status %d", resp.StatusCode))
	}

	stream := &ProgressStream{
		events:      make(chan schema.ProgressEvent, 256),
		body:        resp.Body,
		activity:    make(chan struct{}, 1),
		done:        make(chan struct{}),
		log:         logx.WithTenant(ctx, tenant),
		onMalformed: onMalformed,
	}
	go stream.watchdog(c.cfg.IdleTimeout)
	go stream.read()
	return stream, nil
}

func (s *ProgressStream) read() {
	defer s.finish()
	scanner := bufio.NewScanner(s.body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		s.touch()
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var event schema.ProgressEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			if s.log != nil {
				s.log.Warn("malformed progress event", "preview", preview(data, 200), "err", err)
			}
			if s.onMalformed != nil {
				s.onMalformed(data, err)
			}
			continue
		}
		// A consumer that walked away leaves the buffer full; done is
		// the producer's exit path.
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
		if event.Terminal() {
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if s.idleFired.Load() {
			s.setErr(schema.WrapError(schema.KindTransient, "progress stream stalled", schema.ErrIdleTimeout))
			return
		}
		s.setErr(schema.WrapError(schema.KindProtocol, "progress stream read", schema.ErrStreamCorrupt))
	}
}

func (s *ProgressStream) watchdog(idle time.Duration) {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			s.idleFired.Store(true)
			if s.log != nil {
				s.log.Warn("progress stream idle timeout, aborting connection")
			}
			s.closeBody()
			return
		}
	}
}

func (s *ProgressStream) touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

func (s *ProgressStream) finish() {
	s.markDone()
	s.closeBody()
	close(s.events)
}

func (s *ProgressStream) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *ProgressStream) closeBody() {
	s.closeOnce.Do(func() { _ = s.body.Close() })
}

func (s *ProgressStream) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Next returns the next event. io.EOF marks normal exhaustion after a
// terminal event; schema.ErrIdleTimeout surfaces through a tagged error
// when the watchdog fired.
func (s *ProgressStream) Next(ctx context.Context) (schema.ProgressEvent, error) {
	select {
	case <-ctx.Done():
		s.markDone()
		s.closeBody()
		return schema.ProgressEvent{}, ctx.Err()
	case event, ok := <-s.events:
		if ok {
			return event, nil
		}
		s.errMu.Lock()
		err := s.err
		s.errMu.Unlock()
		if err != nil {
			return schema.ProgressEvent{}, err
		}
		return schema.ProgressEvent{}, io.EOF
	}
}

// Close aborts the underlying connection and releases the producer even
// when the event buffer is full. Safe to call at any time.
func (s *ProgressStream) Close() error {
	s.markDone()
	s.closeBody()
	return nil
}

func preview(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	return value[:max]
}
