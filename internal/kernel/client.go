package kernel

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/jovian/schema"
)

// Channel is the persistent connection carrying kernel messages. It exists
// so execution logic can be exercised against scripted stubs.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// wsChannel is the websocket-backed Channel.
type wsChannel struct {
	conn *websocket.Conn
}

// Connect dials a kernel's channels endpoint. The returned channel stays
// open for the life of the conversation; it is never closed in normal
// operation.
func Connect(ctx context.Context, wsURL, token string) (Channel, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "token "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		return nil, schema.WrapError(schema.KindTransient, "dial kernel channels", err)
	}
	return &wsChannel{conn: conn}, nil
}

func (c *wsChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	stop := c.abortOnCancel(ctx, c.conn.SetWriteDeadline)
	err := c.conn.WriteJSON(msg)
	stop()
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *wsChannel) Recv(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)
	stop := c.abortOnCancel(ctx, c.conn.SetReadDeadline)
	var msg Message
	err := c.conn.ReadJSON(&msg)
	stop()
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, err
	}
	return msg, nil
}

// abortOnCancel expires the in-flight read or write when ctx is canceled,
// so cancellation propagates into blocked websocket calls. An expired
// deadline corrupts the connection per gorilla's contract; callers treat
// the failed call as a broken channel and reconnect.
func (c *wsChannel) abortOnCancel(ctx context.Context, setDeadline func(time.Time) error) (stop func()) {
	stopped := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		select {
		case <-ctx.Done():
			_ = setDeadline(time.Now())
		case <-stopped:
		}
	}()
	return func() {
		close(stopped)
		<-finished
	}
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}
