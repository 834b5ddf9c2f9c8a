package vsock

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// Client is the guest-side end of the control channel. One goroutine owns
// the read loop; callers issue concurrent requests and each blocks only
// its own goroutine until the matching response id arrives.
type Client struct {
	conn net.Conn

	mu      sync.Mutex // guards pending and serializes frame writes
	pending map[string]chan *Response

	idCounter atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a host listener over a unix socket.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection and starts the read loop.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan *Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.failPending()
	for {
		payload, err := ReadFrame(c.conn)
		if err != nil {
			return
		}
		msg, err := DecodeMessage(payload)
		if err != nil {
			continue
		}
		if msg.Response == nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.Response.ID]
		if ok {
			delete(c.pending, msg.Response.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg.Response
		}
	}
}

// failPending closes every outstanding call channel so callers resolve
// with ErrConnClosed instead of hanging.
func (c *Client) failPending() {
	c.closeOnce.Do(func() { close(c.closed) })
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) nextID() string {
	return fmt.Sprintf("r%d", c.idCounter.Add(1))
}

// Call sends a request and blocks until the matching response arrives,
// the context is done, or the connection closes.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID()
	msg, err := NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	data, err := msg.Encode()
	if err != nil {
		return nil, err
	}

	respCh := make(chan *Response, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return nil, ErrConnClosed
	default:
	}
	c.pending[id] = respCh
	err = WriteFrame(c.conn, data)
	c.mu.Unlock()

	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case resp, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("%w while waiting for %s response", ErrConnClosed, method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, *resp.Error)
		}
		return resp.Result, nil
	case <-c.closed:
		return nil, fmt.Errorf("%w while waiting for %s response", ErrConnClosed, method)
	}
}

// Notify sends a notification and returns once the write completes.
func (c *Client) Notify(method string, params any) error {
	msg, err := NewNotification(method, params)
	if err != nil {
		return err
	}
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	return WriteFrame(c.conn, data)
}

// Close shuts the connection and fails all outstanding calls.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.failPending()
	return err
}
