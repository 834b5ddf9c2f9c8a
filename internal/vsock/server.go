package vsock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
)

// HandlerFunc processes one request's params and returns a result.
// Returning an error produces an error response on the wire.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NotifyFunc receives fire-and-forget notifications.
type NotifyFunc func(method string, params json.RawMessage)

// Server is the host-side listener for one VM's control socket. Each VM
// gets its own socket path, created before the hypervisor starts and
// removed at destroy.
type Server struct {
	path string
	ln   net.Listener

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	onNotify NotifyFunc

	wg     sync.WaitGroup
	closed chan struct{}
}

// Listen binds a unix socket at path, replacing any stale socket file
// left by a previous run.
func Listen(path string) (*Server, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	return &Server{
		path:     path,
		ln:       ln,
		handlers: make(map[string]HandlerFunc),
		closed:   make(chan struct{}),
	}, nil
}

// Path returns the socket path the server is bound to.
func (s *Server) Path() string {
	return s.path
}

// Handle registers a request handler for a method name.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// OnNotification registers the notification sink.
func (s *Server) OnNotification(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotify = fn
}

// Serve accepts connections until the listener is closed or ctx is done.
// Each connection is handled on its own goroutine with a context that is
// cancelled when the server closes, so in-flight handlers cannot outlive
// Close.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			cctx, cancel := context.WithCancel(ctx)
			defer cancel()
			go func() {
				select {
				case <-s.closed:
				case <-cctx.Done():
				}
				cancel()
				conn.Close()
			}()
			s.serveConn(cctx, conn)
		}()
	}
}

// serveConn reads frames and dispatches them. Requests run concurrently —
// a slow handler must not block responses for later requests on the same
// connection — with writes serialized by a per-connection mutex.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var writeMu sync.Mutex
	writeMsg := func(m *Message) {
		data, err := m.Encode()
		if err != nil {
			log.Printf("vsock: encode response: %v", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := WriteFrame(conn, data); err != nil {
			log.Printf("vsock: write response: %v", err)
		}
	}

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				// Protocol violation: drop the connection. The declared
				// length was never buffered.
				log.Printf("vsock: %v, closing connection", err)
			}
			return
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			log.Printf("vsock: %v", err)
			continue
		}

		switch {
		case msg.Request != nil:
			req := msg.Request
			s.mu.Lock()
			fn, ok := s.handlers[req.Method]
			s.mu.Unlock()
			if !ok {
				writeMsg(NewErrorResponse(req.ID, fmt.Sprintf("unknown method %q", req.Method)))
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				result, err := fn(ctx, req.Params)
				if err != nil {
					writeMsg(NewErrorResponse(req.ID, err.Error()))
					return
				}
				resp, err := NewResultResponse(req.ID, result)
				if err != nil {
					writeMsg(NewErrorResponse(req.ID, err.Error()))
					return
				}
				writeMsg(resp)
			}()

		case msg.Notification != nil:
			s.mu.Lock()
			fn := s.onNotify
			s.mu.Unlock()
			if fn != nil {
				fn(msg.Notification.Method, msg.Notification.Params)
			}

		case msg.Response != nil:
			// The host never issues requests on this socket; a response
			// here has no caller to route to.
			log.Printf("vsock: unexpected response for id %s", msg.Response.ID)
		}
	}
}

// Close stops accepting, cancels in-flight handler contexts, closes live
// connections, waits for the handlers to finish, and removes the socket
// file.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closed)
	}
	err := s.ln.Close()
	s.wg.Wait()
	_ = os.Remove(s.path)
	return err
}
