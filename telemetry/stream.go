package telemetry

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream broadcasts each flushed window as JSON to connected WebSocket
// clients. It is an http.Handler; mount it at /stream.
type Stream struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]bool
	upgrader   websocket.Upgrader
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
	log        *slog.Logger
}

// NewStream creates a stream and starts its broadcaster goroutine.
func NewStream(log *slog.Logger) *Stream {
	if log == nil {
		log = slog.Default()
	}
	s := &Stream{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// ServeHTTP upgrades the request and keeps the client registered until it
// disconnects.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", "error", err)
		return
	}

	select {
	case s.register <- conn:
	case <-s.done:
		conn.Close()
		return
	}

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	select {
	case s.unregister <- conn:
	case <-s.done:
	}
}

// Publish queues a window for broadcast. It never blocks the simulation:
// when the queue is full the window is dropped.
func (s *Stream) Publish(stats WindowStats) {
	if s == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		s.log.Error("stream marshal failed", "error", err)
		return
	}
	select {
	case s.broadcast <- data:
	case <-s.done:
	default:
		s.log.Debug("stream queue full, dropping window", "window_end", stats.WindowEnd)
	}
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return

		case conn := <-s.register:
			s.mu.Lock()
			s.clients[conn] = true
			s.mu.Unlock()

		case conn := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[conn]; ok {
				delete(s.clients, conn)
				conn.Close()
			}
			s.mu.Unlock()

		case data := <-s.broadcast:
			s.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.mu.RUnlock()

			var failed []*websocket.Conn
			for _, conn := range conns {
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					failed = append(failed, conn)
					conn.Close()
				}
			}

			if len(failed) > 0 {
				s.mu.Lock()
				for _, conn := range failed {
					delete(s.clients, conn)
				}
				s.mu.Unlock()
			}
		}
	}
}

// Close disconnects all clients and stops the broadcaster. It is safe to
// call more than once.
func (s *Stream) Close() error {
	if s == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.mu.Lock()
		for conn := range s.clients {
			conn.Close()
			delete(s.clients, conn)
		}
		s.mu.Unlock()
	})
	return nil
}
