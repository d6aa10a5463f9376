package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/marketpulse/internal/adapter/metrics"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 64
)

// Writer owns all writes to one WebSocket connection. Messages are queued in
// a bounded channel and written in order by a single goroutine; a client that
// lets the queue fill up is disconnected instead of stalling the fan-out.
type Writer struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	metrics     *metrics.StreamMetrics
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewWriter starts the write loop for connection. It also installs the pong
// handler that keeps the read deadline alive.
func NewWriter(connection *websocket.Conn, clock clockwork.Clock, m *metrics.StreamMetrics) *Writer {
	w := newWriter(connection, clock, m)
	w.wg.Add(1)
	go w.run()
	return w
}

func newWriter(connection *websocket.Conn, clock clockwork.Clock, m *metrics.StreamMetrics) *Writer {
	w := &Writer{
		connection:  connection,
		clock:       clock,
		metrics:     m,
		sendChannel: make(chan []byte, messageBufferSize),
		doneChannel: make(chan struct{}),
	}
	w.ExtendReadDeadline()
	connection.SetPongHandler(func(string) error {
		w.ExtendReadDeadline()
		return nil
	})
	return w
}

// Send enqueues msg without blocking. A full queue evicts the client.
func (w *Writer) Send(msg []byte) error {
	select {
	case <-w.doneChannel:
		return ErrConnectionClosed
	default:
	}

	select {
	case w.sendChannel <- msg:
		return nil
	default:
		slog.Warn("Disconnecting slow client", "remote_addr", w.connection.RemoteAddr().String())
		w.metrics.SlowClientsEvicted.Inc()
		w.abort()
		return ErrSendBufferFull
	}
}

// ExtendReadDeadline pushes the read deadline out by the pong window.
// The session calls it for every inbound frame as well.
func (w *Writer) ExtendReadDeadline() {
	_ = w.connection.SetReadDeadline(w.clock.Now().Add(pongDeadline))
}

func (w *Writer) run() {
	ticker := w.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer w.wg.Done()

	for {
		select {
		case msg := <-w.sendChannel:
			start := w.clock.Now()
			w.updateWriteDeadline()
			if err := w.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("Write failed, closing connection", "error", err)
				w.abort()
				return
			}
			w.metrics.WriteDuration.Observe(w.clock.Since(start).Seconds())
		case <-ticker.Chan():
			w.updateWriteDeadline()
			if err := w.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				w.abort()
				return
			}
		case <-w.doneChannel:
			return
		}
	}
}

// abort closes the socket without waiting for the write loop. Safe to call
// while holding the registry lock.
func (w *Writer) abort() {
	w.stopOnce.Do(func() {
		close(w.doneChannel)
		_ = w.connection.Close()
	})
}

// Stop closes the connection and waits for the write loop to exit.
func (w *Writer) Stop() {
	w.abort()
	w.wg.Wait()
}

// CloseGraceful sends a close frame with reason before closing.
func (w *Writer) CloseGraceful(reason string) {
	w.stopOnce.Do(func() {
		close(w.doneChannel)

		// The write loop must be gone before we touch the socket again.
		w.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
		w.updateWriteDeadline()
		_ = w.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = w.connection.Close()
	})
}

func (w *Writer) updateWriteDeadline() {
	_ = w.connection.SetWriteDeadline(w.clock.Now().Add(writeDeadline))
}
