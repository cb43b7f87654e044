package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrDuplicateConnection is returned when the identity already holds a
// live connection in the partition. The new connection is not admitted.
var ErrDuplicateConnection = errors.New("identity already connected")

const writeWait = 10 * time.Second

// Manager is the role-partitioned registry of live connections and the
// dispatcher that writes to them. Receive loops, the liveness prober and
// request handlers all mutate it concurrently; every mutation goes
// through the partitions' atomic insert/remove.
type Manager struct {
	logger       *slog.Logger
	admins       *partition
	users        *partition
	pingInterval time.Duration
	pongTimeout  time.Duration
}

func NewManager(logger *slog.Logger, pingInterval, pongTimeout time.Duration) *Manager {
	return &Manager{
		logger:       logger,
		admins:       newPartition(),
		users:        newPartition(),
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
	}
}

// AddAdmin admits an administrator connection and starts its receive loop.
// A second connection for the same identity is rejected and closed.
func (m *Manager) AddAdmin(userID uuid.UUID, conn Conn) error {
	return m.add(m.admins, "admin", userID, conn)
}

// AddUser admits a regular user connection and starts its receive loop.
func (m *Manager) AddUser(userID uuid.UUID, conn Conn) error {
	return m.add(m.users, "user", userID, conn)
}

func (m *Manager) add(part *partition, role string, userID uuid.UUID, conn Conn) error {
	const op = "ws.Manager.add"

	ctx, cancel := context.WithCancel(context.Background())
	cl := newClient(userID, conn, cancel)

	if !part.add(cl) {
		cancel()
		conn.Close()
		m.logger.Warn("rejected duplicate websocket connection",
			slog.String("role", role),
			slog.String("user_id", userID.String()))
		return ErrDuplicateConnection
	}

	conn.SetPongHandler(func(string) error {
		cl.touch()
		return nil
	})

	go m.listen(ctx, part, cl)

	m.logger.Info("registered websocket connection",
		slog.String("role", role),
		slog.String("user_id", userID.String()))
	return nil
}

// RemoveAdmin evicts an administrator connection. Removing an absent
// identity is a no-op.
func (m *Manager) RemoveAdmin(userID uuid.UUID) {
	m.remove(m.admins, userID)
}

// RemoveUser evicts a regular user connection.
func (m *Manager) RemoveUser(userID uuid.UUID) {
	m.remove(m.users, userID)
}

// remove is idempotent: the receive loop's self-removal and the prober's
// eviction may both call it for the same identity.
func (m *Manager) remove(part *partition, userID uuid.UUID) {
	cl, ok := part.remove(userID)
	if !ok {
		return
	}

	cl.cancel()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed by server")
	if err := cl.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		m.logger.Debug("failed to send close frame",
			slog.String("user_id", userID.String()),
			slog.Any("err", err))
	}

	if err := cl.conn.Close(); err != nil {
		m.logger.Debug("failed to close websocket connection",
			slog.String("user_id", userID.String()),
			slog.Any("err", err))
	}

	m.logger.Info("removed websocket connection", slog.String("user_id", userID.String()))
}

// listen is the per-connection receive loop and its only suspension
// point. A remote close or transport error triggers self-removal;
// anything else the peer sends counts as a liveness signal.
func (m *Manager) listen(ctx context.Context, part *partition, cl *client) {
	for {
		_, _, err := cl.conn.ReadMessage()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				// eviction or shutdown already initiated removal
				m.logger.Debug("receive loop cancelled", slog.String("user_id", cl.id.String()))
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				m.logger.Info("websocket closed by peer", slog.String("user_id", cl.id.String()))
			default:
				m.logger.Error("websocket receive error",
					slog.String("user_id", cl.id.String()),
					slog.Any("err", err))
			}

			m.remove(part, cl.id)
			return
		}

		cl.touch()
	}
}

// SendToAllAdmins delivers the message to every administrator connection
// present at call time. Sends run concurrently; one failing connection
// never blocks the others and is left for the prober to evict.
func (m *Manager) SendToAllAdmins(ctx context.Context, message []byte) {
	clients := m.admins.snapshot()

	var wg sync.WaitGroup
	for _, cl := range clients {
		wg.Add(1)
		go func(cl *client) {
			defer wg.Done()
			if err := cl.write(websocket.TextMessage, message); err != nil {
				m.logger.Error("failed to send message to admin",
					slog.String("user_id", cl.id.String()),
					slog.Any("err", err))
			}
		}(cl)
	}
	wg.Wait()

	m.logger.Debug("sent message to all admins", slog.Int("count", len(clients)))
}

// SendToUser delivers the message to one user connection. An offline user
// is not an error; the send is silently skipped.
func (m *Manager) SendToUser(ctx context.Context, userID uuid.UUID, message []byte) {
	cl, ok := m.users.get(userID)
	if !ok {
		m.logger.Debug("user has no websocket connection", slog.String("user_id", userID.String()))
		return
	}

	if err := cl.write(websocket.TextMessage, message); err != nil {
		m.logger.Error("failed to send message to user",
			slog.String("user_id", userID.String()),
			slog.Any("err", err))
	}
}

// Sweep probes every registered connection once and evicts the ones that
// went stale or whose transport refuses the probe. Probes run
// independently so one stalled connection cannot delay the rest.
func (m *Manager) Sweep(ctx context.Context) {
	m.logger.Debug("running liveness sweep")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.sweepPartition(m.admins)
	}()
	go func() {
		defer wg.Done()
		m.sweepPartition(m.users)
	}()
	wg.Wait()
}

func (m *Manager) sweepPartition(part *partition) {
	now := time.Now()
	staleAfter := m.pingInterval + m.pongTimeout

	var (
		mu     sync.Mutex
		marked []uuid.UUID
	)

	var wg sync.WaitGroup
	for _, cl := range part.snapshot() {
		wg.Add(1)
		go func(cl *client) {
			defer wg.Done()

			if now.Sub(cl.lastSeen()) > staleAfter {
				m.logger.Info("websocket went stale",
					slog.String("user_id", cl.id.String()),
					slog.Time("last_seen", cl.lastSeen()))
				mu.Lock()
				marked = append(marked, cl.id)
				mu.Unlock()
				return
			}

			deadline := time.Now().Add(writeWait)
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.logger.Info("websocket refused liveness probe",
					slog.String("user_id", cl.id.String()),
					slog.Any("err", err))
				mu.Lock()
				marked = append(marked, cl.id)
				mu.Unlock()
			}
		}(cl)
	}
	wg.Wait()

	for _, id := range marked {
		m.remove(part, id)
	}
}

// CloseAll force-closes every connection in both partitions and clears
// the maps. Used on process shutdown instead of waiting for a sweep.
func (m *Manager) CloseAll() {
	for _, cl := range append(m.admins.drain(), m.users.drain()...) {
		cl.cancel()
		if err := cl.conn.Close(); err != nil {
			m.logger.Debug("failed to close websocket connection",
				slog.String("user_id", cl.id.String()),
				slog.Any("err", err))
		}
	}

	m.logger.Info("closed all websocket connections")
}
