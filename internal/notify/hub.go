package notify

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256
)

// Client wraps one websocket connection: a buffered send channel plus the
// read/write pump pair that owns it, mirroring the teacher's per-connection
// goroutine shape.
type Client struct {
	conn   *websocket.Conn
	send   chan Event
	userID string
	rooms  map[string]struct{}
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID string, logger zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		send:   make(chan Event, sendBufferSize),
		userID: userID,
		rooms:  make(map[string]struct{}),
		logger: logger.With().Str("user_id", userID).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// deliver enqueues an event for this client's write pump, closing the
// connection if its send buffer is saturated rather than blocking the hub.
func (c *Client) deliver(e Event) {
	select {
	case c.send <- e:
	case <-c.ctx.Done():
	default:
		c.logger.Warn().Msg("client send buffer full, closing connection")
		_ = c.Close()
	}
}

// Close tears the connection down exactly once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Error().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// readPump only exists to keep the socket alive (pong deadlines) and to
// notice the peer going away; this bus is server-to-client only, so inbound
// frames are discarded.
func (c *Client) readPump(onClose func(*Client)) {
	defer func() {
		_ = c.Close()
		onClose(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Hub owns the room membership map. All mutation happens on a single
// goroutine via command channels, the same single-owner pattern the
// matchmaking queue and the teacher's BotPool use for their state.
type Hub struct {
	rooms  map[string]map[*Client]struct{}
	byUser map[string]map[*Client]struct{}

	joinCh      chan joinCmd
	leaveCh     chan leaveCmd
	emitRoomCh  chan emitRoomCmd
	emitUserCh  chan emitUserCmd
	membersCh   chan membersCmd
	disconnectCh chan *Client
	stopCh      chan struct{}
	stopOnce    sync.Once

	clock  quartz.Clock
	logger zerolog.Logger
}

type joinCmd struct {
	client *Client
	room   string
	done   chan struct{}
}

type leaveCmd struct {
	client *Client
	room   string
	done   chan struct{}
}

type emitRoomCmd struct {
	room      string
	eventType string
	payload   any
	done      chan error
}

type emitUserCmd struct {
	userID    string
	eventType string
	payload   any
	done      chan error
}

type membersCmd struct {
	room string
	done chan int
}

// New builds a Hub. Run must be started in its own goroutine before any
// client joins or emits are issued.
func New(clock quartz.Clock, logger zerolog.Logger) *Hub {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Hub{
		rooms:        make(map[string]map[*Client]struct{}),
		byUser:       make(map[string]map[*Client]struct{}),
		joinCh:       make(chan joinCmd),
		leaveCh:      make(chan leaveCmd),
		emitRoomCh:   make(chan emitRoomCmd),
		emitUserCh:   make(chan emitUserCmd),
		membersCh:    make(chan membersCmd),
		disconnectCh: make(chan *Client),
		stopCh:       make(chan struct{}),
		clock:        clock,
		logger:       logger.With().Str("component", "notify_hub").Logger(),
	}
}

// Run is the owner goroutine; it must be the only goroutine that touches
// h.rooms/h.byUser.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return

		case cmd := <-h.joinCh:
			h.join(cmd.client, cmd.room)
			close(cmd.done)

		case cmd := <-h.leaveCh:
			h.leave(cmd.client, cmd.room)
			close(cmd.done)

		case client := <-h.disconnectCh:
			h.disconnectLocked(client)

		case cmd := <-h.emitRoomCh:
			cmd.done <- h.emitToRoom(cmd.room, cmd.eventType, cmd.payload)

		case cmd := <-h.emitUserCh:
			cmd.done <- h.emitToUser(cmd.userID, cmd.eventType, cmd.payload)

		case cmd := <-h.membersCh:
			cmd.done <- len(h.rooms[cmd.room])
		}
	}
}

// Stop halts the owner goroutine.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Register upgrades conn into a tracked Client, starts its pumps, and joins
// it to user:{userID}.
func (h *Hub) Register(conn *websocket.Conn, userID string) *Client {
	c := newClient(conn, userID, h.logger)
	go c.writePump()
	go c.readPump(func(closed *Client) {
		select {
		case h.disconnectCh <- closed:
		case <-h.stopCh:
		}
	})
	_ = h.Join(context.Background(), c, UserRoom(userID))
	return c
}

// Join adds a client to a room.
func (h *Hub) Join(ctx context.Context, c *Client, room string) error {
	done := make(chan struct{})
	select {
	case h.joinCh <- joinCmd{client: c, room: room, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave removes a client from a room.
func (h *Hub) Leave(ctx context.Context, c *Client, room string) error {
	done := make(chan struct{})
	select {
	case h.leaveCh <- leaveCmd{client: c, room: room, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitRoom broadcasts an event to every client joined to room.
func (h *Hub) EmitRoom(ctx context.Context, room, eventType string, payload any) error {
	done := make(chan error, 1)
	select {
	case h.emitRoomCh <- emitRoomCmd{room: room, eventType: eventType, payload: payload, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitUser sends an event to every socket a user currently has open, via
// their implicit user:{id} room.
func (h *Hub) EmitUser(ctx context.Context, userID, eventType string, payload any) error {
	done := make(chan error, 1)
	select {
	case h.emitUserCh <- emitUserCmd{userID: userID, eventType: eventType, payload: payload, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Members reports how many clients are currently joined to a room. Used
// for diagnostics and by tests; not on the hot broadcast path.
func (h *Hub) Members(ctx context.Context, room string) (int, error) {
	done := make(chan int, 1)
	select {
	case h.membersCh <- membersCmd{room: room, done: done}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-done:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *Hub) join(c *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()

	if h.byUser[c.userID] == nil {
		h.byUser[c.userID] = make(map[*Client]struct{})
	}
	h.byUser[c.userID][c] = struct{}{}
}

func (h *Hub) leave(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (h *Hub) disconnectLocked(c *Client) {
	c.mu.RLock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.mu.RUnlock()

	for _, r := range rooms {
		h.leave(c, r)
	}
	if members, ok := h.byUser[c.userID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.byUser, c.userID)
		}
	}
}

func (h *Hub) emitToRoom(room, eventType string, payload any) error {
	event := newEvent(room, eventType, payload, h.clock.Now())
	for c := range h.rooms[room] {
		c.deliver(event)
	}
	return nil
}

func (h *Hub) emitToUser(userID, eventType string, payload any) error {
	return h.emitToRoom(UserRoom(userID), eventType, payload)
}
