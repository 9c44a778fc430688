package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	hub := New(quartz.NewReal(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, ctx
}

// newTestServer wires an httptest server whose /ws handler registers every
// connection with the hub and reports the resulting *Client on registered.
func newTestServer(t *testing.T, hub *Hub, registered chan<- *Client) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := hub.Register(conn, r.URL.Query().Get("user"))
		registered <- c
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialClient(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestEmitUserDeliversToOwnUserRoom(t *testing.T) {
	hub, ctx := newTestHub(t)
	registered := make(chan *Client, 1)
	srv := newTestServer(t, hub, registered)

	conn := dialClient(t, srv, "alice")
	defer conn.Close()
	<-registered

	require.NoError(t, hub.EmitUser(ctx, "alice", EventMatchFound, map[string]string{"match_id": "m1"}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, EventMatchFound, got.Type)
	require.Equal(t, UserRoom("alice"), got.Room)
}

func TestEmitRoomReachesEveryJoinedMember(t *testing.T) {
	hub, ctx := newTestHub(t)
	registered := make(chan *Client, 2)
	srv := newTestServer(t, hub, registered)

	connA := dialClient(t, srv, "a")
	connB := dialClient(t, srv, "b")
	defer connA.Close()
	defer connB.Close()

	clientA := <-registered
	clientB := <-registered

	require.NoError(t, hub.Join(ctx, clientA, BattleRoom("m1")))
	require.NoError(t, hub.Join(ctx, clientB, BattleRoom("m1")))

	require.NoError(t, hub.EmitRoom(ctx, BattleRoom("m1"), EventBattleCompleted, map[string]string{"winner": "a"}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		require.NoError(t, conn.ReadJSON(&got))
		require.Equal(t, EventBattleCompleted, got.Type)
		require.Equal(t, BattleRoom("m1"), got.Room)
	}
}

func TestLeaveRemovesClientFromRoom(t *testing.T) {
	hub, ctx := newTestHub(t)
	registered := make(chan *Client, 1)
	srv := newTestServer(t, hub, registered)

	conn := dialClient(t, srv, "a")
	defer conn.Close()
	client := <-registered

	require.NoError(t, hub.Join(ctx, client, BattleRoom("m1")))
	require.NoError(t, hub.Leave(ctx, client, BattleRoom("m1")))
	require.NoError(t, hub.EmitRoom(ctx, BattleRoom("m1"), EventBattleCompleted, nil))

	_ = conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "client left the room before the emit, so no frame should arrive")
}

func TestEmitUserToUnknownUserIsNoop(t *testing.T) {
	hub, ctx := newTestHub(t)
	require.NoError(t, hub.EmitUser(ctx, "nobody", EventMatchFound, nil))
}

func TestDisconnectRemovesClientFromEveryRoom(t *testing.T) {
	hub, ctx := newTestHub(t)
	registered := make(chan *Client, 1)
	srv := newTestServer(t, hub, registered)

	conn := dialClient(t, srv, "a")
	client := <-registered
	require.NoError(t, hub.Join(ctx, client, BattleRoom("m1")))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		n, err := hub.Members(ctx, BattleRoom("m1"))
		return err == nil && n == 0
	}, time.Second, 10*time.Millisecond)
}
