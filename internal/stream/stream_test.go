package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/metricd/internal/testutil"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

func newTestStream(t *testing.T) (*Stream, *testutil.MockScheduler, string) {
	t.Helper()
	sched := testutil.NewMockScheduler()
	s := New()
	require.NoError(t, s.Init(context.Background(), plugin.Dependencies{Scheduler: sched}))
	require.NoError(t, s.Start(context.Background()))

	mux := http.NewServeMux()
	for _, r := range s.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
		srv.Close()
	})
	return s, sched, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, s *Stream, url string, want int) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	require.Eventually(t, func() bool { return s.Clients() == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestStreamDeliversNotifications(t *testing.T) {
	s, sched, url := newTestStream(t)
	conn := dial(t, s, url+"/notifications", 1)

	n := testutil.NewNotification()
	require.NoError(t, sched.FireNotification(context.Background(), UnitName, n))

	got := read(t, conn)
	assert.Equal(t, "test_notification", got["name"])
	assert.Equal(t, "FAILURE", got["severity"])
}

func TestStreamSeverityFilter(t *testing.T) {
	s, sched, url := newTestStream(t)
	okOnly := dial(t, s, url+"/notifications?severity=OKAY", 1)
	all := dial(t, s, url+"/notifications", 2)

	ctx := context.Background()
	require.NoError(t, sched.FireNotification(ctx, UnitName, testutil.NewNotification()))
	require.NoError(t, sched.FireNotification(ctx, UnitName,
		testutil.NewNotification(testutil.WithSeverity(metric.SeverityOkay), testutil.WithNotificationName("recovered"))))

	assert.Equal(t, "recovered", read(t, okOnly)["name"])
	assert.Equal(t, "test_notification", read(t, all)["name"])
	assert.Equal(t, "recovered", read(t, all)["name"])
}

func TestStreamRejectsBadSeverity(t *testing.T) {
	s, _, _ := newTestStream(t)
	rec := httptest.NewRecorder()
	s.handleNotifications(rec, httptest.NewRequest(http.MethodGet, "/notifications?severity=LOUD", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSlowClientDropsMessages(t *testing.T) {
	s := New()
	require.NoError(t, s.Init(context.Background(), plugin.Dependencies{Scheduler: testutil.NewMockScheduler()}))
	c := &client{send: make(chan []byte, 1)}
	s.clients[c] = struct{}{}

	ctx := context.Background()
	require.NoError(t, s.broadcast(ctx, testutil.NewNotification()))
	require.NoError(t, s.broadcast(ctx, testutil.NewNotification()))
	assert.Equal(t, "1", s.Health(ctx).Details["dropped"])
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	s, _, url := newTestStream(t)
	conn := dial(t, s, url+"/notifications", 1)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
