// Package stream fans dispatched notifications out to websocket clients.
package stream

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/HerbHall/metricd/internal/config"
	"github.com/HerbHall/metricd/internal/server"
	"github.com/HerbHall/metricd/pkg/metric"
	"github.com/HerbHall/metricd/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Stream)(nil)
	_ plugin.HTTPProvider  = (*Stream)(nil)
	_ plugin.HealthChecker = (*Stream)(nil)
)

// PluginName is the registry name of the stream plugin.
const PluginName = "stream"

// UnitName is the notification unit registered with the scheduler.
const UnitName = PluginName + "/notifications"

// Config is plugins.stream.
type Config struct {
	Buffer         int           `mapstructure:"buffer" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	OriginPatterns []string      `mapstructure:"origin_patterns"`
}

// Defaults applied by Init.
const (
	DefaultBuffer       = 64
	DefaultWriteTimeout = 5 * time.Second
)

type client struct {
	send     chan []byte
	severity metric.Severity // 0 accepts all
}

// Stream is the websocket notification stream plugin.
type Stream struct {
	logger *zap.Logger
	sched  plugin.Scheduler
	cfg    Config

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped uint64
}

// New creates the stream plugin.
func New() *Stream {
	return &Stream{
		logger:  zap.NewNop(),
		clients: make(map[*client]struct{}),
	}
}

func (s *Stream) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        PluginName,
		Version:     "1.0.0",
		Description: "Streams notifications to websocket clients",
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (s *Stream) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		s.logger = deps.Logger
	}
	if deps.Scheduler == nil {
		return errors.New("stream: scheduler is required")
	}
	s.sched = deps.Scheduler
	if deps.Config != nil {
		if err := config.UnmarshalValid(deps.Config, &s.cfg); err != nil {
			return err
		}
	}
	if s.cfg.Buffer == 0 {
		s.cfg.Buffer = DefaultBuffer
	}
	if s.cfg.WriteTimeout == 0 {
		s.cfg.WriteTimeout = DefaultWriteTimeout
	}
	return nil
}

func (s *Stream) Start(context.Context) error {
	return s.sched.RegisterNotificationSink(UnitName, s.broadcast)
}

// Stop unregisters the unit and disconnects every client.
func (s *Stream) Stop(context.Context) error {
	s.sched.UnregisterNotificationSink(UnitName)
	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()
	return nil
}

// broadcast queues n for every client whose filter accepts it. A client
// with a full buffer misses the message.
func (s *Stream) broadcast(_ context.Context, n *metric.Notification) error {
	data, err := n.MarshalJSON()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c.severity != 0 && c.severity != n.Severity {
			continue
		}
		select {
		case c.send <- data:
		default:
			s.dropped++
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) Health(context.Context) plugin.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return plugin.HealthStatus{
		Status: plugin.StatusHealthy,
		Details: map[string]string{
			"clients": strconv.Itoa(len(s.clients)),
			"dropped": strconv.FormatUint(s.dropped, 10),
		},
	}
}

func (s *Stream) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: http.MethodGet, Path: "/notifications", Handler: s.handleNotifications},
	}
}

// handleNotifications upgrades to a websocket and writes one JSON text
// message per notification. ?severity= restricts the stream.
func (s *Stream) handleNotifications(w http.ResponseWriter, r *http.Request) {
	c := &client{send: make(chan []byte, s.cfg.Buffer)}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev, err := metric.ParseSeverity(raw)
		if err != nil {
			server.BadRequest(w, err.Error(), r.URL.Path)
			return
		}
		c.severity = sev
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer s.remove(c)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server stopping")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Stream) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
