package streaming

import (
	"encoding/json"
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DefaultSubjectPrefix is the subject root for run events.
const DefaultSubjectPrefix = "planner.runs"

// NATSConfig configures the event bridge
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	// Embedded starts an in-process server on Port (-1 picks a random port).
	Embedded bool `mapstructure:"embedded"`
	Port     int  `mapstructure:"port"`
}

// EmbeddedServer is an in-process NATS server
type EmbeddedServer struct {
	server *natsserver.Server
}

func StartEmbeddedServer(port int) (*EmbeddedServer, error) {
	opts := &natsserver.Options{
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}
	return &EmbeddedServer{server: ns}, nil
}

func (s *EmbeddedServer) ClientURL() string { return s.server.ClientURL() }

func (s *EmbeddedServer) Close() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}

// NATSBridge republishes run events on <prefix>.<run_id>
type NATSBridge struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSBridge(url, prefix string, logger *zap.Logger) (*NATSBridge, error) {
	conn, err := nats.Connect(url, nats.Name("project-planner"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSBridge{conn: conn, prefix: prefix, logger: logger}, nil
}

// Subject returns the subject events of runID are published on
func (b *NATSBridge) Subject(runID string) string {
	return b.prefix + "." + runID
}

// Attach forwards every event published on m.
func (b *NATSBridge) Attach(m *Manager) {
	m.AddSink(b.Forward)
}

// Forward publishes one event. Failures are logged, never returned.
func (b *NATSBridge) Forward(evt Event) {
	if err := b.conn.Publish(b.Subject(evt.RunID), evt.Marshal()); err != nil {
		b.logger.Warn("Failed to forward event to NATS",
			zap.String("run_id", evt.RunID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	}
}

// Subscribe delivers decoded events for runID; "*" matches every run.
func (b *NATSBridge) Subscribe(runID string, handler func(Event)) (*nats.Subscription, error) {
	return b.conn.Subscribe(b.Subject(runID), func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			b.logger.Warn("Dropping malformed event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		handler(evt)
	})
}

func (b *NATSBridge) Flush() error { return b.conn.Flush() }

func (b *NATSBridge) Close() {
	b.conn.Close()
}
