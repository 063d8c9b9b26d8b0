// Package messaging publishes sync lifecycle events over NATS so that
// downstream consumers can react to fresh data without polling the store.
package messaging

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/stock-sync/pkg/config"
	"github.com/stock-sync/pkg/models"
)

// Subjects published by the sync engine, all under the SYNC stream.
const (
	SubjectPhaseCompleted = "sync.phase.completed"
	SubjectPhaseFailed    = "sync.phase.failed"
	SubjectRunCompleted   = "sync.run.completed"
	SubjectGapRepaired    = "sync.gap.repaired"
)

// PhaseEvent describes one orchestrator phase outcome.
type PhaseEvent struct {
	SessionID  string    `json:"session_id"`
	Phase      string    `json:"phase"`
	Status     string    `json:"status"`
	TargetDate string    `json:"target_date"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// GapEvent describes one repaired gap.
type GapEvent struct {
	SessionID string    `json:"session_id"`
	Symbol    string    `json:"symbol"`
	Frequency string    `json:"frequency"`
	Start     string    `json:"start_date"`
	End       string    `json:"end_date"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSClient publishes sync events. Publishes are fire-and-forget; a
// down broker never blocks a sync run.
type NATSClient struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	encoder *nats.EncodedConn
	logger  *logrus.Entry
	cfg     *config.NATSConfig
}

// NewNATSClient creates a new NATS client
func NewNATSClient(cfg *config.NATSConfig, logger *logrus.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	encoder, err := nats.NewEncodedConn(conn, nats.JSON_ENCODER)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create encoded connection: %w", err)
	}

	nc := &NATSClient{
		conn:    conn,
		js:      js,
		encoder: encoder,
		logger:  logger.WithField("component", "nats"),
		cfg:     cfg,
	}

	if err := nc.initializeStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to initialize stream: %w", err)
	}

	return nc, nil
}

// initializeStream creates the SYNC JetStream stream
func (nc *NATSClient) initializeStream() error {
	_, err := nc.js.AddStream(&nats.StreamConfig{
		Name:     "SYNC",
		Subjects: []string{"sync.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return fmt.Errorf("failed to create SYNC stream: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (nc *NATSClient) Close() error {
	nc.encoder.Close()
	nc.conn.Close()
	return nil
}

// IsConnected checks if NATS is connected
func (nc *NATSClient) IsConnected() bool {
	return nc.conn.IsConnected()
}

// PublishPhase publishes a phase outcome.
func (nc *NATSClient) PublishPhase(sessionID, phase, status, errMsg string, targetDate time.Time) {
	subject := SubjectPhaseCompleted
	if status == "failed" {
		subject = SubjectPhaseFailed
	}

	event := &PhaseEvent{
		SessionID:  sessionID,
		Phase:      phase,
		Status:     status,
		TargetDate: targetDate.Format(models.DateFormat),
		Error:      errMsg,
		Timestamp:  time.Now(),
	}

	if err := nc.encoder.Publish(subject, event); err != nil {
		nc.logger.WithError(err).WithField("phase", phase).Warn("Failed to publish phase event")
	}
}

// PublishRun publishes the whole-run report.
func (nc *NATSClient) PublishRun(report *models.Report) {
	if err := nc.encoder.Publish(SubjectRunCompleted, report); err != nil {
		nc.logger.WithError(err).Warn("Failed to publish run report")
	}
}

// PublishGapRepaired publishes one repaired gap.
func (nc *NATSClient) PublishGapRepaired(sessionID string, gap *models.Gap) {
	event := &GapEvent{
		SessionID: sessionID,
		Symbol:    gap.Symbol,
		Frequency: gap.Frequency,
		Start:     gap.Start.Format(models.DateFormat),
		End:       gap.End.Format(models.DateFormat),
		Timestamp: time.Now(),
	}

	if err := nc.encoder.Publish(SubjectGapRepaired, event); err != nil {
		nc.logger.WithError(err).WithField("symbol", gap.Symbol).Warn("Failed to publish gap event")
	}
}
