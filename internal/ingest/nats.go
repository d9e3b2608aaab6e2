// README: NATS subscriber turning trip location messages into monitor updates.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"vigil/internal/metrics"
	"vigil/internal/types"
)

const handleTimeout = 5 * time.Second

// LocationUpdate is the wire format published by the trip tracking fleet on
// vigil.location.<tripId>.
type LocationUpdate struct {
	TripID      types.ID `json:"tripId"`
	PassengerID types.ID `json:"passengerId"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	Timestamp   string   `json:"timestamp"`
}

// Monitor is the slice of the stationary monitor the subscriber feeds.
type Monitor interface {
	ProcessLocationUpdate(ctx context.Context, tripID, passengerID types.ID, p types.Point, at time.Time) error
}

type Subscriber struct {
	nc      *nats.Conn
	monitor Monitor
	metrics *metrics.Collector
	log     *zap.Logger
	sub     *nats.Subscription
}

func NewSubscriber(nc *nats.Conn, monitor Monitor, m *metrics.Collector, log *zap.Logger) *Subscriber {
	return &Subscriber{nc: nc, monitor: monitor, metrics: m, log: log}
}

// Start subscribes on the subject (usually a wildcard, vigil.location.>)
// inside a queue group so horizontally scaled instances split the stream.
func (s *Subscriber) Start(subject string) error {
	sub, err := s.nc.QueueSubscribe(subject, "vigil-monitor", s.handle)
	if err != nil {
		return err
	}
	s.sub = sub
	s.log.Info("location ingestion started", zap.String("subject", subject))
	return nil
}

func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Subscriber) handle(msg *nats.Msg) {
	s.metrics.IngestReceived.Inc()

	var u LocationUpdate
	if err := json.Unmarshal(msg.Data, &u); err != nil {
		s.metrics.IngestRejected.Inc()
		s.log.Warn("malformed location message",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if u.TripID == "" {
		s.metrics.IngestRejected.Inc()
		s.log.Warn("location message without trip id", zap.String("subject", msg.Subject))
		return
	}

	at := time.Now().UTC()
	if u.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, u.Timestamp); err == nil {
			at = parsed.UTC()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()
	if err := s.monitor.ProcessLocationUpdate(ctx, u.TripID, u.PassengerID, types.Point{Lat: u.Lat, Lng: u.Lng}, at); err != nil {
		s.metrics.IngestRejected.Inc()
		s.log.Warn("location update rejected",
			zap.String("trip_id", string(u.TripID)), zap.Error(err))
	}
}
