package publisher

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"campusbus/internal/domain"
)

type NATSPublisher struct {
	nc      *nats.Conn
	prefix  string
	metrics PublisherMetrics
	logger  *slog.Logger
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, m PublisherMetrics, logger *slog.Logger) (*NATSPublisher, error) {
	logger = logger.With("component", "nats_publisher")

	nc, err := nats.Connect(url,
		nats.Name("campusbus"),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, prefix: prefix, metrics: m, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

// StatusMessage is published after every evaluation of a vehicle
type StatusMessage struct {
	VehicleKey      string              `json:"vehicleKey"`
	BusNumber       string              `json:"busNumber,omitempty"`
	RouteID         string              `json:"routeId"`
	TripID          string              `json:"tripId,omitempty"`
	Timestamp       time.Time           `json:"timestamp"`
	Lat             float64             `json:"lat"`
	Lon             float64             `json:"lon"`
	SpeedKmh        float64             `json:"speedKmh"`
	NextWaypoint    string              `json:"nextWaypoint,omitempty"`
	PercentComplete int                 `json:"percentComplete"`
	Delay           domain.DelayVerdict `json:"delay"`
	EvaluatedAt     time.Time           `json:"evaluatedAt"`
}

func NewStatusMessage(v *domain.Vehicle) StatusMessage {
	msg := StatusMessage{
		VehicleKey: v.Key,
		BusNumber:  v.BusNumber,
		RouteID:    v.RouteID,
		TripID:     v.TripID,
		Timestamp:  v.Timestamp,
		Lat:        v.Lat,
		Lon:        v.Lon,
		SpeedKmh:   v.SpeedKmh,
	}
	if v.Status != nil {
		msg.NextWaypoint = v.Status.Summary.NextWaypointName
		msg.PercentComplete = v.Status.Summary.PercentComplete
		msg.Delay = v.Status.Delay
		msg.EvaluatedAt = v.Status.EvaluatedAt
	}
	return msg
}

// Subject returns "<prefix>.<route>.<vehicle>" with both tokens sanitized
func Subject(prefix, routeID, vehicleKey string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(routeID), subjectToken(vehicleKey))
}

func (p *NATSPublisher) PublishStatus(v *domain.Vehicle) error {
	subject := Subject(p.prefix, v.RouteID, v.Key)
	b, err := json.Marshal(NewStatusMessage(v))
	if err != nil {
		return err
	}

	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		p.logger.Debug("nats publish failed", "subject", subject, "error", err)
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
