package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/depot-core/internal/infrastructure/mqtt"
)

const defaultQueueSize = 256

// PointWriter queues time-series points. *influxdb.Client implements it.
type PointWriter interface {
	WriteAuthEvent(p influxdb.AuthEventPoint)
}

// Publisher sends MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// eventMessage is the JSON body published on depot/auth/events/{event}.
type eventMessage struct {
	Instance string    `json:"instance"`
	Event    string    `json:"event"`
	Outcome  string    `json:"outcome"`
	UserID   int64     `json:"user_id,omitempty"`
	RoleID   int64     `json:"role_id,omitempty"`
	At       time.Time `json:"at"`
}

// RecorderDeps wires a Recorder. Metrics is required; Points and Publisher
// are optional and skipped when nil.
type RecorderDeps struct {
	Metrics   *Metrics
	Points    PointWriter
	Publisher Publisher
	Instance  string
	QoS       byte
	QueueSize int
	Logger    *slog.Logger
}

// Recorder implements auth.EventSink.
type Recorder struct {
	metrics   *Metrics
	points    PointWriter
	publisher Publisher
	instance  string
	qos       byte
	queue     chan auth.AuthEvent
	logger    *slog.Logger
}

// NewRecorder builds a Recorder. Call Run to start MQTT publishing.
func NewRecorder(deps RecorderDeps) *Recorder {
	size := deps.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		metrics:   deps.Metrics,
		points:    deps.Points,
		publisher: deps.Publisher,
		instance:  deps.Instance,
		qos:       deps.QoS,
		queue:     make(chan auth.AuthEvent, size),
		logger:    logger.With("component", "telemetry"),
	}
}

// RecordAuthEvent implements auth.EventSink. It never blocks: when the MQTT
// queue is full the event is counted as dropped.
func (r *Recorder) RecordAuthEvent(_ context.Context, e auth.AuthEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	r.metrics.countAuthEvent(string(e.Type), string(e.Outcome))

	if r.points != nil {
		r.points.WriteAuthEvent(influxdb.AuthEventPoint{
			Event:   string(e.Type),
			Outcome: string(e.Outcome),
			UserID:  e.UserID,
			RoleID:  e.RoleID,
			At:      e.At,
		})
	}

	if r.publisher == nil {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.metrics.eventsDropped.Inc()
	}
}

// Run publishes queued events until ctx is cancelled. Events still queued
// at cancellation are discarded.
func (r *Recorder) Run(ctx context.Context) {
	if r.publisher == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.queue:
			r.publish(e)
		}
	}
}

func (r *Recorder) publish(e auth.AuthEvent) {
	payload, err := json.Marshal(eventMessage{
		Instance: r.instance,
		Event:    string(e.Type),
		Outcome:  string(e.Outcome),
		UserID:   e.UserID,
		RoleID:   e.RoleID,
		At:       e.At,
	})
	if err != nil {
		r.logger.Error("encoding auth event", "error", err)
		return
	}

	topic := mqtt.Topics{}.AuthEvent(string(e.Type))
	if err := r.publisher.Publish(topic, payload, r.qos, false); err != nil {
		r.logger.Warn("publishing auth event", "topic", topic, "error", err)
	}
}
