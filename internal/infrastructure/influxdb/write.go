package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAuthEvents is the measurement holding one point per auth event.
const MeasurementAuthEvents = "auth_events"

// AuthEventPoint describes a single authentication event.
// UserID and RoleID are zero when the event has no resolved user.
type AuthEventPoint struct {
	Event   string
	Outcome string
	UserID  int64
	RoleID  int64
	At      time.Time
}

// WriteAuthEvent queues an auth_events point tagged by event and outcome.
// The user id is a field, not a tag, to keep series cardinality bounded by
// the number of roles.
func (c *Client) WriteAuthEvent(p AuthEventPoint) {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	point := write.NewPointWithMeasurement(MeasurementAuthEvents).
		AddTag("event", p.Event).
		AddTag("outcome", p.Outcome).
		AddField("count", 1).
		SetTime(at)
	if p.RoleID != 0 {
		point.AddTag("role_id", strconv.FormatInt(p.RoleID, 10))
	}
	if p.UserID != 0 {
		point.AddField("user_id", p.UserID)
	}
	c.queue(point)
}

// queue hands point to the batcher, or counts it as dropped after Close.
func (c *Client) queue(point *write.Point) {
	if c == nil {
		return
	}
	if !c.IsConnected() {
		c.dropped.Add(1)
		return
	}
	c.queued.Add(1)
	c.writeAPI.WritePoint(point)
}
