// README: Escalation sweep: overdue safety checks become calls, then support tickets.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vigil/internal/ai"
	"vigil/internal/config"
	"vigil/internal/metrics"
	"vigil/internal/modules/monitor"
	"vigil/internal/notify"
	"vigil/internal/tickets"
	"vigil/internal/types"
)

const callScript = "This is an automated safety check from your ride. We noticed your vehicle " +
	"has been stationary. Please press any key to confirm you are okay."

// Markers dedupes sweep work across processes: only the claimer of an event
// key proceeds.
type Markers interface {
	TryClaim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisMarkers implements Markers on SETNX keys with a TTL.
type RedisMarkers struct {
	rdb *redis.Client
}

func NewRedisMarkers(rdb *redis.Client) *RedisMarkers {
	return &RedisMarkers{rdb: rdb}
}

func (m *RedisMarkers) TryClaim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return m.rdb.SetNX(ctx, key, "1", ttl).Result()
}

// Geocoder resolves a point to an address for the ticket. Nil-able.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, p types.Point) (string, error)
}

// Coordinator drives the post-alert path. It owns no timers of its own: the
// deadline lives on the event row, and RunSweep is called on a ticker, so a
// process restart picks up exactly where the last one stopped.
type Coordinator struct {
	store      monitor.Store
	locks      *monitor.Registry
	cache      *monitor.LocationCache
	caller     notify.Caller
	tickets    tickets.Creator
	markers    Markers
	geocoder   Geocoder
	summarizer ai.Summarizer
	cfg        config.MonitorConfig
	metrics    *metrics.Collector
	log        *zap.Logger
}

func NewCoordinator(
	store monitor.Store,
	locks *monitor.Registry,
	cache *monitor.LocationCache,
	caller notify.Caller,
	creator tickets.Creator,
	markers Markers,
	geocoder Geocoder,
	summarizer ai.Summarizer,
	cfg config.MonitorConfig,
	m *metrics.Collector,
	log *zap.Logger,
) *Coordinator {
	return &Coordinator{
		store:      store,
		locks:      locks,
		cache:      cache,
		caller:     caller,
		tickets:    creator,
		markers:    markers,
		geocoder:   geocoder,
		summarizer: summarizer,
		cfg:        cfg,
		metrics:    m,
		log:        log,
	}
}

// RunSweep handles every event whose escalation deadline passed, plus any
// escalated event that still lacks its ticket after an earlier crash.
func (c *Coordinator) RunSweep(ctx context.Context) error {
	timer := prometheus.NewTimer(c.metrics.SweepDuration)
	defer timer.ObserveDuration()

	now := time.Now().UTC()
	due, err := c.store.DueEscalations(ctx, now, 100)
	if err != nil {
		return err
	}
	for _, e := range due {
		c.handle(ctx, e.ID, now)
	}
	return nil
}

func (c *Coordinator) handle(ctx context.Context, id types.ID, now time.Time) {
	if c.markers != nil {
		claimed, err := c.markers.TryClaim(ctx, "vigil:escalation:claim:"+string(id), 2*c.cfg.SweepInterval)
		if err != nil {
			c.log.Warn("escalation claim failed", zap.String("event_id", string(id)), zap.Error(err))
		} else if !claimed {
			return
		}
	}

	e, err := c.store.Get(ctx, id)
	if err != nil {
		c.log.Warn("escalation re-read failed", zap.String("event_id", string(id)), zap.Error(err))
		return
	}

	unlock := c.locks.Lock(e.TripID)
	defer unlock()

	e, err = c.store.Get(ctx, id)
	if err != nil {
		c.log.Warn("escalation re-read failed", zap.String("event_id", string(id)), zap.Error(err))
		return
	}

	switch {
	case e.Status == monitor.StatusEscalated && !e.Escalation.EscalatedToSupport:
		// An earlier run escalated but died before filing the ticket.
		c.fileTicket(ctx, e)
	case e.Status == monitor.StatusAlertSent && !e.Response.Responded &&
		e.DueAt != nil && !e.DueAt.After(now):
		c.escalate(ctx, e, now)
	default:
		// Responded or otherwise terminal in the window between the query
		// and the lock. Nothing to do.
	}
}

func (c *Coordinator) escalate(ctx context.Context, e *monitor.Event, now time.Time) {
	if !e.Escalation.CallAttempted {
		answered, err := c.caller.Place(ctx, string(e.PassengerID), callScript)
		if err != nil {
			c.log.Warn("safety call failed",
				zap.String("event_id", string(e.ID)), zap.Error(err))
		}
		c.metrics.CallAttempts.Inc()
		if rerr := c.store.RecordCallAttempt(ctx, e.ID, now, answered); rerr != nil {
			c.log.Error("call attempt record failed",
				zap.String("event_id", string(e.ID)), zap.Error(rerr))
			return
		}
		if answered {
			// The passenger picked up; give them another full window to
			// respond in-app before support gets involved.
			if eerr := c.store.ExtendDue(ctx, e.ID, now.Add(c.cfg.EscalationTimeout)); eerr != nil {
				c.log.Error("deadline extension failed",
					zap.String("event_id", string(e.ID)), zap.Error(eerr))
			}
			return
		}
	}

	ok, err := c.store.UpdateStatus(ctx, e.ID, monitor.StatusAlertSent, monitor.StatusEscalated,
		e.StatusVersion, monitor.StatusPatch{})
	if err != nil {
		c.log.Error("escalation update failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
		return
	}
	if !ok {
		// The passenger responded between the call and the CAS.
		return
	}
	c.metrics.ActiveMonitors.Dec()

	updated, err := c.store.Get(ctx, e.ID)
	if err != nil {
		c.log.Error("post-escalation read failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
		return
	}
	c.fileTicket(ctx, updated)
}

func (c *Coordinator) fileTicket(ctx context.Context, e *monitor.Event) {
	loc := e.Anchor
	if c.cache != nil {
		if p, _, ok, err := c.cache.Get(ctx, e.TripID); err == nil && ok {
			loc = p
		}
	}

	metadata := map[string]string{
		"eventId":   string(e.ID),
		"lat":       fmt.Sprintf("%.6f", loc.Lat),
		"lng":       fmt.Sprintf("%.6f", loc.Lng),
		"startedAt": e.StartedAt.Format(time.RFC3339),
	}

	var address string
	if c.geocoder != nil {
		addr, err := c.geocoder.ReverseGeocode(ctx, loc)
		if err != nil {
			c.log.Warn("reverse geocode failed",
				zap.String("event_id", string(e.ID)), zap.Error(err))
		} else {
			address = addr
			metadata["address"] = addr
		}
	}

	body := fmt.Sprintf(
		"Vehicle stationary since %s. Safety check sent, no passenger response. Call answered: %t.",
		e.StartedAt.Format(time.RFC3339), e.Escalation.CallAnswered)
	if c.summarizer != nil {
		inc := ai.Incident{
			TripID:          string(e.TripID),
			StationarySince: e.StartedAt.Format(time.RFC3339),
			CallAttempted:   e.Escalation.CallAttempted,
			CallAnswered:    e.Escalation.CallAnswered,
			Address:         address,
			Lat:             loc.Lat,
			Lng:             loc.Lng,
		}
		if e.AlertSentAt != nil {
			inc.AlertSentAt = e.AlertSentAt.Format(time.RFC3339)
		}
		summary, err := c.summarizer.SummarizeIncident(ctx, inc)
		if err != nil {
			c.log.Warn("incident summary failed",
				zap.String("event_id", string(e.ID)), zap.Error(err))
		} else {
			body = summary
		}
	}

	ticketID, err := c.tickets.Create(ctx, tickets.Ticket{
		Category: tickets.CategorySafety,
		TripID:   e.TripID,
		Subject:  "Unresponsive passenger in stationary vehicle",
		Body:     body,
		Metadata: metadata,
	})
	if err != nil {
		// The event stays escalated without a ticket link; the next sweep
		// retries via DueEscalations.
		c.log.Error("ticket creation failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	ok, err := c.store.RecordEscalation(ctx, e.ID, ticketID, now)
	if err != nil {
		c.log.Error("escalation record failed",
			zap.String("event_id", string(e.ID)), zap.Error(err))
		return
	}
	if !ok {
		c.log.Warn("ticket already recorded for event",
			zap.String("event_id", string(e.ID)),
			zap.String("ticket_id", string(ticketID)))
		return
	}
	c.metrics.TicketsCreated.Inc()
	c.log.Info("episode escalated to support",
		zap.String("event_id", string(e.ID)),
		zap.String("trip_id", string(e.TripID)),
		zap.String("ticket_id", string(ticketID)))
}
