package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/circuitbreaker"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/retry"
)

// dispatchTimeout bounds the full fan-out for one alert.
const dispatchTimeout = 30 * time.Second

// Dispatcher subscribes to alert.raised and drives the notification fan-out.
// Each channel runs behind its own circuit breaker so a failing provider
// degrades that channel only; outcomes are appended to the alert either way.
type Dispatcher struct {
	alerts   alert.Repository
	configs  alert.ConfigurationRepository
	resolver ContactResolver
	sinks    map[alert.Channel]Sink
	breakers map[alert.Channel]*circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	log      *logger.Logger
}

// NewDispatcher creates the dispatcher over the given sinks.
func NewDispatcher(alerts alert.Repository, configs alert.ConfigurationRepository, resolver ContactResolver, sinks []Sink, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		alerts:   alerts,
		configs:  configs,
		resolver: resolver,
		sinks:    make(map[alert.Channel]Sink, len(sinks)),
		breakers: make(map[alert.Channel]*circuitbreaker.CircuitBreaker),
		retrier:  retry.SinkRetrier(),
		log:      log,
	}

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("notification circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()))
	}
	for _, sink := range sinks {
		d.sinks[sink.Channel()] = sink
		switch sink.Channel() {
		case alert.ChannelEmail:
			d.breakers[alert.ChannelEmail] = circuitbreaker.EmailSinkBreaker(onStateChange)
		case alert.ChannelSMS:
			d.breakers[alert.ChannelSMS] = circuitbreaker.SMSSinkBreaker(onStateChange)
		}
	}
	return d
}

// Subscribe attaches the dispatcher to the event bus.
func (d *Dispatcher) Subscribe(bus shared.EventBus) error {
	return bus.Subscribe(shared.EventAlertRaised, d.handle)
}

// handle processes one alert.raised event. The event bus already isolates
// and logs errors; the dispatcher returns them for the metrics.
func (d *Dispatcher) handle(event shared.Event) error {
	raised, ok := event.(shared.AlertRaisedEvent)
	if !ok {
		return fmt.Errorf("notification: unexpected event payload %T", event)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	ctx = shared.WithTenant(ctx, raised.Tenant)

	cfg, err := d.configs.GetByID(ctx, raised.ConfigID)
	if err != nil {
		return fmt.Errorf("notification: loading configuration %s: %w", raised.ConfigID, err)
	}

	contacts, err := d.resolver.Contacts(ctx, raised.StudentID, cfg.Recipients)
	if err != nil {
		return fmt.Errorf("notification: resolving recipients for %s: %w", raised.StudentID, err)
	}
	if len(contacts) == 0 {
		d.log.Warn("alert has no resolvable recipients",
			logger.AlertID(raised.AggregateID()),
			logger.StudentID(raised.StudentID))
		return nil
	}

	for _, channel := range cfg.Channels {
		sink, ok := d.sinks[channel]
		if !ok {
			d.log.Warn("no sink for configured channel",
				logger.AlertID(raised.AggregateID()),
				logger.String("channel", string(channel)))
			continue
		}
		for _, contact := range contacts {
			address := contact.Address(channel)
			if address == "" {
				continue
			}
			d.deliver(ctx, sink, Message{
				Channel:   channel,
				Recipient: address,
				Subject:   cfg.Name,
				Body:      raised.MessageBody,
				Priority:  cfg.Priority,
				AlertID:   raised.AggregateID(),
				StudentID: raised.StudentID,
			})
		}
	}
	return nil
}

// deliver pushes one message through retry and circuit breaking, then
// records the outcome on the alert.
func (d *Dispatcher) deliver(ctx context.Context, sink Sink, msg Message) {
	send := func(ctx context.Context) error {
		return d.retrier.Do(ctx, func(ctx context.Context) error {
			return sink.Send(ctx, msg)
		})
	}

	var err error
	if breaker, ok := d.breakers[msg.Channel]; ok {
		err = breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}

	outcome := alert.ChannelOutcome{
		Channel:   msg.Channel,
		Recipient: msg.Recipient,
		Success:   err == nil,
		SentAt:    time.Now().UTC(),
	}
	if err != nil {
		outcome.Error = err.Error()
		d.log.Error("notification delivery failed",
			logger.AlertID(msg.AlertID),
			logger.String("channel", string(msg.Channel)),
			logger.Err(err))
	}

	if recErr := d.alerts.AppendOutcome(ctx, msg.AlertID, outcome); recErr != nil {
		d.log.Error("recording notification outcome failed",
			logger.AlertID(msg.AlertID), logger.Err(recErr))
	}
}
