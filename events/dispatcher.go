package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-filecache/types"
)

var customBrokerCreators = map[string]types.EventBrokerCreator{}

// RegisterBroker makes a custom event broker available under the given type
// name. Call before NewDispatcher.
func RegisterBroker(brokerName string, creator types.EventBrokerCreator) {
	customBrokerCreators[brokerName] = creator
}

// Dispatcher fans cache lifecycle events out to in-process subscribers and,
// when configured, to an outbound broker. Publishing never blocks the cache
// operation that triggered the event.
type Dispatcher struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	metrics types.MetricsManager
	source  string
	broker  types.EventBroker

	handlers map[string][]types.EventHandler
	mu       sync.RWMutex
	wg       sync.WaitGroup
	running  int32
}

func NewDispatcher(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.EventBroker, error) {
	eventsConfig := config.GetConfig().Events

	if eventsConfig == nil || !eventsConfig.Enabled {
		return nil, types.ErrEventsIsDisabled
	}

	dispatcherCtx, cancel := context.WithCancel(ctx)

	dispatcher := &Dispatcher{
		ctx:      dispatcherCtx,
		cancel:   cancel,
		logger:   logger,
		metrics:  metrics,
		source:   config.GetConfig().Name,
		handlers: make(map[string][]types.EventHandler),
	}

	if eventsConfig.Type != "" && eventsConfig.Type != "local" {
		var broker types.EventBroker
		var err error

		switch eventsConfig.Type {
		case "websocket":
			broker, err = NewWebSocketBroker(dispatcherCtx, logger, eventsConfig)
		default:
			if creator, exists := customBrokerCreators[eventsConfig.Type]; exists {
				broker, err = creator(eventsConfig.Config)
			} else {
				cancel()
				return nil, types.Errorf(types.ErrEventsTypeUnknown, "type: %s", eventsConfig.Type)
			}
		}

		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to create event broker")
		}

		dispatcher.broker = broker
	}

	return dispatcher, nil
}

func (d *Dispatcher) Publish(event string, key string, payload interface{}) error {
	if !d.IsRunning() {
		return types.ErrEventsNotRunning
	}

	message := &types.EventMessage{
		Event:     event,
		Key:       key,
		Payload:   payload,
		Timestamp: time.Now(),
		Source:    d.source,
		MessageID: uuid.NewString(),
	}

	d.mu.RLock()
	handlers := make([]types.EventHandler, len(d.handlers[event]))
	copy(handlers, d.handlers[event])
	broker := d.broker
	d.mu.RUnlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(message, handlers, broker)
	}()

	return nil
}

func (d *Dispatcher) Subscribe(event string, handler types.EventHandler) error {
	if handler == nil {
		return types.ErrEventsHandlerIsNil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[event] = append(d.handlers[event], handler)

	d.logger.Debug("Subscribed to event",
		zap.String("event", event),
		zap.Int("total_handlers", len(d.handlers[event])))

	return nil
}

func (d *Dispatcher) Start() error {
	if !atomic.CompareAndSwapInt32(&d.running, 0, 1) {
		return types.ErrCacheIsRunning
	}

	if d.broker != nil {
		if err := d.broker.Start(); err != nil {
			atomic.StoreInt32(&d.running, 0)
			return types.WrapError(err, "failed to start event broker")
		}
	}

	d.logger.Info("Event dispatcher started")
	return nil
}

func (d *Dispatcher) Stop() error {
	if !atomic.CompareAndSwapInt32(&d.running, 1, 0) {
		return types.ErrCacheIsNotRunning
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		d.logger.Warn("Event dispatcher stop timeout, some deliveries may not have completed")
	}

	if d.broker != nil {
		if err := d.broker.Stop(); err != nil {
			d.logger.Error("Failed to stop event broker", zap.Error(err))
		}
	}

	d.cancel()
	d.logger.Info("Event dispatcher stopped")
	return nil
}

func (d *Dispatcher) IsRunning() bool {
	return atomic.LoadInt32(&d.running) == 1
}

func (d *Dispatcher) deliver(message *types.EventMessage, handlers []types.EventHandler, broker types.EventBroker) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(d.ctx, 30*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	for _, handler := range handlers {
		h := handler
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				d.invoke(message, h)
				return nil
			}
		})
	}

	if broker != nil {
		g.Go(func() error {
			if err := broker.Publish(message.Event, message.Key, message.Payload); err != nil {
				d.logger.Error("Broker publish failed",
					zap.String("event", message.Event),
					zap.String("message_id", message.MessageID),
					zap.Error(err))
				return err
			}
			return nil
		})
	}

	result := "success"
	if err := g.Wait(); err != nil {
		result = "error"
	}

	d.recordMetric("deliver", result, message.Event, time.Since(start))
}

func (d *Dispatcher) invoke(message *types.EventMessage, handler types.EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event handler panicked",
				zap.String("event", message.Event),
				zap.String("message_id", message.MessageID),
				zap.Any("panic", r))
			d.recordMetric("handle", "panic", message.Event, 0)
		}
	}()

	start := time.Now()
	handler(message)
	d.recordMetric("handle", "success", message.Event, time.Since(start))
}

func (d *Dispatcher) recordMetric(operation, result, event string, duration time.Duration) {
	if d.metrics == nil {
		return
	}

	counter := d.metrics.Counter("event_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
		"event":     event,
	})
	counter.Inc()

	histogram := d.metrics.Histogram("event_operation_duration_seconds",
		[]float64{0.001, 0.01, 0.1, 1.0, 5.0},
		map[string]string{"operation": operation, "event": event},
	)
	histogram.Observe(duration.Seconds())
}
