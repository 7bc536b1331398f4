package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/config"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

// Domain-event topics.
const (
	TopicMessageInbound          = "message.inbound"
	TopicMessageOutbound         = "message.outbound"
	TopicMessageStatus           = "message.status"
	TopicOpportunityOpened       = "opportunity.opened"
	TopicOpportunityStateChanged = "opportunity.state_changed"
	TopicEventStateChanged       = "event.state_changed"
)

const publishTimeout = 5 * time.Second

// Notifier publishes domain events after commit. Publishing is best-effort.
type Notifier interface {
	Notify(ctx context.Context, topic string, data interface{})
	Stop()
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, interface{}) {}
func (NoopNotifier) Stop()                                        {}

// DomainEvent is the JSON body published for every topic.
type DomainEvent struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	CompanyID  string          `json:"company_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type publishTask struct {
	ctx     context.Context
	subject string
	event   DomainEvent
}

// JetStreamNotifier publishes domain events through an ants pool.
type JetStreamNotifier struct {
	pool       *ants.PoolWithFunc
	client     jetstream.ClientInterface
	prefix     string
	baseLogger *zap.Logger
}

var _ Notifier = (*JetStreamNotifier)(nil)

// NewJetStreamNotifier creates the publishing pool.
func NewJetStreamNotifier(cfg config.WorkerPoolConfig, client jetstream.ClientInterface, subjectPrefix string, baseLogger *zap.Logger) (*JetStreamNotifier, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	n := &JetStreamNotifier{
		client:     client,
		prefix:     subjectPrefix,
		baseLogger: baseLogger.Named("notifier"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(publishTask)
		if !ok {
			n.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		n.publish(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			n.baseLogger.Error("Panic recovered in notifier worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier pool: %w", err)
	}
	n.pool = pool
	n.baseLogger.Info("Notifier pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("expiry_time", cfg.ExpiryTime),
	)
	return n, nil
}

// Subject is <prefix>.<company>.<topic>.
func (n *JetStreamNotifier) Subject(companyID, topic string) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, companyID, topic)
}

// Notify queues one event. Failures are logged and counted, never returned.
func (n *JetStreamNotifier) Notify(ctx context.Context, topic string, data interface{}) {
	companyID, _ := tenant.FromContext(ctx)
	log := logger.FromContextOr(ctx, n.baseLogger)

	body, err := json.Marshal(data)
	if err != nil {
		log.Error("Failed to marshal domain event", zap.String("topic", topic), zap.Error(err))
		observer.IncNotifierPublish(topic, companyID, err)
		return
	}

	task := publishTask{
		ctx:     tenant.Detach(ctx),
		subject: n.Subject(companyID, topic),
		event: DomainEvent{
			ID:         uuid.NewString(),
			Topic:      topic,
			CompanyID:  companyID,
			OccurredAt: utils.Now(),
			Data:       body,
		},
	}

	observer.SetNotifierQueueLength(n.pool.Waiting())
	if err := n.pool.Invoke(task); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			err = fmt.Errorf("notifier pool overload: %w", err)
		}
		log.Warn("Failed to submit domain event", zap.String("topic", topic), zap.Error(err))
		observer.IncNotifierPublish(topic, companyID, err)
	}
}

func (n *JetStreamNotifier) publish(task publishTask) {
	log := logger.FromContextOr(task.ctx, n.baseLogger).With(
		zap.String("subject", task.subject),
		zap.String("event_id", task.event.ID),
	)

	ctx, cancel := context.WithTimeout(task.ctx, publishTimeout)
	defer cancel()

	headers := map[string]string{
		"Nats-Msg-Id": task.event.ID,
		"Topic":       task.event.Topic,
	}
	err := n.client.Publish(ctx, task.subject, utils.MustMarshalJSON(task.event), headers)
	observer.IncNotifierPublish(task.event.Topic, task.event.CompanyID, err)
	if err != nil {
		log.Warn("Failed to publish domain event", zap.Error(err))
		return
	}
	log.Debug("Published domain event")
}

// Stop waits for queued events and releases the pool.
func (n *JetStreamNotifier) Stop() {
	if err := n.pool.ReleaseTimeout(10 * time.Second); err != nil {
		n.baseLogger.Warn("Notifier pool did not drain in time", zap.Error(err))
	}
}
