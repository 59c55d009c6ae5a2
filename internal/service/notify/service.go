// Package notify aggregates per-value recode outcomes into windowed
// notifications. N equal outcomes within one window become a single
// notification with count N, so a million-value recode produces a handful
// of rows instead of a million.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avdeenkov/recodehub/internal/domain"
	"github.com/avdeenkov/recodehub/internal/eventbus"
)

// notificationRepo persists aggregated notifications. Upsert must be
// atomic on (key, window start): concurrent recode workers reporting the
// same key land on one row with the sum of their counts.
type notificationRepo interface {
	Upsert(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	ListPending(ctx context.Context) ([]domain.Notification, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Notification, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type outcomeMetrics interface {
	ObserveRecodeOutcome(t domain.NotificationType)
}

type subscriber interface {
	Subscribe(topic eventbus.Topic, h eventbus.Handler)
}

// Service is the notification aggregator.
type Service struct {
	log     *slog.Logger
	repo    notificationRepo
	metrics outcomeMetrics
	window  time.Duration
}

// NewService creates the aggregator. window is the aggregation bucket
// size; outcomes are bucketed by occurrence time truncated to it.
func NewService(logger *slog.Logger, repo notificationRepo, metrics outcomeMetrics, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		log:     logger,
		repo:    repo,
		metrics: metrics,
		window:  window,
	}
}

// Register subscribes the aggregator to the recode-outcome topic.
func (s *Service) Register(bus subscriber) {
	bus.Subscribe(eventbus.TopicRecodeOutcome, s.HandleRecodeOutcome)
}

// HandleRecodeOutcome records one outcome event.
func (s *Service) HandleRecodeOutcome(ctx context.Context, ev eventbus.Event) error {
	if ev.RecodeOutcome == nil {
		return nil
	}
	_, err := s.Record(ctx, *ev.RecodeOutcome)
	return err
}

// Record aggregates one outcome into its window bucket and returns the
// updated notification.
func (s *Service) Record(ctx context.Context, outcome domain.RecodeOutcome) (*domain.Notification, error) {
	if !outcome.Type.IsValid() {
		return nil, domain.NewError(domain.KindIncompleteData, fmt.Sprintf("unknown outcome type %q", outcome.Type))
	}

	occurredAt := outcome.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	windowStart := occurredAt.Truncate(s.window)

	n, err := s.repo.Upsert(ctx, &domain.Notification{
		ID: uuid.New(),
		Key: domain.NotificationKey{
			Type:           outcome.Type,
			RuleSetName:    outcome.RuleSetName,
			FromGroup:      domain.NormalizeName(outcome.FromPath.Group()),
			FromDictionary: domain.NormalizeName(outcome.FromPath.Dictionary()),
			ToGroup:        domain.NormalizeName(outcome.ToPath.Group()),
			ToDictionary:   domain.NormalizeName(outcome.ToPath.Dictionary()),
		},
		Count:           1,
		WindowStart:     windowStart,
		WindowEnd:       windowStart.Add(s.window),
		ProcessingState: domain.ProcessingPending,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert notification: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveRecodeOutcome(outcome.Type)
	}
	if outcome.Type != domain.NotificationRecodeSuccess {
		s.log.Warn("recode failure recorded",
			slog.String("type", outcome.Type.String()),
			slog.String("rule_set", outcome.RuleSetName),
			slog.String("from", outcome.FromPath.String()),
			slog.String("cause", outcome.Cause),
		)
	}
	return n, nil
}

// QueryPending lists unprocessed notifications.
func (s *Service) QueryPending(ctx context.Context) ([]domain.Notification, error) {
	return s.repo.ListPending(ctx)
}

// ChangeNotifyState transitions notifications to PROCESSED. The only
// legal transition is PENDING → PROCESSED; marking an already processed
// notification again is a no-op, unknown ids are an error.
func (s *Service) ChangeNotifyState(ctx context.Context, ids []uuid.UUID, state domain.ProcessingState) error {
	if state != domain.ProcessingProcessed {
		return domain.NewError(domain.KindIncompleteData,
			fmt.Sprintf("notifications cannot transition to %q", state))
	}
	if len(ids) == 0 {
		return nil
	}

	var pending []uuid.UUID
	for _, id := range ids {
		n, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("load notification %s: %w", id, err)
		}
		if n.ProcessingState == domain.ProcessingPending {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := s.repo.MarkProcessed(ctx, pending, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	s.log.Info("notifications processed", slog.Int("count", len(pending)))
	return nil
}
