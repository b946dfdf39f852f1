package report

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

// Publisher emits accepted reports as events. *publish.KafkaPublisher satisfies it.
type Publisher interface {
	PublishReport(ctx context.Context, r models.Report) error
}

// Submitter runs the report pipeline: validate, store, notify, publish.
type Submitter struct {
	store     Store
	notifier  Notifier
	publisher Publisher
	clock     clockwork.Clock
	logger    *zap.Logger
}

// SubmitterOptions holds the optional collaborators of a Submitter.
type SubmitterOptions struct {
	Notifier  Notifier
	Publisher Publisher
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// NewSubmitter returns a Submitter appending to store.
func NewSubmitter(store Store, opts SubmitterOptions) *Submitter {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Submitter{
		store:     store,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		clock:     opts.Clock,
		logger:    opts.Logger,
	}
}

// Submit validates s, assigns an ID and timestamp, and appends the report.
// Validation failures wrap ErrInvalid and storage failures wrap
// ErrPersistence. Webhook and publish failures are logged only; the stored
// report stands on its own.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (models.Report, error) {
	clean, err := Validate(sub)
	if err != nil {
		observability.ReportsTotal.WithLabelValues("invalid").Inc()
		return models.Report{}, err
	}

	r := models.Report{
		ID:        uuid.NewString(),
		Name:      clean.Name,
		Email:     clean.Email,
		Location:  clean.Location,
		Complaint: clean.Complaint,
		Timestamp: s.clock.Now().UTC(),
	}
	logger := s.logger.With(zap.String("report_id", r.ID))

	if err := s.store.Append(ctx, r); err != nil {
		observability.ReportsTotal.WithLabelValues("persistence_failed").Inc()
		logger.Error("report store append failed", zap.Error(err))
		return models.Report{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	observability.ReportsTotal.WithLabelValues("accepted").Inc()
	logger.Info("report accepted", zap.String("location", r.Location))

	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, r); err != nil {
			logger.Warn("report webhook failed", zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishReport(ctx, r); err != nil {
			logger.Warn("report publish failed", zap.Error(err))
		}
	}
	return r, nil
}

// Recent returns the newest reports.
func (s *Submitter) Recent(ctx context.Context, limit int) ([]models.Report, error) {
	reports, err := s.store.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return reports, nil
}
