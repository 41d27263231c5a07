package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/progression/pkg/availability"
	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/progression"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// errorType buckets an engine error for the error.type attribute.
func errorType(err error) string {
	switch {
	case errors.Is(err, progression.ErrStatsUnavailable):
		return "stats_unavailable"
	case errors.Is(err, progression.ErrIncompleteStats):
		return "incomplete_stats"
	case errors.Is(err, progression.ErrCustomerNotFound):
		return "customer_not_found"
	case errors.Is(err, progression.ErrMissionNotFound):
		return "mission_not_found"
	case errors.Is(err, progression.ErrAchievementNotFound):
		return "achievement_not_found"
	case errors.Is(err, progression.ErrRequirementsNotMet):
		return "requirements_not_met"
	case errors.Is(err, progression.ErrLockUnavailable):
		return "lock_unavailable"
	case errors.Is(err, availability.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, availability.ErrPrerequisitesNotMet):
		return "prerequisites_not_met"
	case errors.Is(err, availability.ErrAlreadyCompleted):
		return "already_completed"
	case errors.Is(err, ledger.ErrInvalidCursor):
		return "invalid_cursor"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}

// instrumented decorates a progression.Service with spans, RED metrics,
// reward counters and edge logging.
type instrumented struct {
	next   progression.Service
	p      *Provider
	logger *slog.Logger
}

// Instrument wraps svc. Every call is traced and counted; failures are
// logged once here rather than inside the engine.
func Instrument(svc progression.Service, p *Provider) progression.Service {
	return &instrumented{
		next:   svc,
		p:      p,
		logger: slog.Default().With("component", "progression"),
	}
}

var _ progression.Service = (*instrumented)(nil)

func customerAttr(id string) attribute.KeyValue { return attribute.String("svt.customer_id", id) }

func missionAttr(id string) attribute.KeyValue { return attribute.String("svt.mission_id", id) }

// done finishes the span and logs failures with the customer context.
func (s *instrumented) done(ctx context.Context, finish func(error), op, customerID string, err error) {
	finish(err)
	if err == nil {
		return
	}
	level := slog.LevelWarn
	if errorType(err) == "internal" {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "operation failed",
		"op", op,
		"customer_id", customerID,
		"error_type", errorType(err),
		"error", err,
	)
	if errors.Is(err, progression.ErrStatsUnavailable) && s.p.statsFailures != nil {
		s.p.statsFailures.Add(ctx, 1)
	}
}

func (s *instrumented) GetAvailableMissions(ctx context.Context, customerID string) ([]availability.MissionView, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetAvailableMissions", customerAttr(customerID))
	views, err := s.next.GetAvailableMissions(ctx, customerID)
	s.done(ctx, finish, "GetAvailableMissions", customerID, err)
	return views, err
}

func (s *instrumented) StartMission(ctx context.Context, customerID, missionID string) (availability.MissionView, error) {
	ctx, finish := s.p.TrackOperation(ctx, "StartMission", customerAttr(customerID), missionAttr(missionID))
	v, err := s.next.StartMission(ctx, customerID, missionID)
	s.done(ctx, finish, "StartMission", customerID, err)
	if err == nil {
		s.logger.InfoContext(ctx, "mission started", "customer_id", customerID, "mission_id", missionID)
	}
	return v, err
}

func (s *instrumented) CompleteMission(ctx context.Context, customerID, missionID string) (*progression.RewardReceipt, error) {
	ctx, finish := s.p.TrackOperation(ctx, "CompleteMission", customerAttr(customerID), missionAttr(missionID))
	r, err := s.next.CompleteMission(ctx, customerID, missionID)
	s.done(ctx, finish, "CompleteMission", customerID, err)
	if err != nil {
		return r, err
	}

	attrs := metric.WithAttributes(missionAttr(missionID))
	if r.Deduplicated {
		if s.p.deduplicated != nil {
			s.p.deduplicated.Add(ctx, 1, attrs)
		}
		s.logger.InfoContext(ctx, "completion deduplicated",
			"customer_id", customerID, "mission_id", missionID, "entry_id", r.EntryID)
		return r, nil
	}
	if s.p.tokensGranted != nil {
		s.p.tokensGranted.Add(ctx, r.Amount.InexactFloat64(), attrs)
	}
	s.logger.InfoContext(ctx, "mission rewarded",
		"customer_id", customerID,
		"mission_id", missionID,
		"window", r.Window,
		"amount", r.Amount.String(),
		"balance", r.Balance.String(),
		"entry_id", r.EntryID,
	)
	return r, nil
}

func (s *instrumented) GetMissionStatus(ctx context.Context, customerID, missionID string) (availability.MissionView, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetMissionStatus", customerAttr(customerID), missionAttr(missionID))
	v, err := s.next.GetMissionStatus(ctx, customerID, missionID)
	s.done(ctx, finish, "GetMissionStatus", customerID, err)
	return v, err
}

func (s *instrumented) EvaluateAchievements(ctx context.Context, customerID string) ([]progression.AchievementReceipt, error) {
	ctx, finish := s.p.TrackOperation(ctx, "EvaluateAchievements", customerAttr(customerID))
	unlocked, err := s.next.EvaluateAchievements(ctx, customerID)
	s.done(ctx, finish, "EvaluateAchievements", customerID, err)

	// A failed evaluation returns no receipts.
	for _, a := range unlocked {
		attrs := metric.WithAttributes(
			attribute.String("svt.achievement_id", a.AchievementID),
			attribute.String("svt.rank", a.Rank.String()),
		)
		if s.p.achievements != nil {
			s.p.achievements.Add(ctx, 1, attrs)
		}
		if s.p.tokensGranted != nil {
			s.p.tokensGranted.Add(ctx, a.Amount.InexactFloat64(), attrs)
		}
		s.logger.InfoContext(ctx, "achievement unlocked",
			"customer_id", customerID,
			"achievement_id", a.AchievementID,
			"rank", a.Rank.String(),
			"amount", a.Amount.String(),
		)
	}
	return unlocked, err
}

func (s *instrumented) GetAchievements(ctx context.Context, customerID string) ([]progression.AchievementStatus, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetAchievements", customerAttr(customerID))
	out, err := s.next.GetAchievements(ctx, customerID)
	s.done(ctx, finish, "GetAchievements", customerID, err)
	return out, err
}

func (s *instrumented) GetBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetBalance", customerAttr(customerID))
	bal, err := s.next.GetBalance(ctx, customerID)
	s.done(ctx, finish, "GetBalance", customerID, err)
	return bal, err
}

func (s *instrumented) GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetLedgerHistory", customerAttr(customerID))
	page, err := s.next.GetLedgerHistory(ctx, customerID, cursor, limit)
	s.done(ctx, finish, "GetLedgerHistory", customerID, err)
	return page, err
}

func (s *instrumented) GetTier(ctx context.Context, customerID string) (tiers.Tier, error) {
	ctx, finish := s.p.TrackOperation(ctx, "GetTier", customerAttr(customerID))
	tier, err := s.next.GetTier(ctx, customerID)
	s.done(ctx, finish, "GetTier", customerID, err)
	return tier, err
}
