package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Policy holds the tunable award and allocation rules.
type Policy struct {
	CutoffHour   int
	CutoffMinute int
	OnTimePoints int
	LatePoints   int
	// InitialPoints is granted once at creation as an INITIAL entry.
	InitialPoints int
	// DailyAddCeiling caps ADD points per participant per device date. 0 disables it.
	DailyAddCeiling int
	IDs             Allocator
}

func DefaultPolicy() Policy {
	return Policy{
		CutoffHour:    8,
		CutoffMinute:  30,
		OnTimePoints:  50,
		LatePoints:    25,
		InitialPoints: 100,
		IDs:           DefaultAllocator(),
	}
}

func (p Policy) Validate() error {
	if p.CutoffHour < 0 || p.CutoffHour > 23 || p.CutoffMinute < 0 || p.CutoffMinute > 59 {
		return fmt.Errorf("attendance cutoff %02d:%02d out of range", p.CutoffHour, p.CutoffMinute)
	}
	if p.OnTimePoints <= 0 || p.LatePoints <= 0 {
		return fmt.Errorf("attendance awards must be positive")
	}
	if p.InitialPoints < 0 {
		return fmt.Errorf("initial points must not be negative")
	}
	if p.DailyAddCeiling < 0 {
		return fmt.Errorf("daily add ceiling must not be negative")
	}
	return p.IDs.Validate()
}

// Cache stores rendered report payloads. Get returns (nil, nil) on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer stored at key, starting from 0.
	Incr(ctx context.Context, key string) (int64, error)
}

// Service is the entry point for every ledger operation.
type Service struct {
	store    Store
	policy   Policy
	cache    Cache
	cacheTTL time.Duration
	log      *slog.Logger
}

type Option func(*Service)

// WithCache enables leaderboard caching.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, policy Policy, opts ...Option) *Service {
	s := &Service{store: store, policy: policy, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Policy() Policy { return s.policy }

// observe records metrics and logs the outcome of op.
func (s *Service) observe(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	opTotal.WithLabelValues(op, outcome).Inc()
	opSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())

	attrs = append([]any{slog.String("op", op)}, attrs...)
	switch {
	case err == nil:
		s.log.DebugContext(ctx, "ledger op", attrs...)
	case KindOf(err) == KindStorage:
		s.log.ErrorContext(ctx, "ledger op failed", append(attrs, slog.Any("error", err))...)
	default:
		s.log.InfoContext(ctx, "ledger op rejected", append(attrs, slog.String("reason", err.Error()))...)
	}
}

// mutated retires cached reports after a committed write by moving the
// leaderboard to a new generation.
func (s *Service) mutated(ctx context.Context) {
	if s.cache == nil {
		return
	}
	_, err := s.cache.Incr(ctx, leaderboardGenKey)
	if err == nil {
		return
	}
	s.log.WarnContext(ctx, "leaderboard generation bump failed", slog.Any("error", err))

	gen, err := s.leaderboardGen(ctx)
	if err != nil {
		return
	}
	keys := []string{leaderboardKey(gen, "")}
	for g := range s.policy.IDs.Partitions {
		keys = append(keys, leaderboardKey(gen, g))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.WarnContext(ctx, "leaderboard cache invalidation failed", slog.Any("error", err))
	}
}

// activeParticipant locks a participant and rejects inactive rows.
func activeParticipant(ctx context.Context, tx Tx, sevakID string) (Participant, error) {
	p, err := tx.LockParticipant(ctx, sevakID)
	if err != nil {
		return Participant{}, err
	}
	if !p.IsActive {
		return Participant{}, ErrNotFound
	}
	return p, nil
}

func checkActor(a Actor) error {
	if a.Email == "" {
		return validationf("actor email is required")
	}
	return nil
}

func checkDeviceTime(dt DeviceTime) error {
	if dt.IsZero() {
		return validationf("device time is required")
	}
	return nil
}

// normalizeSevakID accepts scanned IDs in any case with stray whitespace.
func normalizeSevakID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
