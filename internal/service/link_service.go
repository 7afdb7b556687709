package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/darkodi/snaplink/internal/metrics"
	"github.com/darkodi/snaplink/internal/model"
	"github.com/darkodi/snaplink/internal/repository"
	"github.com/darkodi/snaplink/internal/shortid"
)

// Custom errors for the service layer
var (
	ErrInvalidURL        = errors.New("original URL must be a non-empty string")
	ErrMachineIDRequired = errors.New("machine ID required")
	ErrURLNotFound       = errors.New("short URL not found")
	ErrShortIDExhausted  = errors.New("could not allocate a unique short id")
)

const defaultAttempts = 3

// LinkService handles business logic for links
type LinkService struct {
	repo     repository.Repository
	ids      shortid.Generator
	now      func() time.Time
	baseURL  string
	attempts int
	log      *slog.Logger
}

// NewLinkService creates a service that issues nanoid short ids
func NewLinkService(repo repository.Repository, baseURL string, log *slog.Logger) *LinkService {
	return &LinkService{
		repo:     repo,
		ids:      shortid.NewNanoid(),
		now:      time.Now,
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: defaultAttempts,
		log:      log,
	}
}

// WithIDGenerator replaces the short id generator
func (s *LinkService) WithIDGenerator(g shortid.Generator) *LinkService {
	s.ids = g
	return s
}

// WithClock replaces the time source
func (s *LinkService) WithClock(now func() time.Time) *LinkService {
	s.now = now
	return s
}

// WithAttempts sets how many short ids are tried before giving up
func (s *LinkService) WithAttempts(n int) *LinkService {
	if n > 0 {
		s.attempts = n
	}
	return s
}

// ShortURL is the public address of a short id
func (s *LinkService) ShortURL(shortID string) string {
	return s.baseURL + "/" + shortID
}

// Create returns the device's existing link for originalURL, or stores a new
// one. created reports which of the two happened.
func (s *LinkService) Create(ctx context.Context, originalURL, machineID string) (link *model.Link, created bool, err error) {
	if originalURL == "" {
		return nil, false, ErrInvalidURL
	}
	if machineID == "" {
		return nil, false, ErrMachineIDRequired
	}

	// check-then-insert is not atomic: two racing requests may both insert
	existing, err := s.repo.FindByURLAndMachine(ctx, originalURL, machineID)
	if err == nil {
		metrics.LinksReused.Inc()
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		id, err := s.ids.Generate()
		if err != nil {
			return nil, false, fmt.Errorf("generate short id: %w", err)
		}

		link = &model.Link{
			OriginalURL: originalURL,
			ShortID:     id,
			MachineID:   machineID,
			CreatedAt:   s.now().UTC().Truncate(time.Millisecond),
		}

		err = s.repo.Create(ctx, link)
		if err == nil {
			metrics.LinksCreated.Inc()
			s.log.Info("link created", "short_id", id, "machine_id", machineID)
			return link, true, nil
		}
		if !errors.Is(err, repository.ErrDuplicateShortID) {
			return nil, false, err
		}

		metrics.ShortIDCollisions.Inc()
		s.log.Warn("short id collision", "short_id", id, "attempt", attempt)
	}

	return nil, false, ErrShortIDExhausted
}

// Get looks a link up without touching its counters
func (s *LinkService) Get(ctx context.Context, shortID string) (*model.Link, error) {
	if !shortid.Valid(shortID) {
		return nil, ErrURLNotFound
	}

	link, err := s.repo.GetByShortID(ctx, shortID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrURLNotFound
	}
	return link, err
}

// Visit counts one redirect and returns the updated link
func (s *LinkService) Visit(ctx context.Context, shortID string) (*model.Link, error) {
	if !shortid.Valid(shortID) {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return nil, ErrURLNotFound
	}

	link, err := s.repo.RecordVisit(ctx, shortID, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return nil, ErrURLNotFound
	case err != nil:
		metrics.Redirects.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.Redirects.WithLabelValues("found").Inc()
	return link, nil
}

// ListByMachine returns the device's links, newest first
func (s *LinkService) ListByMachine(ctx context.Context, machineID string) ([]model.Link, error) {
	if machineID == "" {
		return nil, ErrMachineIDRequired
	}
	return s.repo.ListByMachine(ctx, machineID)
}

// Stats builds the stats page view of a link
func (s *LinkService) Stats(ctx context.Context, shortID string) (*model.LinkStats, error) {
	link, err := s.Get(ctx, shortID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stats := &model.LinkStats{
		Link:        *link,
		ShortURL:    s.ShortURL(link.ShortID),
		Created:     humanize.RelTime(link.CreatedAt, now, "ago", "from now"),
		LastVisited: "Never",
	}
	if link.LastVisited != nil {
		stats.LastVisited = humanize.RelTime(*link.LastVisited, now, "ago", "from now")
	}
	return stats, nil
}

// Ping reports store health
func (s *LinkService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
