package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"miniurl/internal/cache"
	"miniurl/internal/database"
	"miniurl/internal/models"
	"miniurl/internal/shortcode"
)

// ErrMaxRetriesExceeded is returned when the retry budget for allocating
// a unique short code is exhausted.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for allocating short code")

// LinkRepository defines the link persistence surface used by the business
// logic layer.
type LinkRepository interface {
	// Create inserts a new link. Returns database.ErrShortCodeExists
	// when the short code is already taken.
	Create(ctx context.Context, link *models.Link) (*models.Link, error)

	// UpdateStatus transitions a link to the given status under a row
	// lock. Returns the updated link or an error describing why the
	// transition did not happen.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.LinkStatus, approverID uuid.UUID) (*models.Link, error)

	// GetByID retrieves a link by its id.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Link, error)

	// GetApprovedByShortCode retrieves an approved link by short code.
	GetApprovedByShortCode(ctx context.Context, shortCode string) (*models.Link, error)

	// List returns one page of links plus the total count. A non-nil
	// creatorID restricts both to links submitted by that user.
	List(ctx context.Context, limit, offset int, status *models.LinkStatus, creatorID *uuid.UUID) ([]*models.Link, int64, error)
}

// CodeAllocator hands out monotonically increasing counter values for
// short code derivation.
type CodeAllocator interface {
	Next(ctx context.Context) (int64, error)
}

// RedirectCache is the short code to original URL lookaside used on the
// redirect path.
type RedirectCache interface {
	Get(ctx context.Context, shortCode string) (string, error)
	Save(ctx context.Context, shortCode, url string) error
	Remove(ctx context.Context, shortCode string) error
}

// EventPublisher announces link lifecycle changes. Publishing is
// fire-and-forget: failures are logged by the publisher, never surfaced.
type EventPublisher interface {
	PublishCreated(ctx context.Context, link *models.Link)
	PublishApproved(ctx context.Context, link *models.Link)
	PublishRejected(ctx context.Context, link *models.Link)
}

// LinkService implements the link submission and moderation workflow.
type LinkService struct {
	repo       LinkRepository
	allocator  CodeAllocator
	cache      RedirectCache
	events     EventPublisher
	logger     *slog.Logger
	maxRetries int
	linkTTL    time.Duration
}

func NewLinkService(
	repo LinkRepository,
	allocator CodeAllocator,
	redirectCache RedirectCache,
	events EventPublisher,
	logger *slog.Logger,
	maxRetries int,
	linkTTL time.Duration,
) *LinkService {
	return &LinkService{
		repo:       repo,
		allocator:  allocator,
		cache:      redirectCache,
		events:     events,
		logger:     logger,
		maxRetries: maxRetries,
		linkTTL:    linkTTL,
	}
}

// Shorten allocates a short code for the original URL and stores the link
// in Pending status. Counter values normally never collide, but a code may
// already be taken after a counter reset or a manual insert, so allocation
// retries with the next counter value up to the retry budget.
func (s *LinkService) Shorten(ctx context.Context, originalURL, description string, creatorID uuid.UUID) (*models.Link, error) {
	const op = "service.LinkService.Shorten"

	for i := 0; i < s.maxRetries; i++ {
		n, err := s.allocator.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to allocate short code: %w", op, err)
		}

		link, err := s.repo.Create(ctx, &models.Link{
			ID:          uuid.New(),
			OriginalURL: originalURL,
			ShortCode:   shortcode.Encode(n),
			Description: description,
			Status:      models.StatusPending,
			CreatorID:   creatorID,
			ExpiresAt:   time.Now().Add(s.linkTTL),
		})
		if err != nil {
			if errors.Is(err, database.ErrShortCodeExists) {
				continue
			}

			return nil, fmt.Errorf("%s: failed to create link: %w", op, err)
		}

		go s.events.PublishCreated(context.WithoutCancel(ctx), link)

		return link, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// Approve moves a link to Approved status and notifies its creator.
func (s *LinkService) Approve(ctx context.Context, id, adminID uuid.UUID) (*models.Link, error) {
	const op = "service.LinkService.Approve"

	link, err := s.repo.UpdateStatus(ctx, id, models.StatusApproved, adminID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to approve link: %w", op, err)
	}

	go s.events.PublishApproved(context.WithoutCancel(ctx), link)

	return link, nil
}

// Reject moves a link to Rejected status and notifies its creator. A
// previously approved link may have a cached redirect; it is evicted best
// effort so stale redirects stop serving.
func (s *LinkService) Reject(ctx context.Context, id, adminID uuid.UUID) (*models.Link, error) {
	const op = "service.LinkService.Reject"

	link, err := s.repo.UpdateStatus(ctx, id, models.StatusRejected, adminID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to reject link: %w", op, err)
	}

	go func() {
		detached := context.WithoutCancel(ctx)

		if err := s.cache.Remove(detached, link.ShortCode); err != nil {
			s.logger.Error("failed to evict cached redirect",
				slog.String("short_code", link.ShortCode),
				slog.Any("error", err),
			)
		}

		s.events.PublishRejected(detached, link)
	}()

	return link, nil
}

// Resolve returns the original URL behind an approved short code,
// consulting the cache before the database.
func (s *LinkService) Resolve(ctx context.Context, shortCode string) (string, error) {
	const op = "service.LinkService.Resolve"

	url, err := s.cache.Get(ctx, shortCode)
	if err == nil {
		return url, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Error("redirect cache lookup failed",
			slog.String("short_code", shortCode),
			slog.Any("error", err),
		)
	}

	link, err := s.repo.GetApprovedByShortCode(ctx, shortCode)
	if err != nil {
		return "", fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	go func() {
		if err := s.cache.Save(context.WithoutCancel(ctx), link.ShortCode, link.OriginalURL); err != nil {
			s.logger.Error("failed to cache redirect",
				slog.String("short_code", link.ShortCode),
				slog.Any("error", err),
			)
		}
	}()

	return link.OriginalURL, nil
}

// GetLink retrieves a single link by id.
func (s *LinkService) GetLink(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	const op = "service.LinkService.GetLink"

	link, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get link: %w", op, err)
	}

	return link, nil
}

// ListLinks returns one page of links plus the total count, optionally
// filtered by status. A non-nil creatorID scopes the listing to that
// user's own submissions.
func (s *LinkService) ListLinks(ctx context.Context, limit, offset int, status *models.LinkStatus, creatorID *uuid.UUID) ([]*models.Link, int64, error) {
	const op = "service.LinkService.ListLinks"

	links, total, err := s.repo.List(ctx, limit, offset, status, creatorID)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: failed to list links: %w", op, err)
	}

	return links, total, nil
}
