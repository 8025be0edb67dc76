package repositories

import (
	"context"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/pkg/cache"
)

// CachedMeetingRepository keeps recently read meetings in process so every
// room open does not round-trip to Redis. Meetings are cached by value and
// callers always receive their own copy.
type CachedMeetingRepository struct {
	base  ports.MeetingRepository
	cache *cache.Cache[domain.Meeting]
}

func NewCachedMeetingRepository(base ports.MeetingRepository, ttl time.Duration) *CachedMeetingRepository {
	return &CachedMeetingRepository{
		base:  base,
		cache: cache.New[domain.Meeting](ttl),
	}
}

func idKey(id domain.MeetingID) string { return "meeting:id:" + string(id) }
func linkKey(link string) string       { return "meeting:link:" + link }

func (r *CachedMeetingRepository) Create(ctx context.Context, meeting *domain.Meeting) error {
	return r.base.Create(ctx, meeting)
}

func (r *CachedMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return r.load(ctx, idKey(id), func(ctx context.Context) (*domain.Meeting, error) {
		return r.base.GetByID(ctx, id)
	})
}

func (r *CachedMeetingRepository) GetByLink(ctx context.Context, link string) (*domain.Meeting, error) {
	return r.load(ctx, linkKey(link), func(ctx context.Context) (*domain.Meeting, error) {
		return r.base.GetByLink(ctx, link)
	})
}

func (r *CachedMeetingRepository) load(ctx context.Context, key string, get func(context.Context) (*domain.Meeting, error)) (*domain.Meeting, error) {
	meeting, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (domain.Meeting, error) {
		m, err := get(ctx)
		if err != nil {
			return domain.Meeting{}, err
		}
		return *m, nil
	})
	if err != nil {
		return nil, err
	}
	return &meeting, nil
}

func (r *CachedMeetingRepository) SetRecording(ctx context.Context, id domain.MeetingID, url string) error {
	err := r.base.SetRecording(ctx, id, url)
	r.cache.Delete(idKey(id))
	// The link entry may be cached without the id entry.
	r.cache.Invalidate("meeting:link:")
	return err
}

// Close stops the cache sweeper.
func (r *CachedMeetingRepository) Close() {
	r.cache.Stop()
}
