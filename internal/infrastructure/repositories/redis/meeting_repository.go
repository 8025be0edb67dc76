package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

const (
	meetingKeyPrefix = "meetroom:meeting:"
	meetingLinksKey  = "meetroom:meeting-links"
	maxWatchRetries  = 5
)

type RedisMeetingRepository struct {
	client *redis.Client
}

func NewRedisMeetingRepository(client *redis.Client) ports.MeetingRepository {
	return &RedisMeetingRepository{client: client}
}

func meetingKey(id domain.MeetingID) string {
	return meetingKeyPrefix + string(id)
}

// Create claims the link first so two meetings can never share one.
func (r *RedisMeetingRepository) Create(ctx context.Context, meeting *domain.Meeting) error {
	data, err := json.Marshal(meeting)
	if err != nil {
		return fmt.Errorf("failed to marshal meeting: %w", err)
	}

	if meeting.Link != "" {
		claimed, err := r.client.HSetNX(ctx, meetingLinksKey, meeting.Link, string(meeting.ID)).Result()
		if err != nil {
			return fmt.Errorf("failed to claim meeting link: %w", err)
		}
		if !claimed {
			return domain.ErrMeetingExists
		}
	}

	created, err := r.client.SetNX(ctx, meetingKey(meeting.ID), data, 0).Result()
	if err != nil || !created {
		if meeting.Link != "" {
			r.client.HDel(ctx, meetingLinksKey, meeting.Link)
		}
		if err != nil {
			return fmt.Errorf("failed to save meeting: %w", err)
		}
		return domain.ErrMeetingExists
	}
	return nil
}

func (r *RedisMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	data, err := r.client.Get(ctx, meetingKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}

	var meeting domain.Meeting
	if err := json.Unmarshal(data, &meeting); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meeting: %w", err)
	}
	return &meeting, nil
}

func (r *RedisMeetingRepository) GetByLink(ctx context.Context, link string) (*domain.Meeting, error) {
	id, err := r.client.HGet(ctx, meetingLinksKey, link).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrMeetingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve meeting link: %w", err)
	}
	return r.GetByID(ctx, domain.MeetingID(id))
}

// SetRecording updates the stored meeting under WATCH, retrying when a
// concurrent writer touched it.
func (r *RedisMeetingRepository) SetRecording(ctx context.Context, id domain.MeetingID, url string) error {
	key := meetingKey(id)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrMeetingNotFound
		}
		if err != nil {
			return err
		}

		var meeting domain.Meeting
		if err := json.Unmarshal(data, &meeting); err != nil {
			return fmt.Errorf("failed to unmarshal meeting: %w", err)
		}
		meeting.IsRecorded = true
		meeting.RecordingURL = url

		updated, err := json.Marshal(&meeting)
		if err != nil {
			return fmt.Errorf("failed to marshal meeting: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to set recording for meeting %s: too much contention", id)
}
