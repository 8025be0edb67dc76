package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"

	"go.uber.org/zap"
)

type RoomKey struct {
	MeetingID domain.MeetingID
	UserID    domain.UserID
}

// RoomService keeps one Room per user session of a meeting.
type RoomService struct {
	meetings ports.MeetingRepository
	cfg      RoomConfig
	deps     RoomDeps
	logger   *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[RoomKey]*Room
}

func NewRoomService(cfg RoomConfig, deps RoomDeps, logger *zap.SugaredLogger) *RoomService {
	return &RoomService{
		meetings: deps.Meetings,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		rooms:    make(map[RoomKey]*Room),
	}
}

// Open resolves a meeting link and returns the caller's room for it,
// creating a fresh one when none is live.
func (s *RoomService) Open(ctx context.Context, link string, identity domain.Identity) (*Room, error) {
	meeting, err := s.meetings.GetByLink(ctx, link)
	if err != nil {
		return nil, err
	}

	key := RoomKey{MeetingID: meeting.ID, UserID: identity.UserID}

	s.mu.Lock()
	defer s.mu.Unlock()

	if room, exists := s.rooms[key]; exists && room.State() != domain.StateLeft {
		return room, nil
	}

	meetingCopy := *meeting
	room := NewRoom(Session{Identity: identity, Meeting: &meetingCopy}, s.cfg, s.deps, s.logger)
	s.rooms[key] = room

	s.logger.Infow("opened room",
		"meeting_id", meeting.ID,
		"user_id", identity.UserID,
		"host", meeting.IsHost(identity.UserID),
	)
	return room, nil
}

func (s *RoomService) Get(meetingID domain.MeetingID, userID domain.UserID) (*Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, exists := s.rooms[RoomKey{MeetingID: meetingID, UserID: userID}]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Close leaves the room and forgets it. A pending recording upload is lost
// once the room is forgotten, so callers retry uploads before closing.
func (s *RoomService) Close(ctx context.Context, meetingID domain.MeetingID, userID domain.UserID) error {
	key := RoomKey{MeetingID: meetingID, UserID: userID}

	s.mu.Lock()
	room, exists := s.rooms[key]
	delete(s.rooms, key)
	s.mu.Unlock()

	if !exists {
		return domain.ErrRoomNotFound
	}
	return room.Leave(ctx)
}

func (s *RoomService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// Shutdown leaves every room. Errors are collected so one failing room
// does not keep the others connected.
func (s *RoomService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rooms := s.rooms
	s.rooms = make(map[RoomKey]*Room)
	s.mu.Unlock()

	var errs []error
	for key, room := range rooms {
		if err := room.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("room %s/%s: %w", key.MeetingID, key.UserID, err))
		}
	}
	s.logger.Infow("room service stopped", "rooms", len(rooms))
	return errors.Join(errs...)
}
