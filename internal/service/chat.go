package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/academic"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/auth"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/model"
	"github.com/abdelhakim-sahifa/ESTT-community-sub002/internal/repository"
)

const (
	// HistoryLimit is how many recent messages an open returns.
	HistoryLimit  = 200
	maxMessageLen = 2000
)

// ChatSession tells a user where they chat this academic year.
type ChatSession struct {
	Program       string `json:"program"`
	AcademicYear  string `json:"academic_year"`
	InferredLevel int    `json:"inferred_level"`
	Level         int    `json:"level"`
	// Confirmed is false until the user confirms a level for the academic
	// year; ChannelKey is empty until then.
	Confirmed  bool   `json:"confirmed"`
	ChannelKey string `json:"channel_key,omitempty"`
}

// ChatService routes users to their program-level channel and rotates the
// channel history once per academic year.
type ChatService struct {
	enrollments EnrollmentStore
	chats       ChatStore
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewChatService constructs a ChatService. Dates are evaluated in loc.
func NewChatService(enrollments EnrollmentStore, chats ChatStore, loc *time.Location, log logrus.FieldLogger) *ChatService {
	return &ChatService{
		enrollments: enrollments,
		chats:       chats,
		log:         log,
		now:         func() time.Time { return academic.In(time.Now(), loc) },
	}
}

// Enroll records the caller's program and start year.
func (s *ChatService) Enroll(ctx context.Context, user auth.User, req model.EnrollmentRequest) (*model.Enrollment, error) {
	program := strings.TrimSpace(req.Program)
	if program == "" {
		return nil, invalid("program is required")
	}
	e := model.Enrollment{
		UserID:           user.ID,
		Program:          strings.ToUpper(program),
		StartYear:        req.StartYear,
		SessionOverrides: map[string]int{},
		CreatedAt:        s.now(),
	}
	if err := s.enrollments.CreateEnrollment(ctx, e); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return &e, nil
}

// Enrollment returns the caller's enrollment.
func (s *ChatService) Enrollment(ctx context.Context, user auth.User) (*model.Enrollment, error) {
	e, err := s.enrollments.GetEnrollment(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func resolve(e *model.Enrollment, now time.Time) ChatSession {
	year := academic.Year(now)
	inferred := academic.InferLevel(e.StartYear, now)
	cs := ChatSession{
		Program:       e.Program,
		AcademicYear:  year,
		InferredLevel: inferred,
		Level:         inferred,
	}
	if level, ok := e.Override(year); ok {
		cs.Level = level
		cs.Confirmed = true
		cs.ChannelKey = academic.ChannelKey(e.Program, level)
	}
	return cs
}

// Resolve reports the caller's academic year, inferred level and, once
// confirmed, their channel.
func (s *ChatService) Resolve(ctx context.Context, user auth.User) (ChatSession, error) {
	e, err := s.Enrollment(ctx, user)
	if err != nil {
		return ChatSession{}, err
	}
	return resolve(e, s.now()), nil
}

// ConfirmLevel records the caller's level for the current academic year.
// The first confirmation wins; confirming the same level again is accepted.
func (s *ChatService) ConfirmLevel(ctx context.Context, user auth.User, level int) (ChatSession, error) {
	if !academic.ValidLevel(level) {
		return ChatSession{}, invalid("level must be between 1 and %d", academic.MaxLevel)
	}
	now := s.now()
	year := academic.Year(now)
	stored, err := s.enrollments.ConfirmLevel(ctx, user.ID, year, level, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ChatSession{}, ErrNotEnrolled
		}
		return ChatSession{}, fmt.Errorf("confirm level: %w", err)
	}
	if stored != level {
		return ChatSession{}, ErrLevelConflict
	}
	s.log.WithFields(logrus.Fields{
		"user_id":       user.ID,
		"academic_year": year,
		"level":         level,
	}).Info("level confirmed")
	return s.Resolve(ctx, user)
}

// channel resolves the caller's confirmed channel and runs the yearly reset
// check on it.
func (s *ChatService) channel(ctx context.Context, user auth.User) (string, error) {
	cs, err := s.Resolve(ctx, user)
	if err != nil {
		return "", err
	}
	if !cs.Confirmed {
		return "", ErrLevelConfirmationRequired
	}
	s.resetIfStale(ctx, cs.ChannelKey)
	return cs.ChannelKey, nil
}

// resetIfStale clears the channel when its marker is behind the current
// academic year. Failures are logged; chat stays available.
func (s *ChatService) resetIfStale(ctx context.Context, key string) {
	year := academic.ResetYearNeeded(s.now())
	log := s.log.WithFields(logrus.Fields{"channel": key, "academic_year": year})
	reset, err := s.chats.ResetChannelIfStale(ctx, key, year)
	if err != nil {
		log.WithError(err).Warn("channel reset check failed")
		return
	}
	if reset {
		log.Info("channel history reset")
	}
}

// OpenChannel returns the caller's channel with its recent history.
func (s *ChatService) OpenChannel(ctx context.Context, user auth.User) (*model.ChatChannel, error) {
	key, err := s.channel(ctx, user)
	if err != nil {
		return nil, err
	}
	ch, err := s.chats.GetChannel(ctx, key, HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, nil
}

// SendMessage posts text to the caller's channel.
func (s *ChatService) SendMessage(ctx context.Context, user auth.User, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("text is required")
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return nil, invalid("text exceeds %d characters", maxMessageLen)
	}
	key, err := s.channel(ctx, user)
	if err != nil {
		return nil, err
	}
	m := model.Message{
		ID:         uuid.NewString(),
		ChannelKey: key,
		Text:       text,
		SenderID:   user.ID,
		SenderName: user.DisplayName(),
		Timestamp:  s.now(),
		IsMentor:   user.IsMentor(),
	}
	if err := s.chats.AppendMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &m, nil
}

// Subscribe streams messages posted to the caller's channel until ctx ends.
func (s *ChatService) Subscribe(ctx context.Context, user auth.User) (string, <-chan model.Message, error) {
	key, err := s.channel(ctx, user)
	if err != nil {
		return "", nil, err
	}
	msgs, err := s.chats.SubscribeChannel(ctx, key)
	if err != nil {
		return "", nil, fmt.Errorf("subscribe: %w", err)
	}
	return key, msgs, nil
}
