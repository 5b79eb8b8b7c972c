package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"consultlink-backend/internal/domain"
	"consultlink-backend/internal/repository/cockroach"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/email"
	apperrors "consultlink-backend/pkg/errors"
	"consultlink-backend/pkg/logger"
	"consultlink-backend/pkg/metrics"
	"consultlink-backend/pkg/push"
)

// SessionRepository defines the session persistence operations the service needs
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error)
	UpdateStatus(ctx context.Context, sessionID uuid.UUID, fromStatus, toStatus string) error
	StartVideo(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error
	CompleteWithSettlement(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, totalCost float64) (*domain.Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*domain.Session, error)
}

// UserRepository defines the user persistence operations the service needs
type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateAvailability(ctx context.Context, userID uuid.UUID, availability string) error
}

// Service handles session lifecycle business logic
type Service struct {
	sessionRepo SessionRepository
	userRepo    UserRepository
	pushSvc     *push.Service
	emailSvc    *email.Service
	metrics     *metrics.Metrics
}

// NewService creates a new session service. Push, email and metrics are
// optional side channels; nil disables each.
func NewService(sessionRepo SessionRepository, userRepo UserRepository, pushSvc *push.Service, emailSvc *email.Service, m *metrics.Metrics) *Service {
	return &Service{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		pushSvc:     pushSvc,
		emailSvc:    emailSvc,
		metrics:     m,
	}
}

// StartVideoOutput carries the session and the budget derived from the
// client's balance at start time
type StartVideoOutput struct {
	Session            *domain.Session
	MaxDurationSeconds int64
}

// Create records a new pending session request from a client. The
// consultant's current rate is snapshotted so later rate changes never
// affect an in-flight session.
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, input *domain.SessionCreate) (*domain.Session, error) {
	if clientID == input.ConsultantID {
		return nil, apperrors.ValidationError("cannot request a session with yourself")
	}
	topic := strings.TrimSpace(input.Topic)
	if topic == "" {
		return nil, apperrors.ValidationError("topic is required")
	}
	if len(topic) > constants.MaxTopicLength {
		return nil, apperrors.ValidationError("topic too long")
	}
	if input.Description != nil && len(*input.Description) > constants.MaxDescriptionLength {
		return nil, apperrors.ValidationError("description too long")
	}

	consultant, err := s.userRepo.GetByID(ctx, input.ConsultantID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.NotFoundError("consultant")
		}
		return nil, apperrors.DatabaseError(err)
	}
	if !consultant.IsConsultant() {
		return nil, apperrors.WrongRoleError("session requests must target a consultant")
	}

	requestedMinutes := input.RequestedMinutes
	if requestedMinutes == 0 {
		requestedMinutes = constants.DefaultRequestedMinutes
	}

	session := &domain.Session{
		ID:               uuid.New(),
		ClientID:         clientID,
		ConsultantID:     input.ConsultantID,
		Status:           domain.SessionStatusPending,
		CostPerMinute:    consultant.CostPerMinute,
		Topic:            topic,
		Description:      input.Description,
		RequestedMinutes: requestedMinutes,
		ScheduledAt:      input.ScheduledAt,
		CreatedAt:        time.Now(),
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordSessionTransition(domain.SessionStatusPending)
	}

	s.notifyRequested(ctx, session, clientID)

	logger.Info("Session requested",
		zap.String("session_id", session.ID.String()),
		zap.String("client_id", clientID.String()),
		zap.String("consultant_id", input.ConsultantID.String()),
		zap.Float64("cost_per_minute", session.CostPerMinute))

	return session, nil
}

// Accept transitions a pending session to accepted. Only the session's
// consultant may accept.
func (s *Service) Accept(ctx context.Context, consultantID, sessionID uuid.UUID) (*domain.Session, error) {
	return s.decide(ctx, consultantID, sessionID, domain.SessionStatusAccepted)
}

// Reject transitions a pending session to rejected. Only the session's
// consultant may reject.
func (s *Service) Reject(ctx context.Context, consultantID, sessionID uuid.UUID) (*domain.Session, error) {
	return s.decide(ctx, consultantID, sessionID, domain.SessionStatusRejected)
}

func (s *Service) decide(ctx context.Context, consultantID, sessionID uuid.UUID, toStatus string) (*domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ConsultantID != consultantID {
		return nil, apperrors.WrongRoleError("only the consultant can decide a session request")
	}
	if session.Status != domain.SessionStatusPending {
		return nil, stateError(session.Status, toStatus)
	}

	if err := s.sessionRepo.UpdateStatus(ctx, sessionID, domain.SessionStatusPending, toStatus); err != nil {
		if errors.Is(err, cockroach.ErrStaleStatus) {
			return nil, stateError(session.Status, toStatus)
		}
		return nil, apperrors.DatabaseError(err)
	}
	session.Status = toStatus

	if s.metrics != nil {
		s.metrics.RecordSessionTransition(toStatus)
	}

	s.notifyDecided(ctx, session, toStatus)

	logger.Info("Session decided",
		zap.String("session_id", sessionID.String()),
		zap.String("status", toStatus))

	return session, nil
}

// Cancel transitions a pending or accepted session to cancelled. Either
// party may cancel before the call starts; active sessions must be
// completed instead.
func (s *Service) Cancel(ctx context.Context, userID, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != userID && session.ConsultantID != userID {
		return nil, apperrors.NotPartyError()
	}
	if session.Status != domain.SessionStatusPending && session.Status != domain.SessionStatusAccepted {
		return nil, stateError(session.Status, domain.SessionStatusCancelled)
	}

	if err := s.sessionRepo.UpdateStatus(ctx, sessionID, session.Status, domain.SessionStatusCancelled); err != nil {
		if errors.Is(err, cockroach.ErrStaleStatus) {
			return nil, stateError(session.Status, domain.SessionStatusCancelled)
		}
		return nil, apperrors.DatabaseError(err)
	}
	session.Status = domain.SessionStatusCancelled

	if s.metrics != nil {
		s.metrics.RecordSessionTransition(domain.SessionStatusCancelled)
	}

	logger.Info("Session cancelled",
		zap.String("session_id", sessionID.String()))

	return session, nil
}

// StartVideo transitions an accepted session to active, stamps the billing
// start and returns the duration budget the client's balance affords at the
// snapshotted rate. Repeat calls while active return the same session with
// a budget recomputed from the current balance, so client retries after a
// reconnect are harmless.
func (s *Service) StartVideo(ctx context.Context, userID, sessionID uuid.UUID) (*StartVideoOutput, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != userID && session.ConsultantID != userID {
		return nil, apperrors.NotPartyError()
	}
	if session.Status != domain.SessionStatusAccepted && session.Status != domain.SessionStatusActive {
		return nil, stateError(session.Status, domain.SessionStatusActive)
	}

	client, err := s.userRepo.GetByID(ctx, session.ClientID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if session.CostPerMinute > 0 && client.Credits < session.CostPerMinute {
		return nil, apperrors.InsufficientCreditsError("Client balance cannot cover one minute at the session rate")
	}

	alreadyActive := session.Status == domain.SessionStatusActive
	now := time.Now()
	if err := s.sessionRepo.StartVideo(ctx, sessionID, now); err != nil {
		if errors.Is(err, cockroach.ErrStaleStatus) {
			return nil, stateError(session.Status, domain.SessionStatusActive)
		}
		return nil, apperrors.DatabaseError(err)
	}

	if !alreadyActive {
		session.Status = domain.SessionStatusActive
		session.ActualStart = &now

		if err := s.userRepo.UpdateAvailability(ctx, session.ConsultantID, domain.AvailabilityBusy); err != nil {
			logger.Warn("Failed to mark consultant busy",
				zap.String("consultant_id", session.ConsultantID.String()),
				zap.Error(err))
		}

		if s.metrics != nil {
			s.metrics.RecordSessionTransition(domain.SessionStatusActive)
			s.metrics.SessionStarted()
		}
	}

	logger.Info("Video started",
		zap.String("session_id", sessionID.String()),
		zap.Bool("already_active", alreadyActive),
		zap.Int64("max_duration_seconds", MaxDurationSeconds(client.Credits, session.CostPerMinute)))

	return &StartVideoOutput{
		Session:            session,
		MaxDurationSeconds: MaxDurationSeconds(client.Credits, session.CostPerMinute),
	}, nil
}

// Complete finalizes an active session: the billed cost is computed from
// elapsed time at the snapshotted rate, credits are settled between the
// parties in one transaction, and the consultant is released.
func (s *Service) Complete(ctx context.Context, userID, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != userID && session.ConsultantID != userID {
		return nil, apperrors.NotPartyError()
	}
	if session.Status != domain.SessionStatusActive {
		return nil, stateError(session.Status, domain.SessionStatusCompleted)
	}

	now := time.Now()
	totalCost := 0.0
	if session.ActualStart != nil {
		totalCost = SessionCost(now.Sub(*session.ActualStart), session.CostPerMinute)
	}

	completed, err := s.sessionRepo.CompleteWithSettlement(ctx, sessionID, now, totalCost)
	if err != nil {
		if errors.Is(err, cockroach.ErrStaleStatus) {
			return nil, stateError(session.Status, domain.SessionStatusCompleted)
		}
		return nil, apperrors.DatabaseError(err)
	}

	if err := s.userRepo.UpdateAvailability(ctx, completed.ConsultantID, domain.AvailabilityOnline); err != nil {
		logger.Warn("Failed to release consultant",
			zap.String("consultant_id", completed.ConsultantID.String()),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordSessionTransition(domain.SessionStatusCompleted)
		s.metrics.SessionEnded(completed.BilledDuration(), completed.TotalCost)
	}

	s.notifyEnded(ctx, completed)

	logger.Info("Session completed",
		zap.String("session_id", sessionID.String()),
		zap.Int64("duration_seconds", int64(completed.BilledDuration().Seconds())),
		zap.Float64("total_cost", completed.TotalCost))

	return completed, nil
}

// Get retrieves a session; only its parties may read it
func (s *Service) Get(ctx context.Context, userID, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ClientID != userID && session.ConsultantID != userID {
		return nil, apperrors.NotPartyError()
	}
	return session, nil
}

// List retrieves the user's sessions newest first, optionally filtered by status
func (s *Service) List(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*domain.Session, error) {
	if status != "" && !validStatusFilter(status) {
		return nil, apperrors.ValidationError("unknown session status: " + status)
	}
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	sessions, err := s.sessionRepo.ListByUser(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return sessions, nil
}

// IsParty reports whether a user is one of the session's two parties,
// used by the relay to authorize channel joins
func (s *Service) IsParty(ctx context.Context, userID, sessionID uuid.UUID) (bool, *domain.Session, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return false, nil, err
	}
	return session.ClientID == userID || session.ConsultantID == userID, session, nil
}

func (s *Service) getSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, cockroach.ErrNotFound) {
			return nil, apperrors.SessionNotFoundError()
		}
		return nil, apperrors.DatabaseError(err)
	}
	return session, nil
}

func (s *Service) notifyRequested(ctx context.Context, session *domain.Session, clientID uuid.UUID) {
	if s.pushSvc == nil && s.emailSvc == nil {
		return
	}
	client, err := s.userRepo.GetByID(ctx, clientID)
	if err != nil {
		logger.Warn("Failed to load client for notification", zap.Error(err))
		return
	}

	if s.pushSvc != nil {
		data := &push.SessionNotificationData{
			SessionID:     session.ID,
			ClientID:      clientID,
			ClientName:    client.DisplayName,
			CostPerMinute: session.CostPerMinute,
			Timestamp:     session.CreatedAt.Unix(),
		}
		if err := s.pushSvc.SendSessionRequestNotification(ctx, data, session.ConsultantID); err != nil {
			logger.Warn("Failed to send session request notification",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
	}

	if s.emailSvc != nil {
		consultant, err := s.userRepo.GetByID(ctx, session.ConsultantID)
		if err != nil {
			logger.Warn("Failed to load consultant for email", zap.Error(err))
			return
		}
		err = s.emailSvc.SendSessionRequestEmail(ctx, consultant.Email, &email.SessionRequestEmailData{
			ConsultantName: consultant.DisplayName,
			ClientName:     client.DisplayName,
			CostPerMinute:  session.CostPerMinute,
		})
		if err != nil {
			logger.Warn("Failed to send session request email",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
	}
}

func (s *Service) notifyDecided(ctx context.Context, session *domain.Session, toStatus string) {
	if s.pushSvc == nil {
		return
	}
	consultant, err := s.userRepo.GetByID(ctx, session.ConsultantID)
	if err != nil {
		logger.Warn("Failed to load consultant for notification", zap.Error(err))
		return
	}

	if toStatus == domain.SessionStatusAccepted {
		err = s.pushSvc.SendSessionAcceptedNotification(ctx, session.ID, consultant.DisplayName, session.ClientID)
	} else {
		err = s.pushSvc.SendSessionRejectedNotification(ctx, session.ID, consultant.DisplayName, session.ClientID)
	}
	if err != nil {
		logger.Warn("Failed to send session decision notification",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}

func (s *Service) notifyEnded(ctx context.Context, session *domain.Session) {
	if s.pushSvc != nil {
		err := s.pushSvc.SendSessionEndedNotification(ctx, session.ID,
			int64(session.BilledDuration().Seconds()), session.TotalCost,
			[]uuid.UUID{session.ClientID, session.ConsultantID})
		if err != nil {
			logger.Warn("Failed to send session ended notification",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
		}
	}

	if s.emailSvc != nil {
		for _, partyID := range []uuid.UUID{session.ClientID, session.ConsultantID} {
			party, err := s.userRepo.GetByID(ctx, partyID)
			if err != nil {
				logger.Warn("Failed to load party for summary email", zap.Error(err))
				continue
			}
			err = s.emailSvc.SendSessionSummaryEmail(ctx, party.Email, &email.SessionSummaryEmailData{
				RecipientName:   party.DisplayName,
				DurationSeconds: int64(session.BilledDuration().Seconds()),
				TotalCost:       session.TotalCost,
			})
			if err != nil {
				logger.Warn("Failed to send session summary email",
					zap.String("session_id", session.ID.String()),
					zap.Error(err))
			}
		}
	}
}

func stateError(from, to string) *apperrors.AppError {
	return apperrors.InvalidStateError(fmt.Sprintf("cannot transition session from %s to %s", from, to))
}

// SessionCost computes the billed cost for an elapsed duration at a
// per-minute rate, rounded to cents and never negative
func SessionCost(elapsed time.Duration, costPerMinute float64) float64 {
	if elapsed <= 0 || costPerMinute <= 0 {
		return 0
	}
	cost := elapsed.Minutes() * costPerMinute
	return math.Round(cost*100) / 100
}

// MaxDurationSeconds returns how many whole seconds of session time a
// credit balance affords at the given rate. A zero rate means no limit,
// reported as a negative budget.
func MaxDurationSeconds(credits, costPerMinute float64) int64 {
	if costPerMinute <= 0 {
		return -1
	}
	if credits <= 0 {
		return 0
	}
	return int64(math.Floor(credits / costPerMinute * 60))
}

func validStatusFilter(status string) bool {
	switch status {
	case domain.SessionStatusPending, domain.SessionStatusAccepted,
		domain.SessionStatusRejected, domain.SessionStatusActive,
		domain.SessionStatusCompleted, domain.SessionStatusCancelled:
		return true
	}
	return false
}
