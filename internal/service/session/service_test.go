package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"consultlink-backend/internal/domain"
	"consultlink-backend/pkg/constants"
	apperrors "consultlink-backend/pkg/errors"
)

// MockSessionRepository is a mock implementation of SessionRepository
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) UpdateStatus(ctx context.Context, sessionID uuid.UUID, fromStatus, toStatus string) error {
	args := m.Called(ctx, sessionID, fromStatus, toStatus)
	return args.Error(0)
}

func (m *MockSessionRepository) StartVideo(ctx context.Context, sessionID uuid.UUID, startedAt time.Time) error {
	args := m.Called(ctx, sessionID, startedAt)
	return args.Error(0)
}

func (m *MockSessionRepository) CompleteWithSettlement(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, totalCost float64) (*domain.Session, error) {
	args := m.Called(ctx, sessionID, endedAt, totalCost)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListByUser(ctx context.Context, userID uuid.UUID, status string, limit, offset int) ([]*domain.Session, error) {
	args := m.Called(ctx, userID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Session), args.Error(1)
}

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepository) UpdateAvailability(ctx context.Context, userID uuid.UUID, availability string) error {
	args := m.Called(ctx, userID, availability)
	return args.Error(0)
}

func newTestService() (*Service, *MockSessionRepository, *MockUserRepository) {
	sessionRepo := new(MockSessionRepository)
	userRepo := new(MockUserRepository)
	return NewService(sessionRepo, userRepo, nil, nil, nil), sessionRepo, userRepo
}

// TestCreate tests requesting a new session
func TestCreate(t *testing.T) {
	service, sessionRepo, userRepo := newTestService()

	clientID := uuid.New()
	consultantID := uuid.New()

	consultant := &domain.User{
		ID:            consultantID,
		Role:          domain.RoleConsultant,
		CostPerMinute: 2.5,
	}

	userRepo.On("GetByID", mock.Anything, consultantID).Return(consultant, nil)
	sessionRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Session")).Return(nil)

	session, err := service.Create(context.Background(), clientID, &domain.SessionCreate{
		ConsultantID: consultantID,
		Topic:        "Contract review",
	})

	assert.NoError(t, err)
	assert.NotNil(t, session)
	assert.Equal(t, domain.SessionStatusPending, session.Status)
	assert.Equal(t, "Contract review", session.Topic)
	assert.Equal(t, clientID, session.ClientID)
	assert.Equal(t, consultantID, session.ConsultantID)
	assert.Equal(t, 2.5, session.CostPerMinute, "rate must be snapshotted at creation")
	sessionRepo.AssertExpectations(t)
}

// TestCreate_TargetNotConsultant tests requesting a session with a non-consultant
func TestCreate_TargetNotConsultant(t *testing.T) {
	service, _, userRepo := newTestService()

	clientID := uuid.New()
	otherClientID := uuid.New()

	userRepo.On("GetByID", mock.Anything, otherClientID).Return(&domain.User{
		ID:   otherClientID,
		Role: domain.RoleClient,
	}, nil)

	session, err := service.Create(context.Background(), clientID, &domain.SessionCreate{
		ConsultantID: otherClientID,
		Topic:        "Contract review",
	})

	assert.Error(t, err)
	assert.Nil(t, session)
	assert.Equal(t, apperrors.ErrCodeWrongRole, apperrors.GetAppError(err).Code)
}

// TestCreate_TopicRequired tests that a session request needs a topic
func TestCreate_TopicRequired(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	session, err := service.Create(context.Background(), uuid.New(), &domain.SessionCreate{
		ConsultantID: uuid.New(),
		Topic:        "   ",
	})

	assert.Error(t, err)
	assert.Nil(t, session)
	sessionRepo.AssertNotCalled(t, "Create")
}

// TestCreate_TopicTooLong tests the topic length bound
func TestCreate_TopicTooLong(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	session, err := service.Create(context.Background(), uuid.New(), &domain.SessionCreate{
		ConsultantID: uuid.New(),
		Topic:        strings.Repeat("x", constants.MaxTopicLength+1),
	})

	assert.Error(t, err)
	assert.Nil(t, session)
	sessionRepo.AssertNotCalled(t, "Create")
}

// TestCreate_SelfRequest tests that a user cannot request a session with themselves
func TestCreate_SelfRequest(t *testing.T) {
	service, _, _ := newTestService()

	userID := uuid.New()
	session, err := service.Create(context.Background(), userID, &domain.SessionCreate{
		ConsultantID: userID,
		Topic:        "Contract review",
	})

	assert.Error(t, err)
	assert.Nil(t, session)
}

// TestAccept tests the consultant accepting a pending session
func TestAccept(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	consultantID := uuid.New()

	pending := &domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: consultantID,
		Status:       domain.SessionStatusPending,
	}

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(pending, nil)
	sessionRepo.On("UpdateStatus", mock.Anything, sessionID,
		domain.SessionStatusPending, domain.SessionStatusAccepted).Return(nil)

	session, err := service.Accept(context.Background(), consultantID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusAccepted, session.Status)
	sessionRepo.AssertExpectations(t)
}

// TestAccept_WrongUser tests that only the session's consultant can accept
func TestAccept_WrongUser(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusPending,
	}, nil)

	_, err := service.Accept(context.Background(), uuid.New(), sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeWrongRole, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "UpdateStatus")
}

// TestReject tests the consultant rejecting a pending session
func TestReject(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	consultantID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: consultantID,
		Status:       domain.SessionStatusPending,
	}, nil)
	sessionRepo.On("UpdateStatus", mock.Anything, sessionID,
		domain.SessionStatusPending, domain.SessionStatusRejected).Return(nil)

	session, err := service.Reject(context.Background(), consultantID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRejected, session.Status)
	sessionRepo.AssertExpectations(t)
}

// TestAccept_AlreadyDecided tests accepting a session that is no longer pending
func TestAccept_AlreadyDecided(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	consultantID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: consultantID,
		Status:       domain.SessionStatusRejected,
	}, nil)

	_, err := service.Accept(context.Background(), consultantID, sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "UpdateStatus")
}

// TestCancel tests the client cancelling an accepted session
func TestCancel(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     clientID,
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusAccepted,
	}, nil)
	sessionRepo.On("UpdateStatus", mock.Anything, sessionID,
		domain.SessionStatusAccepted, domain.SessionStatusCancelled).Return(nil)

	session, err := service.Cancel(context.Background(), clientID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, session.Status)
	sessionRepo.AssertExpectations(t)
}

// TestCancel_ByConsultant tests that the consultant can also cancel before
// the call starts
func TestCancel_ByConsultant(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	consultantID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: consultantID,
		Status:       domain.SessionStatusPending,
	}, nil)
	sessionRepo.On("UpdateStatus", mock.Anything, sessionID,
		domain.SessionStatusPending, domain.SessionStatusCancelled).Return(nil)

	session, err := service.Cancel(context.Background(), consultantID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCancelled, session.Status)
	sessionRepo.AssertExpectations(t)
}

// TestCancel_NotParty tests that outsiders cannot cancel a session
func TestCancel_NotParty(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusPending,
	}, nil)

	_, err := service.Cancel(context.Background(), uuid.New(), sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotParty, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "UpdateStatus")
}

// TestCancel_ActiveSession tests that active sessions cannot be cancelled
func TestCancel_ActiveSession(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     clientID,
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusActive,
	}, nil)

	_, err := service.Cancel(context.Background(), clientID, sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "UpdateStatus")
}

// TestStartVideo tests transitioning an accepted session to active
func TestStartVideo(t *testing.T) {
	service, sessionRepo, userRepo := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()
	consultantID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:            sessionID,
		ClientID:      clientID,
		ConsultantID:  consultantID,
		Status:        domain.SessionStatusAccepted,
		CostPerMinute: 2.0,
	}, nil)
	userRepo.On("GetByID", mock.Anything, clientID).Return(&domain.User{
		ID:      clientID,
		Role:    domain.RoleClient,
		Credits: 10.0,
	}, nil)
	sessionRepo.On("StartVideo", mock.Anything, sessionID, mock.AnythingOfType("time.Time")).Return(nil)
	userRepo.On("UpdateAvailability", mock.Anything, consultantID, domain.AvailabilityBusy).Return(nil)

	output, err := service.StartVideo(context.Background(), clientID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusActive, output.Session.Status)
	assert.NotNil(t, output.Session.ActualStart)
	// 10 credits at $2/min afford 5 minutes
	assert.Equal(t, int64(300), output.MaxDurationSeconds)
	sessionRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

// TestStartVideo_AlreadyActive tests that repeating start_video is a no-op
func TestStartVideo_AlreadyActive(t *testing.T) {
	service, sessionRepo, userRepo := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()
	consultantID := uuid.New()
	startedAt := time.Now().Add(-30 * time.Second)

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:            sessionID,
		ClientID:      clientID,
		ConsultantID:  consultantID,
		Status:        domain.SessionStatusActive,
		CostPerMinute: 2.0,
		ActualStart:   &startedAt,
	}, nil)
	userRepo.On("GetByID", mock.Anything, clientID).Return(&domain.User{
		ID:      clientID,
		Credits: 10.0,
	}, nil)
	sessionRepo.On("StartVideo", mock.Anything, sessionID, mock.AnythingOfType("time.Time")).Return(nil)

	output, err := service.StartVideo(context.Background(), clientID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusActive, output.Session.Status)
	assert.Equal(t, startedAt, *output.Session.ActualStart, "billing start must not move on retry")
	userRepo.AssertNotCalled(t, "UpdateAvailability")
}

// TestStartVideo_InsufficientCredits tests the balance guard at start
func TestStartVideo_InsufficientCredits(t *testing.T) {
	service, sessionRepo, userRepo := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:            sessionID,
		ClientID:      clientID,
		ConsultantID:  uuid.New(),
		Status:        domain.SessionStatusAccepted,
		CostPerMinute: 2.0,
	}, nil)
	userRepo.On("GetByID", mock.Anything, clientID).Return(&domain.User{
		ID:      clientID,
		Credits: 1.0, // below one minute at $2/min
	}, nil)

	_, err := service.StartVideo(context.Background(), clientID, sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInsufficientCredits, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "StartVideo")
}

// TestStartVideo_NotParty tests that outsiders cannot start a session
func TestStartVideo_NotParty(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusAccepted,
	}, nil)

	_, err := service.StartVideo(context.Background(), uuid.New(), sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotParty, apperrors.GetAppError(err).Code)
}

// TestComplete tests finalizing an active session: two minutes at $1.50/min
// bills $3.00 and releases the consultant
func TestComplete(t *testing.T) {
	service, sessionRepo, userRepo := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()
	consultantID := uuid.New()
	startedAt := time.Now().Add(-2 * time.Minute)

	active := &domain.Session{
		ID:            sessionID,
		ClientID:      clientID,
		ConsultantID:  consultantID,
		Status:        domain.SessionStatusActive,
		CostPerMinute: 1.5,
		ActualStart:   &startedAt,
	}

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(active, nil)
	sessionRepo.On("CompleteWithSettlement", mock.Anything, sessionID,
		mock.AnythingOfType("time.Time"),
		mock.MatchedBy(func(cost float64) bool { return cost == 3.0 }),
	).Return(func() *domain.Session {
		endedAt := startedAt.Add(2 * time.Minute)
		done := *active
		done.Status = domain.SessionStatusCompleted
		done.ActualEnd = &endedAt
		done.TotalCost = 3.0
		done.IsPaid = true
		return &done
	}(), nil)
	userRepo.On("UpdateAvailability", mock.Anything, consultantID, domain.AvailabilityOnline).Return(nil)

	completed, err := service.Complete(context.Background(), consultantID, sessionID)

	assert.NoError(t, err)
	assert.Equal(t, domain.SessionStatusCompleted, completed.Status)
	assert.Equal(t, 3.0, completed.TotalCost)
	assert.True(t, completed.IsPaid)
	sessionRepo.AssertExpectations(t)
	userRepo.AssertExpectations(t)
}

// TestComplete_NotActive tests completing a session that never went active
func TestComplete_NotActive(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()
	clientID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     clientID,
		ConsultantID: uuid.New(),
		Status:       domain.SessionStatusAccepted,
	}, nil)

	_, err := service.Complete(context.Background(), clientID, sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidState, apperrors.GetAppError(err).Code)
	sessionRepo.AssertNotCalled(t, "CompleteWithSettlement")
}

// TestGet_NotParty tests session reads are restricted to the two parties
func TestGet_NotParty(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	sessionID := uuid.New()

	sessionRepo.On("GetByID", mock.Anything, sessionID).Return(&domain.Session{
		ID:           sessionID,
		ClientID:     uuid.New(),
		ConsultantID: uuid.New(),
	}, nil)

	_, err := service.Get(context.Background(), uuid.New(), sessionID)

	assert.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotParty, apperrors.GetAppError(err).Code)
}

// TestList tests status-filtered listing with default pagination
func TestList(t *testing.T) {
	service, sessionRepo, _ := newTestService()

	userID := uuid.New()
	sessions := []*domain.Session{
		{ID: uuid.New(), ClientID: userID, Status: domain.SessionStatusCompleted},
	}

	sessionRepo.On("ListByUser", mock.Anything, userID, domain.SessionStatusCompleted, 20, 0).Return(sessions, nil)

	result, err := service.List(context.Background(), userID, domain.SessionStatusCompleted, 0, 0)

	assert.NoError(t, err)
	assert.Len(t, result, 1)
	sessionRepo.AssertExpectations(t)
}

// TestList_UnknownStatus tests status filter validation
func TestList_UnknownStatus(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.List(context.Background(), uuid.New(), "archived", 0, 0)

	assert.Error(t, err)
}

// TestSessionCost tests the billing formula
func TestSessionCost(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		rate     float64
		expected float64
	}{
		{"two minutes at 1.50", 2 * time.Minute, 1.5, 3.0},
		{"ninety seconds at 2.00", 90 * time.Second, 2.0, 3.0},
		{"sub-minute fraction", 30 * time.Second, 1.0, 0.5},
		{"zero elapsed", 0, 2.0, 0},
		{"negative elapsed clamps to zero", -time.Minute, 2.0, 0},
		{"free session", 10 * time.Minute, 0, 0},
		{"rounds to cents", 100 * time.Second, 1.0, 1.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SessionCost(tt.elapsed, tt.rate))
		})
	}
}

// TestMaxDurationSeconds tests the budget derivation
func TestMaxDurationSeconds(t *testing.T) {
	tests := []struct {
		name     string
		credits  float64
		rate     float64
		expected int64
	}{
		{"ten credits at 2 per minute", 10, 2.0, 300},
		{"fractional budget floors", 1, 1.75, 34},
		{"zero balance", 0, 2.0, 0},
		{"free session is unlimited", 50, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaxDurationSeconds(tt.credits, tt.rate))
		})
	}
}
