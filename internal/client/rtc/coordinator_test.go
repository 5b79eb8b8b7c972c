package rtc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consultlink-backend/internal/domain"
)

type fakePeerConnection struct {
	remote     *SessionDescription
	candidates []*ICECandidate
	tracks     []string
	// tracksBeforeAnswer snapshots how many tracks were attached when
	// CreateAnswer ran
	tracksBeforeAnswer int
	closed             bool
}

func (f *fakePeerConnection) CreateOffer() (*SessionDescription, error) {
	return &SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (f *fakePeerConnection) CreateAnswer() (*SessionDescription, error) {
	f.tracksBeforeAnswer = len(f.tracks)
	return &SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc *SessionDescription) error {
	f.remote = desc
	return nil
}

func (f *fakePeerConnection) AddICECandidate(candidate *ICECandidate) error {
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePeerConnection) AddTrack(track Track) error {
	f.tracks = append(f.tracks, track.ID())
	return nil
}

func (f *fakePeerConnection) Close() error {
	f.closed = true
	return nil
}

type fakeTrack struct {
	id      string
	stopped bool
}

func (t *fakeTrack) ID() string  { return t.id }
func (t *fakeTrack) Stop() error { t.stopped = true; return nil }

type fakeSender struct {
	frames []*domain.Frame
}

func (s *fakeSender) Send(frame *domain.Frame) error {
	s.frames = append(s.frames, frame)
	return nil
}

func newTestCoordinator() (*Coordinator, *fakeSender, *[]*fakePeerConnection) {
	sender := &fakeSender{}
	built := []*fakePeerConnection{}
	coordinator := NewCoordinator(func() (PeerConnection, error) {
		pc := &fakePeerConnection{}
		built = append(built, pc)
		return pc, nil
	}, sender)
	return coordinator, sender, &built
}

func offerFrame(t *testing.T) *domain.Frame {
	t.Helper()
	return &domain.Frame{
		Type: domain.FrameTypeOffer,
		SDP:  &SessionDescription{Type: "offer", SDP: "v=0 remote"},
	}
}

func answerFrame(t *testing.T) *domain.Frame {
	t.Helper()
	return &domain.Frame{
		Type: domain.FrameTypeAnswer,
		SDP:  &SessionDescription{Type: "answer", SDP: "v=0 remote"},
	}
}

func candidateFrame(t *testing.T, value string) *domain.Frame {
	t.Helper()
	return &domain.Frame{
		Type:      domain.FrameTypeICECandidate,
		Candidate: &ICECandidate{Candidate: value},
	}
}

func TestStartCallSendsOffer(t *testing.T) {
	coordinator, sender, _ := newTestCoordinator()

	require.NoError(t, coordinator.StartCall())
	require.Len(t, sender.frames, 1)
	assert.Equal(t, domain.FrameTypeOffer, sender.frames[0].Type)
	require.NotNil(t, sender.frames[0].SDP)
	assert.Equal(t, "offer", sender.frames[0].SDP.Type)
}

func TestHandleOfferWithoutSDP(t *testing.T) {
	coordinator, _, built := newTestCoordinator()

	err := coordinator.HandleOffer(&domain.Frame{Type: domain.FrameTypeOffer})
	assert.Error(t, err)
	assert.Empty(t, *built)
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	coordinator, _, built := newTestCoordinator()

	require.NoError(t, coordinator.StartCall())

	// candidates racing ahead of the answer are held back
	require.NoError(t, coordinator.HandleRemoteCandidate(candidateFrame(t, "a")))
	require.NoError(t, coordinator.HandleRemoteCandidate(candidateFrame(t, "b")))
	pc := (*built)[0]
	assert.Empty(t, pc.candidates)

	require.NoError(t, coordinator.HandleAnswer(answerFrame(t)))
	require.Len(t, pc.candidates, 2)
	assert.Equal(t, "a", pc.candidates[0].Candidate)
	assert.Equal(t, "b", pc.candidates[1].Candidate)

	// late candidates apply directly, the queue never replays
	require.NoError(t, coordinator.HandleRemoteCandidate(candidateFrame(t, "c")))
	assert.Len(t, pc.candidates, 3)
}

func TestTracksAttachedBeforeAnswer(t *testing.T) {
	coordinator, sender, built := newTestCoordinator()

	require.NoError(t, coordinator.AddLocalTrack(&fakeTrack{id: "cam"}))
	require.NoError(t, coordinator.AddLocalTrack(&fakeTrack{id: "mic"}))
	require.NoError(t, coordinator.HandleOffer(offerFrame(t)))

	pc := (*built)[0]
	assert.Equal(t, 2, pc.tracksBeforeAnswer)
	require.Len(t, sender.frames, 1)
	assert.Equal(t, domain.FrameTypeAnswer, sender.frames[0].Type)
}

func TestDuplicateTrackRejected(t *testing.T) {
	coordinator, _, _ := newTestCoordinator()

	require.NoError(t, coordinator.AddLocalTrack(&fakeTrack{id: "cam"}))
	assert.Error(t, coordinator.AddLocalTrack(&fakeTrack{id: "cam"}))
}

func TestReOfferRebuildsConnection(t *testing.T) {
	coordinator, _, built := newTestCoordinator()

	require.NoError(t, coordinator.AddLocalTrack(&fakeTrack{id: "cam"}))
	require.NoError(t, coordinator.HandleOffer(offerFrame(t)))
	require.NoError(t, coordinator.HandleRemoteCandidate(candidateFrame(t, "a")))

	require.NoError(t, coordinator.HandleOffer(offerFrame(t)))

	require.Len(t, *built, 2)
	assert.True(t, (*built)[0].closed)

	second := (*built)[1]
	assert.Equal(t, []string{"cam"}, second.tracks)
	// the stale queue must not leak into the new negotiation
	assert.Empty(t, second.candidates)
}

func TestICEFailureRenegotiates(t *testing.T) {
	coordinator, sender, built := newTestCoordinator()

	require.NoError(t, coordinator.StartCall())
	require.NoError(t, coordinator.HandleICEFailure())

	require.Len(t, *built, 2)
	assert.True(t, (*built)[0].closed)
	require.Len(t, sender.frames, 2)
	assert.Equal(t, domain.FrameTypeOffer, sender.frames[1].Type)
}

func TestCloseStopsTracksAndIsIdempotent(t *testing.T) {
	coordinator, _, built := newTestCoordinator()

	track := &fakeTrack{id: "cam"}
	require.NoError(t, coordinator.AddLocalTrack(track))
	require.NoError(t, coordinator.StartCall())

	require.NoError(t, coordinator.Close())
	assert.True(t, track.stopped)
	assert.True(t, (*built)[0].closed)

	require.NoError(t, coordinator.Close())
	assert.Error(t, coordinator.StartCall())
}
