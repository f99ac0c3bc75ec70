package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	getErr   error
	saves    int
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*Session)}
}

func (s *memStore) Get(ctx context.Context, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	if sess, ok := s.sessions[userID]; ok {
		cp := *sess
		return &cp, nil
	}
	return NewSession(userID), nil
}

func (s *memStore) Save(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.UserID] = &cp
	s.saves++
	return nil
}

func (s *memStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

type sentMsg struct {
	chatID  int64
	text    string
	choices []string
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	err   error
	delay time.Duration
}

func (r *recordingSender) Send(ctx context.Context, chatID int64, text string, choices []string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentMsg{chatID: chatID, text: text, choices: choices})
	return nil
}

type recordingTranscript struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingTranscript) Record(ctx context.Context, userID string, chatID int64, direction, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, direction+":"+text)
	return nil
}

func newTestDispatcher(t *testing.T, store SessionStore, sender Sender, transcript TranscriptRecorder) *Dispatcher {
	t.Helper()
	machine, _ := machineFixture(t, &fakeResSvc{}, &fakeSlots{})
	return NewDispatcher(store, machine, sender, transcript, nil, time.Second, nil)
}

func TestDispatchAdvancesAndPersistsSession(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	d := newTestDispatcher(t, store, sender, nil)

	err := d.Dispatch(context.Background(), Inbound{
		UserID: "1001", ChatID: 2002, DisplayName: "Ana", Text: btnRequest,
	})
	require.NoError(t, err)

	saved, ok := store.sessions["1001"]
	require.True(t, ok)
	assert.Equal(t, StateAwaitingProvider, saved.State)
	assert.Equal(t, int64(2002), saved.ChatID)
	assert.Equal(t, "Ana", saved.DisplayName)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(2002), sender.sent[0].chatID)
	assert.Contains(t, sender.sent[0].choices, "Dr. Pérez")
}

func TestDispatchSerializesPerUser(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{delay: 20 * time.Millisecond}
	d := newTestDispatcher(t, store, sender, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = d.Dispatch(context.Background(), Inbound{UserID: "1001", ChatID: 1, Text: btnRequest})
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		_ = d.Dispatch(context.Background(), Inbound{UserID: "1001", ChatID: 1, Text: "Dr. Pérez"})
	}()
	wg.Wait()

	// Had the second message run concurrently it would have seen the idle
	// state and produced the "unknown option" reply.
	assert.Equal(t, StateAwaitingDay, store.sessions["1001"].State)
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1].choices, "Jueves")
}

func TestDispatchSessionLoadFailureStartsFresh(t *testing.T) {
	store := newMemStore()
	store.getErr = errors.New("redis down")
	sender := &recordingSender{}
	d := newTestDispatcher(t, store, sender, nil)

	err := d.Dispatch(context.Background(), Inbound{UserID: "7", ChatID: 8, Text: btnDoctors})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "Dr. Pérez")
}

func TestDispatchRecordsTranscript(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{}
	transcript := &recordingTranscript{}
	d := newTestDispatcher(t, store, sender, transcript)

	require.NoError(t, d.Dispatch(context.Background(), Inbound{
		UserID: "1001", ChatID: 2002, Text: btnDoctors,
	}))

	require.Len(t, transcript.entries, 2)
	assert.Equal(t, "in:"+btnDoctors, transcript.entries[0])
	assert.Contains(t, transcript.entries[1], "out:")
}

func TestDispatchReturnsSendError(t *testing.T) {
	store := newMemStore()
	sender := &recordingSender{err: errors.New("telegram 502")}
	d := newTestDispatcher(t, store, sender, nil)

	err := d.Dispatch(context.Background(), Inbound{UserID: "1001", ChatID: 2002, Text: btnDoctors})
	assert.Error(t, err)
	// The session still advanced and was saved despite the delivery failure.
	assert.NotNil(t, store.sessions["1001"])
}
