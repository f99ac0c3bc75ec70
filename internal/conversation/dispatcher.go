package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/clinicware/turnero/internal/observability/metrics"
	"github.com/clinicware/turnero/pkg/logging"
)

// Inbound is one user message as delivered by the channel layer.
type Inbound struct {
	UserID      string
	ChatID      int64
	DisplayName string
	Text        string
}

// Sender delivers one reply over the chat channel.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string, choices []string) error
}

// TranscriptRecorder archives the exchanged messages. May be nil-safe on the
// implementor side; the dispatcher also tolerates a nil recorder.
type TranscriptRecorder interface {
	Record(ctx context.Context, userID string, chatID int64, direction, text string) error
}

// Dispatcher loads the session, runs the machine, persists the session, and
// sends the replies. Messages of the same user are processed strictly one at
// a time; different users proceed in parallel.
type Dispatcher struct {
	store      SessionStore
	machine    *Machine
	sender     Sender
	transcript TranscriptRecorder
	metrics    *metrics.BotMetrics
	logger     *logging.Logger
	timeout    time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDispatcher wires the dispatcher. transcript and botMetrics may be nil.
func NewDispatcher(store SessionStore, machine *Machine, sender Sender, transcript TranscriptRecorder, botMetrics *metrics.BotMetrics, timeout time.Duration, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("conversation: session store required")
	}
	if machine == nil {
		panic("conversation: machine required")
	}
	if sender == nil {
		panic("conversation: sender required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		store:      store,
		machine:    machine,
		sender:     sender,
		transcript: transcript,
		metrics:    botMetrics,
		logger:     logger,
		timeout:    timeout,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Dispatch processes one inbound message end to end. It blocks while an
// earlier message of the same user is still in flight.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) error {
	lock := d.userLock(in.UserID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	d.record(ctx, in.UserID, in.ChatID, "in", in.Text)

	session, err := d.store.Get(ctx, in.UserID)
	if err != nil {
		d.logger.Error("session load failed, starting fresh", "user_id", in.UserID, "error", err)
		d.metrics.ObserveInbound("session_error")
		session = NewSession(in.UserID)
	} else {
		d.metrics.ObserveInbound("ok")
	}
	session.ChatID = in.ChatID
	if in.DisplayName != "" {
		session.DisplayName = in.DisplayName
	}
	stateBefore := session.State

	replies := d.machine.Handle(ctx, session, Input{Text: in.Text})

	if err := d.store.Save(ctx, session); err != nil {
		d.logger.Error("session save failed", "user_id", in.UserID, "error", err)
	}

	var sendErr error
	for _, out := range replies {
		chatID := out.ChatID
		if chatID == 0 {
			chatID = in.ChatID
		}
		if err := d.sender.Send(ctx, chatID, out.Text, out.Choices); err != nil {
			d.logger.Error("reply delivery failed", "user_id", in.UserID, "chat_id", chatID, "error", err)
			d.metrics.ObserveOutbound("error")
			sendErr = err
			continue
		}
		d.metrics.ObserveOutbound("ok")
		d.record(ctx, in.UserID, chatID, "out", out.Text)
	}

	d.metrics.ObserveDispatchLatency(string(stateBefore), time.Since(started).Seconds())
	return sendErr
}

func (d *Dispatcher) record(ctx context.Context, userID string, chatID int64, direction, text string) {
	if d.transcript == nil {
		return
	}
	if err := d.transcript.Record(ctx, userID, chatID, direction, text); err != nil {
		d.logger.Warn("transcript write failed", "user_id", userID, "error", err)
	}
}

func (d *Dispatcher) userLock(userID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[userID] = lock
	}
	return lock
}
