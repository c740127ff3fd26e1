package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/messaging"
	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/thread"
)

type stubQueueStore struct {
	threads  map[uuid.UUID]thread.Thread
	deferred []messaging.Message
	retries  []messaging.Message
	failed   map[uuid.UUID]string
}

func (s *stubQueueStore) Get(_ context.Context, id uuid.UUID) (thread.Thread, error) {
	th, ok := s.threads[id]
	if !ok {
		return thread.Thread{}, thread.ErrNotFound
	}
	return th, nil
}

func (s *stubQueueStore) ListDeferredDue(_ context.Context, _ time.Time, _ int) ([]messaging.Message, error) {
	return s.deferred, nil
}

func (s *stubQueueStore) ListRetryCandidates(_ context.Context, _ time.Time, _ int) ([]messaging.Message, error) {
	return s.retries, nil
}

func (s *stubQueueStore) MarkFailed(_ context.Context, msgID uuid.UUID, reason string) error {
	if s.failed == nil {
		s.failed = map[uuid.UUID]string{}
	}
	s.failed[msgID] = reason
	return nil
}

type stubStayStore struct {
	stay properties.Stay
	prop properties.Property
}

func (s *stubStayStore) GetStay(_ context.Context, _ uuid.UUID) (properties.Stay, error) {
	return s.stay, nil
}

func (s *stubStayStore) GetProperty(_ context.Context, _ uuid.UUID) (properties.Property, error) {
	return s.prop, nil
}

// dispatcherStore adapts the stub to the dispatcher's MessageStore.
type dispatcherStore struct {
	sent    map[uuid.UUID]string
	retried map[uuid.UUID]int
}

func (d *dispatcherStore) InsertOutbound(_ context.Context, msg *messaging.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return nil
}

func (d *dispatcherStore) MarkSent(_ context.Context, msgID uuid.UUID, providerMsgID string) error {
	if d.sent == nil {
		d.sent = map[uuid.UUID]string{}
	}
	d.sent[msgID] = providerMsgID
	return nil
}

func (d *dispatcherStore) MarkFailed(_ context.Context, _ uuid.UUID, _ string) error { return nil }

func (d *dispatcherStore) SetCreditsDeducted(_ context.Context, _ uuid.UUID, _ string, _ int64) error {
	return nil
}

func (d *dispatcherStore) ScheduleRetry(_ context.Context, msgID uuid.UUID, attempts int, _ time.Time) error {
	if d.retried == nil {
		d.retried = map[uuid.UUID]int{}
	}
	d.retried[msgID] = attempts
	return nil
}

type okBiller struct{}

func (okBiller) CanDebit(_ context.Context, _ uuid.UUID, _ int64) error { return nil }
func (okBiller) Debit(_ context.Context, _ uuid.UUID, _ int64, _ string, _ uuid.UUID) error {
	return nil
}

type stubTransport struct {
	err   error
	calls int
}

func (s *stubTransport) Channel() messaging.Channel { return messaging.ChannelSMS }

func (s *stubTransport) Send(_ context.Context, _ messaging.OutboundMessage) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "tlx-drained", nil
}

func newWorker(t *testing.T, qs *stubQueueStore, transport *stubTransport) (*Worker, *dispatcherStore) {
	t.Helper()
	ds := &dispatcherStore{}
	d := messaging.NewDispatcher(ds, okBiller{}, []messaging.Transport{transport},
		messaging.Costs{messaging.BillingAIReply: 2}, time.Minute, nil)
	stays := &stubStayStore{
		stay: properties.Stay{GuestPhone: "+15552223333", GuestEmail: "g@example.com"},
		prop: properties.Property{SMSNumber: "+15550001111", ReplyEmail: "stay@example.com"},
	}
	return New(qs, stays, d, time.Minute, 3, nil), ds
}

func TestTickDrainsDeferredMessage(t *testing.T) {
	threadID := uuid.New()
	msg := messaging.Message{
		ID: uuid.New(), ThreadID: threadID, CompanyID: uuid.New(),
		Channel: messaging.ChannelSMS, Sender: messaging.SenderAI,
		Status: messaging.StatusQueued, BillingType: messaging.BillingAIReply,
	}
	qs := &stubQueueStore{
		threads:  map[uuid.UUID]thread.Thread{threadID: {ID: threadID, StayID: uuid.New()}},
		deferred: []messaging.Message{msg},
	}
	transport := &stubTransport{}
	w, ds := newWorker(t, qs, transport)

	w.Tick(context.Background(), time.Now())

	if transport.calls != 1 {
		t.Fatalf("transport calls = %d, want 1", transport.calls)
	}
	if ds.sent[msg.ID] != "tlx-drained" {
		t.Errorf("message not marked sent")
	}
}

func TestTickExhaustsRetries(t *testing.T) {
	threadID := uuid.New()
	msg := messaging.Message{
		ID: uuid.New(), ThreadID: threadID,
		Channel: messaging.ChannelSMS, Status: messaging.StatusQueued,
		Attempts: 3,
	}
	qs := &stubQueueStore{
		threads: map[uuid.UUID]thread.Thread{threadID: {ID: threadID, StayID: uuid.New()}},
		retries: []messaging.Message{msg},
	}
	transport := &stubTransport{}
	w, _ := newWorker(t, qs, transport)

	w.Tick(context.Background(), time.Now())

	if transport.calls != 0 {
		t.Errorf("exhausted message must not reach the transport")
	}
	if _, ok := qs.failed[msg.ID]; !ok {
		t.Error("exhausted message should be marked failed")
	}
}

func TestTickTransientFailureLeavesRetryScheduled(t *testing.T) {
	threadID := uuid.New()
	msg := messaging.Message{
		ID: uuid.New(), ThreadID: threadID,
		Channel: messaging.ChannelSMS, Status: messaging.StatusQueued,
		Attempts: 1,
	}
	qs := &stubQueueStore{
		threads: map[uuid.UUID]thread.Thread{threadID: {ID: threadID, StayID: uuid.New()}},
		retries: []messaging.Message{msg},
	}
	transport := &stubTransport{err: messaging.Transient(errors.New("503"))}
	w, ds := newWorker(t, qs, transport)

	w.Tick(context.Background(), time.Now())

	if got := ds.retried[msg.ID]; got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if _, failed := qs.failed[msg.ID]; failed {
		t.Error("transient failure must not mark the message failed")
	}
}
