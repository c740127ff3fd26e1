package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeStore struct {
	inserted  []*Message
	sent      map[uuid.UUID]string
	failed    map[uuid.UUID]string
	billed    map[uuid.UUID]int64
	retries   map[uuid.UUID]time.Time
	insertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sent:    map[uuid.UUID]string{},
		failed:  map[uuid.UUID]string{},
		billed:  map[uuid.UUID]int64{},
		retries: map[uuid.UUID]time.Time{},
	}
}

func (f *fakeStore) InsertOutbound(_ context.Context, msg *Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Seq = int64(len(f.inserted) + 1)
	f.inserted = append(f.inserted, msg)
	return nil
}

func (f *fakeStore) MarkSent(_ context.Context, msgID uuid.UUID, providerMsgID string) error {
	f.sent[msgID] = providerMsgID
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, msgID uuid.UUID, reason string) error {
	f.failed[msgID] = reason
	return nil
}

func (f *fakeStore) SetCreditsDeducted(_ context.Context, msgID uuid.UUID, _ string, credits int64) error {
	f.billed[msgID] = credits
	return nil
}

func (f *fakeStore) ScheduleRetry(_ context.Context, msgID uuid.UUID, _ int, nextAttemptAt time.Time) error {
	f.retries[msgID] = nextAttemptAt
	return nil
}

type fakeBiller struct {
	canDebitErr error
	debitErr    error
	debits      []int64
}

func (f *fakeBiller) CanDebit(_ context.Context, _ uuid.UUID, _ int64) error {
	return f.canDebitErr
}

func (f *fakeBiller) Debit(_ context.Context, _ uuid.UUID, amount int64, _ string, _ uuid.UUID) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.debits = append(f.debits, amount)
	return nil
}

type fakeTransport struct {
	channel    Channel
	providerID string
	err        error
	calls      int
}

func (f *fakeTransport) Channel() Channel { return f.channel }

func (f *fakeTransport) Send(_ context.Context, _ OutboundMessage) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.providerID, nil
}

func testRequest() SendRequest {
	return SendRequest{
		ThreadID:    uuid.New(),
		CompanyID:   uuid.New(),
		Channel:     ChannelSMS,
		Sender:      SenderAI,
		To:          "+15552223333",
		From:        "+15550001111",
		Body:        "Check-in is at 3pm.",
		BillingType: BillingAIReply,
	}
}

func testCosts() Costs {
	return Costs{BillingAIReply: 2, BillingManualReply: 1, BillingReminder: 2}
}

func TestSendBillsAfterTransportAccept(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{}
	transport := &fakeTransport{channel: ChannelSMS, providerID: "tlx-1"}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	msg, err := d.Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Status != StatusSent {
		t.Errorf("status = %s, want sent", msg.Status)
	}
	if msg.CreditsDeducted != 2 {
		t.Errorf("credits_deducted = %d, want 2", msg.CreditsDeducted)
	}
	if got := store.sent[msg.ID]; got != "tlx-1" {
		t.Errorf("provider id = %q", got)
	}
	if len(biller.debits) != 1 || biller.debits[0] != 2 {
		t.Errorf("debits = %v, want one debit of 2", biller.debits)
	}
}

func TestSendInsufficientCreditNeverReachesTransport(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{canDebitErr: errors.New("insufficient credit")}
	transport := &fakeTransport{channel: ChannelSMS, providerID: "tlx-1"}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	msg, err := d.Send(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected billing error")
	}
	if transport.calls != 0 {
		t.Errorf("transport called %d times, want 0", transport.calls)
	}
	if msg.Status != StatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	if len(biller.debits) != 0 {
		t.Errorf("debits = %v, want none", biller.debits)
	}
}

func TestSendTransientFailureSchedulesRetryWithoutBilling(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{}
	transport := &fakeTransport{channel: ChannelSMS, err: Transient(errors.New("503"))}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	msg, err := d.Send(context.Background(), testRequest())
	if !IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	if msg.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", msg.Attempts)
	}
	if _, ok := store.retries[msg.ID]; !ok {
		t.Error("expected a retry to be scheduled")
	}
	if len(biller.debits) != 0 {
		t.Errorf("debits = %v, failed send must not bill", biller.debits)
	}
}

func TestSendPermanentFailureMarksFailed(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{}
	transport := &fakeTransport{channel: ChannelSMS, err: Permanent(errors.New("invalid destination"))}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	msg, err := d.Send(context.Background(), testRequest())
	if !IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
	if msg.Status != StatusFailed {
		t.Errorf("status = %s, want failed", msg.Status)
	}
	if len(biller.debits) != 0 {
		t.Errorf("debits = %v, failed send must not bill", biller.debits)
	}
}

func TestSendDeferredCommitsWithoutTransport(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{}
	transport := &fakeTransport{channel: ChannelSMS, providerID: "tlx-1"}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	after := time.Now().Add(2 * time.Hour)
	req := testRequest()
	req.SendAfter = &after

	msg, err := d.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Status != StatusQueued {
		t.Errorf("status = %s, want queued", msg.Status)
	}
	if transport.calls != 0 {
		t.Errorf("transport called %d times, want 0", transport.calls)
	}
	if len(biller.debits) != 0 {
		t.Errorf("debits = %v, deferred send must not bill yet", biller.debits)
	}
}

func TestRedeliverBillsOnce(t *testing.T) {
	store := newFakeStore()
	biller := &fakeBiller{}
	transport := &fakeTransport{channel: ChannelSMS, providerID: "tlx-2"}
	d := NewDispatcher(store, biller, []Transport{transport}, testCosts(), time.Minute, nil)

	// a deferred AI reply being drained: billing type stamped, not yet billed
	msg := Message{
		ID: uuid.New(), ThreadID: uuid.New(), CompanyID: uuid.New(),
		Channel: ChannelSMS, Sender: SenderAI, Body: "hi",
		Status: StatusQueued, BillingType: BillingAIReply,
	}
	out, err := d.Redeliver(context.Background(), msg, "+15552223333", "+15550001111")
	if err != nil {
		t.Fatalf("Redeliver: %v", err)
	}
	if out.Status != StatusSent {
		t.Errorf("status = %s, want sent", out.Status)
	}
	if len(biller.debits) != 1 {
		t.Fatalf("debits = %v, want one", biller.debits)
	}

	// a retry of an already-billed message must not bill again
	billed := msg
	billed.CreditsDeducted = 2
	if _, err := d.Redeliver(context.Background(), billed, "+15552223333", "+15550001111"); err != nil {
		t.Fatalf("Redeliver billed: %v", err)
	}
	if len(biller.debits) != 1 {
		t.Errorf("debits = %v, retry of billed message must not bill again", biller.debits)
	}
}

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	d := NewDispatcher(newFakeStore(), &fakeBiller{}, nil, testCosts(), time.Minute, nil)
	if got := d.RetryBackoff(1); got != time.Minute {
		t.Errorf("backoff(1) = %s", got)
	}
	if got := d.RetryBackoff(3); got != 4*time.Minute {
		t.Errorf("backoff(3) = %s", got)
	}
	if got := d.RetryBackoff(20); got != time.Hour {
		t.Errorf("backoff(20) = %s, want capped at 1h", got)
	}
}
