package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/internal/settings"
	"github.com/stayloop/guestops/internal/suggest"
	"github.com/stayloop/guestops/internal/tenancy"
	"github.com/stayloop/guestops/internal/thread"
)

type stubLoader struct {
	eff settings.Effective
}

func (s *stubLoader) Load(_ context.Context, _, _ uuid.UUID) (settings.Effective, error) {
	return s.eff, nil
}

type stubSuggester struct {
	s   suggest.Suggestion
	err error
}

func (s *stubSuggester) Suggest(_ context.Context, _, _, _ uuid.UUID, _, _ string) (suggest.Suggestion, error) {
	return s.s, s.err
}

type stubGate struct {
	inputs []suggest.Input
	tenant uuid.UUID
}

func (g *stubGate) Evaluate(ctx context.Context, in suggest.Input) (suggest.Result, error) {
	g.inputs = append(g.inputs, in)
	if id, ok := tenancy.CompanyIDFromContext(ctx); ok {
		g.tenant = id
	}
	return suggest.Result{Action: suggest.ActionSent}, nil
}

type stubStays struct {
	stay properties.Stay
	prop properties.Property
}

func (s *stubStays) GetStay(_ context.Context, _ uuid.UUID) (properties.Stay, error) {
	return s.stay, nil
}

func (s *stubStays) GetProperty(_ context.Context, _ uuid.UUID) (properties.Property, error) {
	return s.prop, nil
}

type stubThreads struct {
	status thread.Status
}

func (s *stubThreads) Get(_ context.Context, id uuid.UUID) (thread.Thread, error) {
	status := s.status
	if status == "" {
		status = thread.StatusOpen
	}
	return thread.Thread{ID: id, Status: status}, nil
}

func testJob() Job {
	return Job{
		ThreadID:   uuid.New(),
		CompanyID:  uuid.New(),
		PropertyID: uuid.New(),
		StayID:     uuid.New(),
		Channel:    "sms",
		Body:       "when is check-in?",
		GuestAddr:  "+15552223333",
		PropAddr:   "+15550001111",
		ReceivedAt: time.Now(),
	}
}

func enabledEffective() settings.Effective {
	return settings.Effective{
		AutoReplyEnabled:    true,
		ConfidenceThreshold: 0.6,
		Property: properties.Settings{
			AutoReplyEnabled: true, SMSEnabled: true, EmailEnabled: true,
		},
	}
}

func TestProcessRoutesJobToGate(t *testing.T) {
	g := &stubGate{}
	w := NewWorker(NewMemoryQueue(1), &stubLoader{eff: enabledEffective()},
		&stubSuggester{s: suggest.Suggestion{
			Intent: "check_in_time", Confidence: 0.9, AutoReplyOK: true,
			ReplyChannel: "sms", ReplyText: "3 PM",
		}},
		g, &stubStays{prop: properties.Property{Timezone: "UTC"}}, &stubThreads{}, 1, nil)

	job := testJob()
	if err := w.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(g.inputs) != 1 {
		t.Fatalf("gate calls = %d, want 1", len(g.inputs))
	}
	in := g.inputs[0]
	if in.Suggestion == nil || in.Suggestion.Intent != "check_in_time" {
		t.Errorf("suggestion = %+v", in.Suggestion)
	}
	if in.To != job.GuestAddr || in.From != job.PropAddr {
		t.Errorf("addressing = %s <- %s", in.To, in.From)
	}
	if g.tenant != job.CompanyID {
		t.Error("company id should ride the context")
	}
}

func TestProcessUnavailableSuggestionStillReachesGate(t *testing.T) {
	g := &stubGate{}
	w := NewWorker(NewMemoryQueue(1), &stubLoader{eff: enabledEffective()},
		&stubSuggester{err: suggest.ErrUnavailable},
		g, &stubStays{}, &stubThreads{}, 1, nil)

	if err := w.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(g.inputs) != 1 || g.inputs[0].Suggestion != nil {
		t.Error("unavailable suggestion must reach the gate as nil")
	}
}

func TestProcessCrossChannelReplyReaddresses(t *testing.T) {
	g := &stubGate{}
	stays := &stubStays{
		stay: properties.Stay{GuestEmail: "ada@example.com", GuestPhone: "+15552223333"},
		prop: properties.Property{ReplyEmail: "stay@seaside.example", SMSNumber: "+15550001111"},
	}
	w := NewWorker(NewMemoryQueue(1), &stubLoader{eff: enabledEffective()},
		&stubSuggester{s: suggest.Suggestion{
			Confidence: 0.9, AutoReplyOK: true,
			ReplyChannel: "email", ReplyText: "Full details attached.", ReplySubject: "Your stay",
		}},
		g, stays, &stubThreads{}, 1, nil)

	if err := w.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	in := g.inputs[0]
	if in.To != "ada@example.com" || in.From != "stay@seaside.example" {
		t.Errorf("cross-channel addressing = %s <- %s", in.To, in.From)
	}
}

func TestProcessSkipsThreadHeldForStaff(t *testing.T) {
	g := &stubGate{}
	w := NewWorker(NewMemoryQueue(1), &stubLoader{eff: enabledEffective()},
		&stubSuggester{s: suggest.Suggestion{
			Confidence: 0.95, AutoReplyOK: true,
			ReplyChannel: "sms", ReplyText: "3 PM",
		}},
		g, &stubStays{}, &stubThreads{status: thread.StatusNeedsHuman}, 1, nil)

	if err := w.Process(context.Background(), testJob()); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(g.inputs) != 0 {
		t.Errorf("gate calls = %d, a held thread must not reach the gate", len(g.inputs))
	}
}

func TestMemoryQueueRoundTrip(t *testing.T) {
	q := NewMemoryQueue(2)
	job := testJob()
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, ack, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	ack()
	if got.ThreadID != job.ThreadID {
		t.Errorf("thread id = %s", got.ThreadID)
	}
}

func TestMemoryQueueFullRejects(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Enqueue(context.Background(), testJob()); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	if err := q.Enqueue(context.Background(), testJob()); err == nil {
		t.Error("full queue must reject")
	}
}

func TestMemoryQueueDequeueHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := q.Dequeue(ctx); err == nil {
		t.Error("dequeue on empty queue should end with the context")
	}
}
