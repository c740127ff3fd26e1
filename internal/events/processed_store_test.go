package events

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestMarkProcessedFirstDelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewProcessedStore(mock)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("telnyx", "evt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	fresh, err := s.MarkProcessed(context.Background(), "telnyx", "evt-1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !fresh {
		t.Error("first delivery should claim the event")
	}
}

func TestMarkProcessedDuplicate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewProcessedStore(mock)

	mock.ExpectExec("INSERT INTO processed_events").
		WithArgs("telnyx", "evt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	fresh, err := s.MarkProcessed(context.Background(), "telnyx", "evt-1")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if fresh {
		t.Error("redelivery must not claim the event again")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewProcessedStore(mock)

	mock.ExpectExec("DELETE FROM processed_events").
		WithArgs((7 * 24 * time.Hour).String()).
		WillReturnResult(pgxmock.NewResult("DELETE", 42))

	n, err := s.PurgeOlderThan(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PurgeOlderThan: %v", err)
	}
	if n != 42 {
		t.Errorf("purged = %d, want 42", n)
	}
}
