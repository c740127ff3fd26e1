package reminder

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
)

func TestClaimFirstTick(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewStore(mock)
	stayID := uuid.New()

	mock.ExpectExec("INSERT INTO reminder_sends").
		WithArgs(stayID, string(RuleTMinus3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	claimed, err := s.Claim(context.Background(), stayID, RuleTMinus3)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !claimed {
		t.Error("first tick should win the claim")
	}
}

func TestClaimAlreadySent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewStore(mock)
	stayID := uuid.New()

	mock.ExpectExec("INSERT INTO reminder_sends").
		WithArgs(stayID, string(RuleTMinus3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	claimed, err := s.Claim(context.Background(), stayID, RuleTMinus3)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed {
		t.Error("a second tick must not claim the same (stay, rule) again")
	}
}

func TestReleaseOnlyUnsent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewStore(mock)
	stayID := uuid.New()

	mock.ExpectExec("DELETE FROM reminder_sends").
		WithArgs(stayID, string(RuleDayOf)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	if err := s.Release(context.Background(), stayID, RuleDayOf); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestAttachMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()
	s := NewStore(mock)
	stayID := uuid.New()
	msgID := uuid.New()

	mock.ExpectExec("UPDATE reminder_sends SET message_id").
		WithArgs(stayID, string(RuleTMinus1), msgID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := s.AttachMessage(context.Background(), stayID, RuleTMinus1, msgID); err != nil {
		t.Fatalf("AttachMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
