package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stayloop/guestops/internal/properties"
)

type stubRow struct {
	autoReply bool
	err       error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.autoReply
	return nil
}

type stubCompanyDB struct {
	autoReply bool
	queries   int
}

func (s *stubCompanyDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	s.queries++
	return stubRow{autoReply: s.autoReply}
}

type stubProps struct {
	settings properties.Settings
	calls    int
}

func (s *stubProps) GetSettings(_ context.Context, _ uuid.UUID) (properties.Settings, error) {
	s.calls++
	return s.settings, nil
}

func testDefaults() Defaults {
	return Defaults{
		ConfidenceThreshold: 0.6,
		EscalationIntents:   []string{"refund_request"},
		QuietHoursStart:     "21:00",
		QuietHoursEnd:       "08:00",
	}
}

func newTestLoader(t *testing.T, companyAutoReply, propAutoReply bool) (*Loader, *stubCompanyDB, *stubProps) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := &stubCompanyDB{autoReply: companyAutoReply}
	props := &stubProps{settings: properties.Settings{
		AutoReplyEnabled: propAutoReply,
		SMSEnabled:       true,
		EmailEnabled:     true,
		ReminderT3Time:   "09:00",
	}}
	return NewLoader(db, props, client, time.Minute, testDefaults(), nil), db, props
}

func TestLoadMergesCompanyAndProperty(t *testing.T) {
	l, _, _ := newTestLoader(t, true, true)

	e, err := l.Load(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !e.AutoReplyEnabled {
		t.Error("both switches on should enable auto-reply")
	}
	if e.ConfidenceThreshold != 0.6 {
		t.Errorf("threshold = %v", e.ConfidenceThreshold)
	}
}

func TestLoadStricterSwitchWins(t *testing.T) {
	l, _, _ := newTestLoader(t, true, false)
	e, err := l.Load(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if e.AutoReplyEnabled {
		t.Error("property opt-out must win")
	}
}

func TestLoadUsesCacheOnSecondCall(t *testing.T) {
	l, db, props := newTestLoader(t, true, true)
	companyID, propertyID := uuid.New(), uuid.New()

	if _, err := l.Load(context.Background(), companyID, propertyID); err != nil {
		t.Fatalf("Load 1: %v", err)
	}
	if _, err := l.Load(context.Background(), companyID, propertyID); err != nil {
		t.Fatalf("Load 2: %v", err)
	}
	if db.queries != 1 || props.calls != 1 {
		t.Errorf("db queries = %d, prop calls = %d; second load should hit cache", db.queries, props.calls)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	l, db, _ := newTestLoader(t, true, true)
	companyID, propertyID := uuid.New(), uuid.New()

	if _, err := l.Load(context.Background(), companyID, propertyID); err != nil {
		t.Fatalf("Load 1: %v", err)
	}
	l.Invalidate(context.Background(), companyID, propertyID)
	if _, err := l.Load(context.Background(), companyID, propertyID); err != nil {
		t.Fatalf("Load 2: %v", err)
	}
	if db.queries != 2 {
		t.Errorf("db queries = %d, want 2 after invalidate", db.queries)
	}
}

func TestLoadSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	db := &stubCompanyDB{autoReply: true}
	props := &stubProps{settings: properties.Settings{AutoReplyEnabled: true}}
	l := NewLoader(db, props, client, time.Minute, testDefaults(), nil)

	mr.Close()

	e, err := l.Load(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("Load with dead cache: %v", err)
	}
	if !e.AutoReplyEnabled {
		t.Error("settings should load from db when cache is down")
	}
}
