// Package settings resolves effective automation settings for a company and
// property, with a short-TTL Redis cache in front of Postgres. Webhook
// traffic hits this on every inbound message.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/stayloop/guestops/internal/properties"
	"github.com/stayloop/guestops/pkg/logging"
)

// Effective is the merged policy for one property: the company's switches
// plus the property's, with the stricter value winning for auto-reply.
type Effective struct {
	AutoReplyEnabled    bool                `json:"auto_reply_enabled"`
	ConfidenceThreshold float64             `json:"confidence_threshold"`
	EscalationIntents   []string            `json:"escalation_intents"`
	QuietHoursStart     string              `json:"quiet_hours_start"`
	QuietHoursEnd       string              `json:"quiet_hours_end"`
	Property            properties.Settings `json:"property"`
}

// propertyStore is the database fallback.
type propertyStore interface {
	GetSettings(ctx context.Context, propertyID uuid.UUID) (properties.Settings, error)
}

// companyDB reads the company-level switches.
type companyDB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Loader caches effective settings per property.
type Loader struct {
	db       companyDB
	props    propertyStore
	redis    *redis.Client
	ttl      time.Duration
	defaults Defaults
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Defaults are the instance-wide fallbacks from configuration.
type Defaults struct {
	ConfidenceThreshold float64
	EscalationIntents   []string
	QuietHoursStart     string
	QuietHoursEnd       string
}

// NewLoader creates the loader. redisClient may be nil to disable caching.
func NewLoader(db companyDB, props propertyStore, redisClient *redis.Client, ttl time.Duration, defaults Defaults, logger *logging.Logger) *Loader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Loader{
		db:       db,
		props:    props,
		redis:    redisClient,
		ttl:      ttl,
		defaults: defaults,
		logger:   logger,
		tracer:   otel.Tracer("guestops/settings"),
	}
}

func cacheKey(companyID, propertyID uuid.UUID) string {
	return fmt.Sprintf("guestops:settings:%s:%s", companyID, propertyID)
}

// Load returns the effective settings for a property, from cache when fresh.
// A cache outage degrades to the database, never to an error.
func (l *Loader) Load(ctx context.Context, companyID, propertyID uuid.UUID) (Effective, error) {
	ctx, span := l.tracer.Start(ctx, "settings.load")
	defer span.End()

	key := cacheKey(companyID, propertyID)
	if l.redis != nil {
		raw, err := l.redis.Get(ctx, key).Result()
		if err == nil {
			var e Effective
			if jsonErr := json.Unmarshal([]byte(raw), &e); jsonErr == nil {
				return e, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			l.logger.Warn("settings cache read failed", "error", err)
		}
	}

	e, err := l.loadFromDB(ctx, companyID, propertyID)
	if err != nil {
		return Effective{}, err
	}

	if l.redis != nil {
		if raw, jsonErr := json.Marshal(e); jsonErr == nil {
			if err := l.redis.Set(ctx, key, raw, l.ttl).Err(); err != nil {
				l.logger.Warn("settings cache write failed", "error", err)
			}
		}
	}
	return e, nil
}

// Invalidate drops the cached entry after a settings change.
func (l *Loader) Invalidate(ctx context.Context, companyID, propertyID uuid.UUID) {
	if l.redis == nil {
		return
	}
	if err := l.redis.Del(ctx, cacheKey(companyID, propertyID)).Err(); err != nil {
		l.logger.Warn("settings cache invalidate failed", "error", err)
	}
}

func (l *Loader) loadFromDB(ctx context.Context, companyID, propertyID uuid.UUID) (Effective, error) {
	var companyAutoReply bool
	err := l.db.QueryRow(ctx,
		`SELECT auto_reply_enabled FROM companies WHERE id = $1`, companyID).Scan(&companyAutoReply)
	if err != nil {
		return Effective{}, fmt.Errorf("settings: load company: %w", err)
	}

	propSettings, err := l.props.GetSettings(ctx, propertyID)
	if err != nil {
		return Effective{}, fmt.Errorf("settings: load property: %w", err)
	}

	return Effective{
		AutoReplyEnabled:    companyAutoReply && propSettings.AutoReplyEnabled,
		ConfidenceThreshold: l.defaults.ConfidenceThreshold,
		EscalationIntents:   l.defaults.EscalationIntents,
		QuietHoursStart:     l.defaults.QuietHoursStart,
		QuietHoursEnd:       l.defaults.QuietHoursEnd,
		Property:            propSettings,
	}, nil
}
