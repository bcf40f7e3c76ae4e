// Package remote reads schema and records out of a connector's provider.
// It sits above the token manager (every call carries a valid token) and
// below the syncer, which decides what to do with the data.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tokens"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// PageSize is the offset/limit page size for record fetches
	PageSize = 100

	// MaxRecords caps a single fetch so a runaway app cannot stall a sync
	MaxRecords = 50000
)

// TokenSource yields a valid access token for a connector, refreshing if
// needed. The token manager is the production implementation.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, connectorID uuid.UUID) (*tokens.AccessToken, error)
}

// RateLimiter gates outbound provider calls. Wait blocks until the key has
// budget; Backoff holds the key closed for the duration a throttled provider
// asked for.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
	Backoff(ctx context.Context, key string, d time.Duration) error
}

// NoopLimiter disables rate limiting (tests, single-tenant deployments)
type NoopLimiter struct{}

func (NoopLimiter) Wait(ctx context.Context, key string) error { return nil }
func (NoopLimiter) Backoff(ctx context.Context, key string, d time.Duration) error { return nil }

// Client fetches remote schema and records for a connector
type Client struct {
	connectors repositories.ConnectorRepo
	tokens     TokenSource
	registry   *providers.Registry
	limiter    RateLimiter
	logger     ectologger.Logger
}

// NewClient creates a remote client
func NewClient(
	connectors repositories.ConnectorRepo,
	tokenManager TokenSource,
	registry *providers.Registry,
	limiter RateLimiter,
	logger ectologger.Logger,
) *Client {
	if limiter == nil {
		limiter = NoopLimiter{}
	}
	return &Client{
		connectors: connectors,
		tokens:     tokenManager,
		registry:   registry,
		limiter:    limiter,
		logger:     logger,
	}
}

// session bundles everything one connector call sequence needs
type session struct {
	connector *models.Connector
	adapter   providers.Adapter
	cfg       providers.Config
	auth      string
	limitKey  string
}

func (c *Client) newSession(ctx context.Context, connectorID uuid.UUID) (*session, error) {
	connector, err := c.connectors.GetByID(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	provider, err := providers.FromString(connector.Provider)
	if err != nil {
		return nil, err
	}
	adapter, err := c.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.EnsureValidToken(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	return &session{
		connector: connector,
		adapter:   adapter,
		cfg:       providers.Config{Settings: connector.Config.Data},
		auth:      token.AuthorizationHeader(),
		limitKey:  "provider:" + connector.Provider + ":" + connectorID.String(),
	}, nil
}

// callLimited runs one provider call behind the limiter. A throttled response
// registers the provider's hold-off with the limiter and the call is retried
// once after the backoff; a second throttle surfaces as an error.
func (c *Client) callLimited(ctx context.Context, s *session, fn func() error) error {
	if err := c.limiter.Wait(ctx, s.limitKey); err != nil {
		return err
	}

	err := fn()
	var limited *providers.RateLimitedError
	if !errors.As(err, &limited) {
		return err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": s.connector.ID,
		"provider":     s.connector.Provider,
		"retry_after":  limited.RetryAfter.String(),
	}).Warnf("Provider throttled the request, backing off")

	if err := c.limiter.Backoff(ctx, s.limitKey, limited.RetryAfter); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx, s.limitKey); err != nil {
		return err
	}
	return fn()
}

// ListApps fetches the provider's application catalog as cacheable models
func (c *Client) ListApps(ctx context.Context, connectorID uuid.UUID) ([]models.RemoteApplication, error) {
	ctx, span := tracing.StartSpan(ctx, "RemoteClient.ListApps")
	defer span.End()

	s, err := c.newSession(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	var remoteApps []providers.RemoteApp
	err = c.callLimited(ctx, s, func() error {
		var err error
		remoteApps, err = s.adapter.ListApps(ctx, s.cfg, s.auth)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote applications: %w", err)
	}

	now := time.Now()
	apps := make([]models.RemoteApplication, 0, len(remoteApps))
	for _, app := range remoteApps {
		apps = append(apps, models.RemoteApplication{
			ConnectorID: connectorID,
			AppID:       app.ID,
			Code:        app.Code,
			Name:        app.Name,
			SyncedAt:    now,
		})
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"app_count":    len(apps),
	}).Debugf("Fetched remote applications")
	return apps, nil
}

// ListFields fetches one application's field definitions, classifying each
// provider type code into an internal field kind
func (c *Client) ListFields(ctx context.Context, connectorID uuid.UUID, appID string) ([]models.RemoteField, error) {
	ctx, span := tracing.StartSpan(ctx, "RemoteClient.ListFields")
	defer span.End()

	s, err := c.newSession(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	var defs []providers.RemoteFieldDef
	err = c.callLimited(ctx, s, func() error {
		var err error
		defs, err = s.adapter.ListFields(ctx, s.cfg, s.auth, appID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote fields: %w", err)
	}

	now := time.Now()
	fields := make([]models.RemoteField, 0, len(defs))
	for _, def := range defs {
		rawType := def.RawType
		field := models.RemoteField{
			ConnectorID: connectorID,
			AppID:       appID,
			Code:        def.Code,
			Label:       def.Label,
			FieldType:   ClassifyFieldType(s.connector.Provider, def.RawType),
			RawType:     &rawType,
			Required:    def.Required,
			SyncedAt:    now,
		}
		if len(def.Options) > 0 {
			field.Options.Data = def.Options
		}
		fields = append(fields, field)
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"app_id":       appID,
		"field_count":  len(fields),
	}).Debugf("Fetched remote fields")
	return fields, nil
}

// FetchRecords fetches every record of an application, paging by offset and
// limit. The loop terminates when a page comes back shorter than the limit.
func (c *Client) FetchRecords(ctx context.Context, connectorID uuid.UUID, appID, filter string) ([]providers.RemoteRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "RemoteClient.FetchRecords")
	defer span.End()

	s, err := c.newSession(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	var records []providers.RemoteRecord
	offset := 0
	for {
		var page []providers.RemoteRecord
		err := c.callLimited(ctx, s, func() error {
			var err error
			page, err = s.adapter.FetchRecordsPage(ctx, s.cfg, s.auth, appID, filter, offset, PageSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch records at offset %d: %w", offset, err)
		}

		records = append(records, page...)
		if len(page) < PageSize {
			break
		}

		offset += PageSize
		if offset >= MaxRecords {
			c.logger.WithContext(ctx).WithFields(map[string]any{
				"connector_id": connectorID,
				"app_id":       appID,
			}).Warnf("Record fetch truncated at %d records", MaxRecords)
			break
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"connector_id": connectorID,
		"app_id":       appID,
		"record_count": len(records),
	}).Debugf("Fetched remote records")
	return records, nil
}
