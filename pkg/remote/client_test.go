package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/providers"
	"github.com/Ramsey-B/fern/pkg/tokens"
)

type stubConnectorRepo struct {
	connector *models.Connector
}

func (r *stubConnectorRepo) Create(ctx context.Context, connector *models.Connector) error {
	panic("not used")
}

func (r *stubConnectorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Connector, error) {
	if r.connector == nil || r.connector.ID != id {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "connector not found")
	}
	clone := *r.connector
	return &clone, nil
}

func (r *stubConnectorRepo) List(ctx context.Context) ([]models.Connector, error) {
	panic("not used")
}

func (r *stubConnectorRepo) Update(ctx context.Context, connector *models.Connector) error {
	panic("not used")
}

func (r *stubConnectorRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectorStatus, errorMessage *string) error {
	panic("not used")
}

func (r *stubConnectorRepo) Delete(ctx context.Context, id uuid.UUID) error {
	panic("not used")
}

func (r *stubConnectorRepo) DeleteByTenantID(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	panic("not used")
}

type stubTokenSource struct {
	token *tokens.AccessToken
	err   error
	calls int
}

func (s *stubTokenSource) EnsureValidToken(ctx context.Context, connectorID uuid.UUID) (*tokens.AccessToken, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

type countingLimiter struct {
	waits    int
	backoffs []time.Duration
}

func (l *countingLimiter) Wait(ctx context.Context, key string) error {
	l.waits++
	return nil
}

func (l *countingLimiter) Backoff(ctx context.Context, key string, d time.Duration) error {
	l.backoffs = append(l.backoffs, d)
	return nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func clientFixture(t *testing.T, serverURL string) (*Client, uuid.UUID, *countingLimiter) {
	t.Helper()

	connectorID := uuid.New()
	connector := &models.Connector{
		ID:       connectorID,
		TenantID: uuid.New(),
		Provider: "kintone",
		Name:     "test connector",
		Config: database.NewJSONB(map[string]any{
			"subdomain": "acme",
			"base_url":  serverURL,
		}),
		Status: models.ConnectorStatusConnected,
	}

	logger := testLogger()
	httpClient := httpclient.NewClient(httpclient.DefaultConfig(), logger)
	registry := providers.NewRegistry(providers.NewKintoneAdapter(httpClient))
	source := &stubTokenSource{token: &tokens.AccessToken{
		Token:     "at-valid",
		TokenType: "Bearer",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	limiter := &countingLimiter{}

	client := NewClient(&stubConnectorRepo{connector: connector}, source, registry, limiter, logger)
	return client, connectorID, limiter
}

func TestClientListApps(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/k/v1/apps.json", r.URL.Path)
		assert.Equal(t, "Bearer at-valid", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"apps": []map[string]string{
				{"appId": "11", "code": "people", "name": "People"},
				{"appId": "12", "code": "visas", "name": "Visa Applications"},
			},
		})
	}))
	defer server.Close()

	client, connectorID, limiter := clientFixture(t, server.URL)

	apps, err := client.ListApps(context.Background(), connectorID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "11", apps[0].AppID)
	assert.Equal(t, "people", apps[0].Code)
	assert.Equal(t, connectorID, apps[0].ConnectorID)
	assert.False(t, apps[0].SyncedAt.IsZero())
	assert.Equal(t, 1, limiter.waits)
}

func TestClientListFieldsClassifiesTypes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/k/v1/app/form/fields.json", r.URL.Path)
		assert.Equal(t, "11", r.URL.Query().Get("app"))
		json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{
				"name": map[string]any{
					"type": "SINGLE_LINE_TEXT", "label": "Name", "required": true,
				},
				"status": map[string]any{
					"type": "DROP_DOWN", "label": "Status", "required": false,
					"options": map[string]any{
						"書類準備中": map[string]any{"label": "書類準備中"},
						"申請済み":  map[string]any{"label": "申請済み"},
					},
				},
				"custom_widget": map[string]any{
					"type": "FANCY_WIDGET", "label": "Widget", "required": false,
				},
			},
		})
	}))
	defer server.Close()

	client, connectorID, _ := clientFixture(t, server.URL)

	fields, err := client.ListFields(context.Background(), connectorID, "11")
	require.NoError(t, err)
	require.Len(t, fields, 3)

	byCode := make(map[string]models.RemoteField, len(fields))
	for _, f := range fields {
		byCode[f.Code] = f
	}

	assert.Equal(t, models.FieldTypeText, byCode["name"].FieldType)
	assert.True(t, byCode["name"].Required)

	status := byCode["status"]
	assert.Equal(t, models.FieldTypeChoice, status.FieldType)
	require.NotNil(t, status.RawType)
	assert.Equal(t, "DROP_DOWN", *status.RawType)
	assert.ElementsMatch(t, []string{"書類準備中", "申請済み"}, status.Options.Data)

	widget := byCode["custom_widget"]
	assert.Equal(t, models.FieldTypeUnknown, widget.FieldType)
	require.NotNil(t, widget.RawType)
	assert.Equal(t, "FANCY_WIDGET", *widget.RawType)
}

func kintoneRecord(id int) map[string]any {
	return map[string]any{
		"$id":  map[string]any{"type": "__ID__", "value": fmt.Sprintf("%d", id)},
		"name": map[string]any{"type": "SINGLE_LINE_TEXT", "value": fmt.Sprintf("person %d", id)},
	}
}

func TestClientFetchRecordsPaginates(t *testing.T) {
	const total = PageSize + 42

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "/k/v1/records.json", r.URL.Path)

		var offset, limit int
		_, err := fmt.Sscanf(r.URL.Query().Get("query"), "limit %d offset %d", &limit, &offset)
		require.NoError(t, err)
		assert.Equal(t, PageSize, limit)

		var records []map[string]any
		for i := offset; i < offset+limit && i < total; i++ {
			records = append(records, kintoneRecord(i))
		}
		json.NewEncoder(w).Encode(map[string]any{"records": records})
	}))
	defer server.Close()

	client, connectorID, limiter := clientFixture(t, server.URL)

	records, err := client.FetchRecords(context.Background(), connectorID, "11", "")
	require.NoError(t, err)
	assert.Len(t, records, total)
	assert.Equal(t, 2, requests)
	assert.Equal(t, 2, limiter.waits)
	assert.Equal(t, "0", records[0].ID)
	assert.Equal(t, "person 0", records[0].Fields["name"])
}

func TestClientFetchRecordsStopsOnExactPageBoundary(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++

		var offset, limit int
		fmt.Sscanf(r.URL.Query().Get("query"), "limit %d offset %d", &limit, &offset)

		var records []map[string]any
		for i := offset; i < offset+limit && i < PageSize; i++ {
			records = append(records, kintoneRecord(i))
		}
		json.NewEncoder(w).Encode(map[string]any{"records": records})
	}))
	defer server.Close()

	client, connectorID, _ := clientFixture(t, server.URL)

	records, err := client.FetchRecords(context.Background(), connectorID, "11", "")
	require.NoError(t, err)
	assert.Len(t, records, PageSize)
	// full first page forces one more request that comes back empty
	assert.Equal(t, 2, requests)
}

func TestClientFetchRecordsBacksOffOnThrottle(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"records": []map[string]any{kintoneRecord(1)}})
	}))
	defer server.Close()

	client, connectorID, limiter := clientFixture(t, server.URL)

	records, err := client.FetchRecords(context.Background(), connectorID, "11", "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, requests)
	require.Len(t, limiter.backoffs, 1)
	assert.Equal(t, 2*time.Second, limiter.backoffs[0])
}

func TestClientFetchRecordsSurfacesRepeatedThrottle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, connectorID, limiter := clientFixture(t, server.URL)

	_, err := client.FetchRecords(context.Background(), connectorID, "11", "")
	require.Error(t, err)

	var limited *providers.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, providers.DefaultRetryAfter, limited.RetryAfter)
	assert.Len(t, limiter.backoffs, 1, "a throttled retry is attempted once per call")
}

func TestClientFetchRecordsPropagatesProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{"code": "CB_NO01", "message": "No privilege to proceed."})
	}))
	defer server.Close()

	client, connectorID, _ := clientFixture(t, server.URL)

	_, err := client.FetchRecords(context.Background(), connectorID, "11", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestClientSurfacesTokenFailure(t *testing.T) {
	client, connectorID, _ := clientFixture(t, "http://unused.invalid")
	client.tokens = &stubTokenSource{err: tokens.ErrReauthorizationRequired}

	_, err := client.ListApps(context.Background(), connectorID)
	require.ErrorIs(t, err, tokens.ErrReauthorizationRequired)
}

func TestClientRejectsUnknownConnector(t *testing.T) {
	client, _, _ := clientFixture(t, "http://unused.invalid")

	_, err := client.ListApps(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}
