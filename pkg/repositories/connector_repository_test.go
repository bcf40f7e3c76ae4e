package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "fern"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext(tenantID uuid.UUID) context.Context {
	ctx := context.Background()
	return appctx.SetTenantID(ctx, tenantID.String())
}

// assertNotFound asserts that err is an HTTP 404 error
func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err), "expected 404, got: %d", httperror.GetStatusCode(err))
}

// assertUnauthorized asserts that err is an HTTP 401 error
func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusUnauthorized, httperror.GetStatusCode(err), "expected 401, got: %d", httperror.GetStatusCode(err))
}

func newTestConnector(t *testing.T, ctx context.Context, repo *repositories.ConnectorRepository) *models.Connector {
	t.Helper()
	connector := &models.Connector{
		Provider: "kintone",
		Name:     "Test Connector",
		Config:   database.NewJSONB(map[string]any{"subdomain": "acme"}),
	}
	require.NoError(t, repo.Create(ctx, connector))
	return connector
}

func TestConnectorRepository_CRUD(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewConnectorRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)

	// Test Create
	connector := newTestConnector(t, ctx, repo)
	assert.NotEqual(t, uuid.Nil, connector.ID)
	assert.Equal(t, tenantID, connector.TenantID)
	assert.Equal(t, models.ConnectorStatusDisconnected, connector.Status)
	assert.False(t, connector.CreatedAt.IsZero())

	// Test GetByID
	fetched, err := repo.GetByID(ctx, connector.ID)
	require.NoError(t, err)
	assert.Equal(t, connector.ID, fetched.ID)
	assert.Equal(t, "kintone", fetched.Provider)
	assert.Equal(t, "acme", fetched.Config.Data["subdomain"])

	// Test List
	connectors, err := repo.List(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(connectors), 1)

	// Test Update
	connector.Name = "Renamed Connector"
	connector.Config = database.NewJSONB(map[string]any{"subdomain": "globex"})
	err = repo.Update(ctx, connector)
	require.NoError(t, err)

	updated, err := repo.GetByID(ctx, connector.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Connector", updated.Name)
	assert.Equal(t, "globex", updated.Config.Data["subdomain"])

	// Test tenant isolation
	otherTenantCtx := getTestContext(uuid.New())
	_, err = repo.GetByID(otherTenantCtx, connector.ID)
	assertNotFound(t, err)

	// Test Delete
	err = repo.Delete(ctx, connector.ID)
	require.NoError(t, err)

	_, err = repo.GetByID(ctx, connector.ID)
	assertNotFound(t, err)
}

func TestConnectorRepository_UpdateStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewConnectorRepository(db, logger)

	tenantID := uuid.New()
	ctx := getTestContext(tenantID)
	connector := newTestConnector(t, ctx, repo)

	errMsg := "token refresh rejected"
	err := repo.UpdateStatus(ctx, connector.ID, models.ConnectorStatusError, &errMsg)
	require.NoError(t, err)

	fetched, err := repo.GetByID(ctx, connector.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusError, fetched.Status)
	require.NotNil(t, fetched.ErrorMessage)
	assert.Equal(t, errMsg, *fetched.ErrorMessage)

	// Error message is cleared when leaving the error state
	err = repo.UpdateStatus(ctx, connector.ID, models.ConnectorStatusConnected, &errMsg)
	require.NoError(t, err)

	fetched, err = repo.GetByID(ctx, connector.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConnectorStatusConnected, fetched.Status)
	assert.Nil(t, fetched.ErrorMessage)

	require.NoError(t, repo.Delete(ctx, connector.ID))
}

func TestConnectorRepository_TenantRequired(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	logger := getTestLogger()
	repo := repositories.NewConnectorRepository(db, logger)

	// Context without tenant ID
	ctx := context.Background()

	connector := &models.Connector{
		Provider: "kintone",
		Name:     "Should Fail",
	}

	err := repo.Create(ctx, connector)
	assertUnauthorized(t, err)
}
