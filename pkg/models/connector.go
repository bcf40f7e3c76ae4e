package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
)

// ConnectorStatus represents the connection state of a connector
type ConnectorStatus string

const (
	ConnectorStatusConnected    ConnectorStatus = "connected"
	ConnectorStatusDisconnected ConnectorStatus = "disconnected"
	ConnectorStatusError        ConnectorStatus = "error"
)

// Connector represents one configured integration between a tenant and an
// external record-system provider
type Connector struct {
	ID           uuid.UUID                      `db:"id" json:"id"`
	TenantID     uuid.UUID                      `db:"tenant_id" json:"tenant_id"`
	Provider     string                         `db:"provider" json:"provider"`
	Name         string                         `db:"name" json:"name"`
	Config       database.JSONB[map[string]any] `db:"config" json:"config"`
	Scopes       *string                        `db:"scopes" json:"scopes,omitempty"`
	Status       ConnectorStatus                `db:"status" json:"status"`
	ErrorMessage *string                        `db:"error_message" json:"error_message,omitempty"`
	SyncInterval *int                           `db:"sync_interval_seconds" json:"sync_interval_seconds,omitempty"`
	CreatedAt    time.Time                      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time                      `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Connector) TableName() string {
	return "connectors"
}

// ConnectorSecret holds the encrypted OAuth client credentials for a connector.
// The ciphertext columns are only ever decrypted server-side at time of use and
// are never returned over the API.
type ConnectorSecret struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	TenantID           uuid.UUID `db:"tenant_id" json:"-"`
	ConnectorID        uuid.UUID `db:"connector_id" json:"connector_id"`
	ClientIDCipher     string    `db:"client_id_cipher" json:"-"`
	ClientSecretCipher string    `db:"client_secret_cipher" json:"-"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (ConnectorSecret) TableName() string {
	return "connector_secrets"
}

// OAuthCredential is the single active token row for a connector. Rows are
// replaced wholesale on every exchange/refresh (delete then insert), never
// updated in place.
type OAuthCredential struct {
	ID                 uuid.UUID                      `db:"id" json:"id"`
	TenantID           uuid.UUID                      `db:"tenant_id" json:"-"`
	ConnectorID        uuid.UUID                      `db:"connector_id" json:"connector_id"`
	AccessTokenCipher  string                         `db:"access_token_cipher" json:"-"`
	RefreshTokenCipher *string                        `db:"refresh_token_cipher" json:"-"`
	TokenType          string                         `db:"token_type" json:"token_type"`
	ExpiresAt          time.Time                      `db:"expires_at" json:"expires_at"`
	Scope              *string                        `db:"scope" json:"scope,omitempty"`
	RawResponse        database.JSONB[map[string]any] `db:"raw_response" json:"-"`
	CreatedAt          time.Time                      `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (OAuthCredential) TableName() string {
	return "oauth_credentials"
}
