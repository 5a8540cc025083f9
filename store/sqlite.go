package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/specgate/specgate/errors"
	"github.com/specgate/specgate/types"
)

// SQLite persists gateway state in a single SQLite database file. Structured
// fields (resolved documents, schemas, parameter lists) are stored as JSON
// columns; everything queried on is a plain column.
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS specifications (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	family TEXT NOT NULL,
	raw_content TEXT NOT NULL,
	resolved_content TEXT NOT NULL,
	version TEXT NOT NULL,
	servers TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS api_documents (
	id TEXT PRIMARY KEY,
	spec_id TEXT NOT NULL REFERENCES specifications(id),
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	base_address TEXT NOT NULL,
	family TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS endpoints (
	id TEXT PRIMARY KEY,
	api_document_id TEXT NOT NULL REFERENCES api_documents(id) ON DELETE CASCADE,
	address_pattern TEXT NOT NULL,
	protocol TEXT NOT NULL,
	operation TEXT NOT NULL,
	operation_id TEXT,
	description TEXT,
	detail TEXT NOT NULL,
	status TEXT NOT NULL,
	call_count INTEGER NOT NULL DEFAULT 0,
	success_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	avg_latency_ms REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_endpoints_document ON endpoints(api_document_id);
CREATE TABLE IF NOT EXISTS auth_configs (
	id TEXT PRIMARY KEY,
	api_document_id TEXT NOT NULL,
	scheme TEXT NOT NULL,
	config TEXT NOT NULL,
	required INTEGER NOT NULL,
	is_global INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS auth_states (
	id TEXT PRIMARY KEY,
	auth_config_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	api_document_id TEXT NOT NULL,
	state TEXT NOT NULL UNIQUE,
	code_verifier TEXT NOT NULL,
	code_challenge TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	scope TEXT,
	consumed INTEGER NOT NULL DEFAULT 0,
	expires_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS user_authorizations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	api_document_id TEXT NOT NULL,
	auth_config_id TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT,
	token_type TEXT,
	scope TEXT,
	provider_subject TEXT,
	expires_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(user_id, api_document_id)
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	active INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS call_logs (
	id TEXT PRIMARY KEY,
	endpoint_id TEXT NOT NULL,
	protocol TEXT NOT NULL,
	operation TEXT NOT NULL,
	address TEXT NOT NULL,
	request TEXT,
	response TEXT,
	status INTEGER,
	error TEXT,
	latency_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_logs_created ON call_logs(created_at);
`

// NewSQLite opens (or creates) the database at path and applies the schema.
// WAL mode is enabled for concurrent readers; writes go through a single
// connection so concurrent stat updates queue instead of hitting SQLITE_BUSY.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", "NewSQLite", "open database")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "SQLite", "NewSQLite", "enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "SQLite", "NewSQLite", "set busy timeout")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "SQLite", "NewSQLite", "enable foreign keys")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "SQLite", "NewSQLite", "apply schema")
	}
	return &SQLite{db: db}, nil
}

// endpointDetail carries the JSON-encoded parts of an endpoint row
type endpointDetail struct {
	Parameters     []types.Parameter           `json:"parameters,omitempty"`
	RequestSchema  map[string]any              `json:"request_schema,omitempty"`
	ResponseSchema map[string]any              `json:"response_schema,omitempty"`
	Security       []types.SecurityRequirement `json:"security,omitempty"`
	Tags           []string                    `json:"tags,omitempty"`
}

// SaveRegistration persists a specification, document, and endpoints in one
// transaction.
func (s *SQLite) SaveRegistration(ctx context.Context, spec *types.Specification,
	doc *types.ApiDocument, endpoints []types.Endpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveRegistration", "begin transaction")
	}
	defer tx.Rollback()

	if err := saveSpecification(ctx, tx, spec); err != nil {
		return err
	}
	if err := saveDocument(ctx, tx, doc); err != nil {
		return err
	}
	for i := range endpoints {
		if err := saveEndpoint(ctx, tx, &endpoints[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "SQLite", "SaveRegistration", "commit")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveSpecification(ctx context.Context, ex execer, spec *types.Specification) error {
	resolved, err := json.Marshal(spec.ResolvedContent)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveSpecification", "encode resolved content")
	}
	servers, err := json.Marshal(spec.Servers)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveSpecification", "encode servers")
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO specifications (id, name, family, raw_content, resolved_content, version, servers, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, family=excluded.family, raw_content=excluded.raw_content,
			resolved_content=excluded.resolved_content, version=excluded.version, servers=excluded.servers`,
		spec.ID, spec.Name, string(spec.Family), spec.RawContent, string(resolved),
		spec.Version, string(servers), spec.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveSpecification", "insert")
	}
	return nil
}

// SaveSpecification stores or replaces a specification
func (s *SQLite) SaveSpecification(ctx context.Context, spec *types.Specification) error {
	return saveSpecification(ctx, s.db, spec)
}

// Specification returns one specification by ID
func (s *SQLite) Specification(ctx context.Context, id string) (*types.Specification, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, family, raw_content, resolved_content, version, servers, created_at
		FROM specifications WHERE id = ?`, id)
	spec, err := scanSpecification(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "SQLite", "Specification", "lookup "+id)
		}
		return nil, errors.Wrap(err, "SQLite", "Specification", "scan")
	}
	return spec, nil
}

// Specifications returns every stored specification, oldest first
func (s *SQLite) Specifications(ctx context.Context) ([]types.Specification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, family, raw_content, resolved_content, version, servers, created_at
		FROM specifications ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", "Specifications", "query")
	}
	defer rows.Close()

	var out []types.Specification
	for rows.Next() {
		spec, err := scanSpecification(rows)
		if err != nil {
			return nil, errors.Wrap(err, "SQLite", "Specifications", "scan")
		}
		out = append(out, *spec)
	}
	return out, rows.Err()
}

// DeleteSpecification removes a specification
func (s *SQLite) DeleteSpecification(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "DeleteSpecification", "DELETE FROM specifications WHERE id = ?", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSpecification(row scanner) (*types.Specification, error) {
	var spec types.Specification
	var family, resolved, servers string
	if err := row.Scan(&spec.ID, &spec.Name, &family, &spec.RawContent,
		&resolved, &spec.Version, &servers, &spec.CreatedAt); err != nil {
		return nil, err
	}
	spec.Family = types.SpecFamily(family)
	if err := json.Unmarshal([]byte(resolved), &spec.ResolvedContent); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(servers), &spec.Servers); err != nil {
		return nil, err
	}
	return &spec, nil
}

func saveDocument(ctx context.Context, ex execer, doc *types.ApiDocument) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO api_documents (id, spec_id, name, version, base_address, family, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, version=excluded.version, base_address=excluded.base_address,
			status=excluded.status, updated_at=excluded.updated_at`,
		doc.ID, doc.SpecID, doc.Name, doc.Version, doc.BaseAddress,
		string(doc.Family), doc.Status, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveDocument", "insert")
	}
	return nil
}

// SaveDocument stores or replaces an API document
func (s *SQLite) SaveDocument(ctx context.Context, doc *types.ApiDocument) error {
	return saveDocument(ctx, s.db, doc)
}

// Document returns one API document by ID
func (s *SQLite) Document(ctx context.Context, id string) (*types.ApiDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, spec_id, name, version, base_address, family, status, created_at, updated_at
		FROM api_documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "SQLite", "Document", "lookup "+id)
		}
		return nil, errors.Wrap(err, "SQLite", "Document", "scan")
	}
	return doc, nil
}

// Documents returns every registered API document, oldest first
func (s *SQLite) Documents(ctx context.Context) ([]types.ApiDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, spec_id, name, version, base_address, family, status, created_at, updated_at
		FROM api_documents ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", "Documents", "query")
	}
	defer rows.Close()

	var out []types.ApiDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, errors.Wrap(err, "SQLite", "Documents", "scan")
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

// DeleteDocument removes an API document; its endpoints cascade
func (s *SQLite) DeleteDocument(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "DeleteDocument", "DELETE FROM api_documents WHERE id = ?", id)
}

func scanDocument(row scanner) (*types.ApiDocument, error) {
	var doc types.ApiDocument
	var family string
	if err := row.Scan(&doc.ID, &doc.SpecID, &doc.Name, &doc.Version, &doc.BaseAddress,
		&family, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Family = types.SpecFamily(family)
	return &doc, nil
}

func saveEndpoint(ctx context.Context, ex execer, ep *types.Endpoint) error {
	detail, err := json.Marshal(endpointDetail{
		Parameters:     ep.Parameters,
		RequestSchema:  ep.RequestSchema,
		ResponseSchema: ep.ResponseSchema,
		Security:       ep.Security,
		Tags:           ep.Tags,
	})
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveEndpoint", "encode detail")
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO endpoints (id, api_document_id, address_pattern, protocol, operation,
			operation_id, description, detail, status,
			call_count, success_count, error_count, avg_latency_ms, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			address_pattern=excluded.address_pattern, protocol=excluded.protocol,
			operation=excluded.operation, operation_id=excluded.operation_id,
			description=excluded.description, detail=excluded.detail,
			status=excluded.status, updated_at=excluded.updated_at`,
		ep.ID, ep.ApiDocumentID, ep.AddressPattern, string(ep.Protocol), string(ep.Operation),
		ep.OperationID, ep.Description, string(detail), ep.Status,
		ep.Stats.CallCount, ep.Stats.SuccessCount, ep.Stats.ErrorCount, ep.Stats.AvgLatencyMs,
		ep.CreatedAt, ep.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveEndpoint", "insert")
	}
	return nil
}

const endpointColumns = `id, api_document_id, address_pattern, protocol, operation,
	operation_id, description, detail, status,
	call_count, success_count, error_count, avg_latency_ms, created_at, updated_at`

// Endpoint returns one endpoint by ID
func (s *SQLite) Endpoint(ctx context.Context, id string) (*types.Endpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	ep, err := scanEndpoint(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewKind(errors.KindEndpointNotFound,
				"SQLite", "Endpoint", "endpoint %q", id)
		}
		return nil, errors.Wrap(err, "SQLite", "Endpoint", "scan")
	}
	return ep, nil
}

// EndpointsByDocument returns every endpoint of one API document
func (s *SQLite) EndpointsByDocument(ctx context.Context, docID string) ([]types.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoints WHERE api_document_id = ?
		 ORDER BY address_pattern, operation`, docID)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", "EndpointsByDocument", "query")
	}
	defer rows.Close()

	var out []types.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "SQLite", "EndpointsByDocument", "scan")
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

func scanEndpoint(row scanner) (*types.Endpoint, error) {
	var ep types.Endpoint
	var protocol, operation, detail string
	if err := row.Scan(&ep.ID, &ep.ApiDocumentID, &ep.AddressPattern, &protocol, &operation,
		&ep.OperationID, &ep.Description, &detail, &ep.Status,
		&ep.Stats.CallCount, &ep.Stats.SuccessCount, &ep.Stats.ErrorCount, &ep.Stats.AvgLatencyMs,
		&ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	ep.Protocol = types.Protocol(protocol)
	ep.Operation = types.OperationKind(operation)

	var d endpointDetail
	if err := json.Unmarshal([]byte(detail), &d); err != nil {
		return nil, err
	}
	ep.Parameters = d.Parameters
	ep.RequestSchema = d.RequestSchema
	ep.ResponseSchema = d.ResponseSchema
	ep.Security = d.Security
	ep.Tags = d.Tags
	return &ep, nil
}

// UpdateCallStats folds one call outcome into an endpoint's statistics. The
// arithmetic runs inside the UPDATE so concurrent calls never lose counts.
func (s *SQLite) UpdateCallStats(ctx context.Context, endpointID string, success bool, latencyMs int64) error {
	successDelta, errorDelta := 0, 1
	if success {
		successDelta, errorDelta = 1, 0
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE endpoints SET
			avg_latency_ms = (avg_latency_ms * call_count + ?) / (call_count + 1),
			call_count = call_count + 1,
			success_count = success_count + ?,
			error_count = error_count + ?,
			updated_at = ?
		WHERE id = ?`,
		latencyMs, successDelta, errorDelta, time.Now().UTC(), endpointID)
	if err != nil {
		return errors.Wrap(err, "SQLite", "UpdateCallStats", "update")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewKind(errors.KindEndpointNotFound,
			"SQLite", "UpdateCallStats", "endpoint %q", endpointID)
	}
	return nil
}

// SaveAuthConfig stores or replaces an auth config
func (s *SQLite) SaveAuthConfig(ctx context.Context, config *types.AuthConfig) error {
	raw, err := json.Marshal(config.Config)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveAuthConfig", "encode config")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO auth_configs (id, api_document_id, scheme, config, required, is_global, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scheme=excluded.scheme, config=excluded.config, required=excluded.required,
			is_global=excluded.is_global, priority=excluded.priority, updated_at=excluded.updated_at`,
		config.ID, config.ApiDocumentID, string(config.Scheme), string(raw),
		config.Required, config.Global, config.Priority, config.CreatedAt, config.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveAuthConfig", "insert")
	}
	return nil
}

// AuthConfigsByDocument returns a document's auth configs plus the global
// ones, highest priority first.
func (s *SQLite) AuthConfigsByDocument(ctx context.Context, docID string) ([]types.AuthConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, api_document_id, scheme, config, required, is_global, priority, created_at, updated_at
		FROM auth_configs WHERE api_document_id = ? OR is_global = 1
		ORDER BY priority DESC`, docID)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", "AuthConfigsByDocument", "query")
	}
	defer rows.Close()

	var out []types.AuthConfig
	for rows.Next() {
		var config types.AuthConfig
		var scheme, raw string
		if err := rows.Scan(&config.ID, &config.ApiDocumentID, &scheme, &raw,
			&config.Required, &config.Global, &config.Priority,
			&config.CreatedAt, &config.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "SQLite", "AuthConfigsByDocument", "scan")
		}
		config.Scheme = types.AuthScheme(scheme)
		if err := json.Unmarshal([]byte(raw), &config.Config); err != nil {
			return nil, errors.Wrap(err, "SQLite", "AuthConfigsByDocument", "decode config")
		}
		out = append(out, config)
	}
	return out, rows.Err()
}

// DeleteAuthConfig removes an auth config
func (s *SQLite) DeleteAuthConfig(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "DeleteAuthConfig", "DELETE FROM auth_configs WHERE id = ?", id)
}

// SaveAuthState stores a pending OAuth2 flow state
func (s *SQLite) SaveAuthState(ctx context.Context, state *types.OAuth2AuthState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_states (id, auth_config_id, user_id, api_document_id, state,
			code_verifier, code_challenge, redirect_uri, scope, consumed, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.ID, state.AuthConfigID, state.UserID, state.ApiDocumentID, state.State,
		state.CodeVerifier, state.CodeChallenge, state.RedirectURI, state.Scope,
		state.Consumed, state.ExpiresAt, state.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveAuthState", "insert")
	}
	return nil
}

// AuthStateByValue returns the pending flow matching a state value
func (s *SQLite) AuthStateByValue(ctx context.Context, value string) (*types.OAuth2AuthState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, auth_config_id, user_id, api_document_id, state,
			code_verifier, code_challenge, redirect_uri, scope, consumed, expires_at, created_at
		FROM auth_states WHERE state = ?`, value)

	var state types.OAuth2AuthState
	err := row.Scan(&state.ID, &state.AuthConfigID, &state.UserID, &state.ApiDocumentID,
		&state.State, &state.CodeVerifier, &state.CodeChallenge, &state.RedirectURI,
		&state.Scope, &state.Consumed, &state.ExpiresAt, &state.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewKind(errors.KindInvalidState,
				"SQLite", "AuthStateByValue", "no pending flow for state")
		}
		return nil, errors.Wrap(err, "SQLite", "AuthStateByValue", "scan")
	}
	return &state, nil
}

// ConsumeAuthState marks a pending flow used, exactly once. The guard is in
// the WHERE clause so two racing callbacks can never both succeed.
func (s *SQLite) ConsumeAuthState(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE auth_states SET consumed = 1 WHERE id = ? AND consumed = 0`, id)
	if err != nil {
		return errors.Wrap(err, "SQLite", "ConsumeAuthState", "update")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.NewKind(errors.KindInvalidState,
			"SQLite", "ConsumeAuthState", "flow %q missing or already consumed", id)
	}
	return nil
}

// SaveUserAuthorization stores or replaces a user's tokens for a document
func (s *SQLite) SaveUserAuthorization(ctx context.Context, auth *types.UserAuthorization) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_authorizations (id, user_id, api_document_id, auth_config_id,
			access_token, refresh_token, token_type, scope, provider_subject,
			expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, api_document_id) DO UPDATE SET
			auth_config_id=excluded.auth_config_id, access_token=excluded.access_token,
			refresh_token=excluded.refresh_token, token_type=excluded.token_type,
			scope=excluded.scope, provider_subject=excluded.provider_subject,
			expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		auth.ID, auth.UserID, auth.ApiDocumentID, auth.AuthConfigID,
		auth.AccessToken, auth.RefreshToken, auth.TokenType, auth.Scope, auth.ProviderSubject,
		auth.ExpiresAt, auth.CreatedAt, auth.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveUserAuthorization", "insert")
	}
	return nil
}

// UserAuthorization returns a user's tokens for a document
func (s *SQLite) UserAuthorization(ctx context.Context, userID, docID string) (*types.UserAuthorization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, api_document_id, auth_config_id, access_token, refresh_token,
			token_type, scope, provider_subject, expires_at, created_at, updated_at
		FROM user_authorizations WHERE user_id = ? AND api_document_id = ?`, userID, docID)

	var auth types.UserAuthorization
	err := row.Scan(&auth.ID, &auth.UserID, &auth.ApiDocumentID, &auth.AuthConfigID,
		&auth.AccessToken, &auth.RefreshToken, &auth.TokenType, &auth.Scope,
		&auth.ProviderSubject, &auth.ExpiresAt, &auth.CreatedAt, &auth.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "SQLite", "UserAuthorization", "lookup")
		}
		return nil, errors.Wrap(err, "SQLite", "UserAuthorization", "scan")
	}
	return &auth, nil
}

// DeleteUserAuthorization removes a stored authorization
func (s *SQLite) DeleteUserAuthorization(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "DeleteUserAuthorization", "DELETE FROM user_authorizations WHERE id = ?", id)
}

// SaveUser stores or replaces a user
func (s *SQLite) SaveUser(ctx context.Context, user *types.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username=excluded.username, email=excluded.email,
			password_hash=excluded.password_hash,
			role=excluded.role, active=excluded.active`,
		user.ID, user.Username, user.Email, user.PasswordHash,
		user.Role, user.Active, user.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "SaveUser", "insert")
	}
	return nil
}

// UserByID returns one user by ID
func (s *SQLite) UserByID(ctx context.Context, id string) (*types.User, error) {
	return s.user(ctx, "UserByID", "SELECT id, username, email, password_hash, role, active, created_at FROM users WHERE id = ?", id)
}

// UserByUsername returns one user by username
func (s *SQLite) UserByUsername(ctx context.Context, username string) (*types.User, error) {
	return s.user(ctx, "UserByUsername", "SELECT id, username, email, password_hash, role, active, created_at FROM users WHERE username = ?", username)
}

func (s *SQLite) user(ctx context.Context, method, query, arg string) (*types.User, error) {
	var user types.User
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&user.ID, &user.Username, &user.Email,
		&user.PasswordHash, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errors.ErrNotFound, "SQLite", method, "lookup "+arg)
		}
		return nil, errors.Wrap(err, "SQLite", method, "scan")
	}
	return &user, nil
}

// AppendCallLog appends one call record
func (s *SQLite) AppendCallLog(ctx context.Context, log *types.CallLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, endpoint_id, protocol, operation, address,
			request, response, status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.EndpointID, string(log.Protocol), log.Operation, log.Address,
		log.Request, log.Response, log.Status, log.Error, log.LatencyMs, log.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "SQLite", "AppendCallLog", "insert")
	}
	return nil
}

// RecentCalls returns the newest call records, newest first
func (s *SQLite) RecentCalls(ctx context.Context, limit int) ([]types.CallLog, error) {
	return s.callLogs(ctx, "RecentCalls", "", limit)
}

// ErrorLogs returns the newest failed call records, newest first
func (s *SQLite) ErrorLogs(ctx context.Context, limit int) ([]types.CallLog, error) {
	return s.callLogs(ctx, "ErrorLogs", "WHERE error != ''", limit)
}

func (s *SQLite) callLogs(ctx context.Context, method, where string, limit int) ([]types.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, endpoint_id, protocol, operation, address, request, response,
			status, error, latency_ms, created_at
		FROM call_logs `+where+` ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "SQLite", method, "query")
	}
	defer rows.Close()

	var out []types.CallLog
	for rows.Next() {
		var log types.CallLog
		var protocol string
		if err := rows.Scan(&log.ID, &log.EndpointID, &protocol, &log.Operation, &log.Address,
			&log.Request, &log.Response, &log.Status, &log.Error, &log.LatencyMs, &log.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "SQLite", method, "scan")
		}
		log.Protocol = types.Protocol(protocol)
		out = append(out, log)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) deleteByID(ctx context.Context, method, query, id string) error {
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, "SQLite", method, "delete")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(errors.ErrNotFound, "SQLite", method, "lookup "+id)
	}
	return nil
}
