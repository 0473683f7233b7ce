package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a lookup by id/key matches no row.
var ErrNotFound = errors.New("not found")

// Repository is the storage layer for the orchestration core: transactional
// Postgres access with row-level locking and unique constraints, following
// apicall's hand-rolled database/sql style (no ORM).
type Repository struct {
	conn    *Connection
	batcher *CallUpdateBatcher
}

// NewRepository wires a Repository around an open Connection, starting the
// background call-log batch flusher (§10.4 note: adapted from apicall's
// LogBatcher).
func NewRepository(conn *Connection) *Repository {
	repo := &Repository{
		conn:    conn,
		batcher: NewCallUpdateBatcher(conn.DB),
	}
	repo.batcher.Start()
	return repo
}

// Close releases the repository's background resources.
func (r *Repository) Close() {
	if r.batcher != nil {
		r.batcher.Stop()
	}
}

// DB returns the underlying *sql.DB, for components (migrations, advisory
// locks) that need raw access.
func (r *Repository) DB() *sql.DB {
	return r.conn.DB
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), the mechanism idempotency throughout this repository
// relies on (§4.6, §4.7, §4.8).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// --- Tenant ---

// GetTenant loads a Tenant by id.
func (r *Repository) GetTenant(id int64) (*Tenant, error) {
	const q = `
		SELECT id, name, credits, concurrent_calls_limit, individual_prompt_id, complete_prompt_id, created_at, updated_at
		FROM tenants WHERE id = $1
	`
	var t Tenant
	err := r.conn.DB.QueryRow(q, id).Scan(
		&t.ID, &t.Name, &t.Credits, &t.ConcurrentCallsLimit,
		&t.IndividualPromptID, &t.CompletePromptID, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading tenant %d: %w", id, err)
	}
	return &t, nil
}

// --- Agent ---

// GetAgent loads an Agent scoped to its owning tenant.
func (r *Repository) GetAgent(tenantID, agentID int64) (*Agent, error) {
	const q = `
		SELECT id, tenant_id, name, provider_agent_id, created_at
		FROM agents WHERE id = $1 AND tenant_id = $2
	`
	var a Agent
	err := r.conn.DB.QueryRow(q, agentID, tenantID).Scan(&a.ID, &a.TenantID, &a.Name, &a.ProviderAgentID, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %d: %w", agentID, err)
	}
	return &a, nil
}

// --- Contact ---

// GetContact loads a Contact by its (tenant, phone) unique key.
func (r *Repository) GetContact(tenantID int64, phone string) (*Contact, error) {
	const q = `
		SELECT id, tenant_id, phone, name, email, company, tags,
		       is_auto_created, auto_creation_source, auto_created_from_call_id, created_at
		FROM contacts WHERE tenant_id = $1 AND phone = $2
	`
	var c Contact
	err := r.conn.DB.QueryRow(q, tenantID, phone).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &c.Company, &c.Tags,
		&c.IsAutoCreated, &c.AutoCreationSource, &c.AutoCreatedFromCallID, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact %s/%d: %w", phone, tenantID, err)
	}
	return &c, nil
}

// GetContactByID loads a Contact by its primary key, scoped to tenant.
func (r *Repository) GetContactByID(tenantID, contactID int64) (*Contact, error) {
	const q = `
		SELECT id, tenant_id, phone, name, email, company, tags,
		       is_auto_created, auto_creation_source, auto_created_from_call_id, created_at
		FROM contacts WHERE tenant_id = $1 AND id = $2
	`
	var c Contact
	err := r.conn.DB.QueryRow(q, tenantID, contactID).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &c.Company, &c.Tags,
		&c.IsAutoCreated, &c.AutoCreationSource, &c.AutoCreatedFromCallID, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading contact %d: %w", contactID, err)
	}
	return &c, nil
}

// FindOrCreateContact implements the §4.6 step-6 idempotent auto-create:
// "on conflict do nothing" on (tenant_id, phone), followed by a read-back so
// the caller always gets the row that exists, whether it created it or not.
func (r *Repository) FindOrCreateContact(c *Contact) (contact *Contact, created bool, err error) {
	const q = `
		INSERT INTO contacts (tenant_id, phone, name, email, company, is_auto_created, auto_creation_source, auto_created_from_call_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant_id, phone) DO NOTHING
	`
	res, err := r.conn.DB.Exec(q, c.TenantID, c.Phone, c.Name, c.Email, c.Company, c.IsAutoCreated, c.AutoCreationSource, c.AutoCreatedFromCallID)
	if err != nil {
		return nil, false, fmt.Errorf("inserting contact: %w", err)
	}
	rows, _ := res.RowsAffected()

	existing, err := r.GetContact(c.TenantID, c.Phone)
	if err != nil {
		return nil, false, fmt.Errorf("reading back contact: %w", err)
	}
	return existing, rows > 0, nil
}

// --- Call ---

const callColumns = `
	id, tenant_id, agent_id, contact_id, execution_id, direction, phone,
	lifecycle_status, ringing_started_at, call_answered_at, call_disconnected_at,
	duration_seconds, duration_minutes, credits_used, hangup_by, hangup_reason,
	hangup_provider_code, provider_payload, campaign_id, created_at, updated_at
`

func scanCall(row *sql.Row) (*Call, error) {
	var c Call
	var payload []byte
	err := row.Scan(
		&c.ID, &c.TenantID, &c.AgentID, &c.ContactID, &c.ExecutionID, &c.Direction, &c.Phone,
		&c.LifecycleStatus, &c.RingingStartedAt, &c.CallAnsweredAt, &c.CallDisconnectedAt,
		&c.DurationSeconds, &c.DurationMinutes, &c.CreditsUsed, &c.HangupBy, &c.HangupReason,
		&c.HangupProviderCode, &payload, &c.CampaignID, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		c.ProviderPayload = json.RawMessage(payload)
	}
	return &c, nil
}

// GetCallByExecutionID looks up a Call by the voice provider's execution id,
// the sole correlator for inbound webhooks (§4.6, Open Question 1).
func (r *Repository) GetCallByExecutionID(executionID string) (*Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls WHERE execution_id = $1`, callColumns)
	c, err := scanCall(r.conn.DB.QueryRow(q, executionID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading call by execution id %s: %w", executionID, err)
	}
	return c, nil
}

// GetCall loads a Call by its internal id.
func (r *Repository) GetCall(id int64) (*Call, error) {
	q := fmt.Sprintf(`SELECT %s FROM calls WHERE id = $1`, callColumns)
	c, err := scanCall(r.conn.DB.QueryRow(q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading call %d: %w", id, err)
	}
	return c, nil
}

// CreatePlaceholderCall creates a Call row ahead of provider confirmation, or
// when a lifecycle/completion webhook arrives before the dispatch path has
// recorded one (§4.6: "if absent, create a placeholder"). When c.ID is
// already set, the dispatch path is supplying the id ConcurrencyManager
// reserved the ActiveSlot under (invariant 3, §8) and it is inserted
// explicitly; webhook ingestion leaves c.ID zero and lets Postgres assign
// one from the same sequence.
func (r *Repository) CreatePlaceholderCall(c *Call) (*Call, error) {
	if c.ID != 0 {
		const q = `
			INSERT INTO calls (id, tenant_id, agent_id, contact_id, execution_id, direction, phone, lifecycle_status, campaign_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`
		var id int64
		err := r.conn.DB.QueryRow(q, c.ID, c.TenantID, c.AgentID, c.ContactID, c.ExecutionID, c.Direction, c.Phone, c.LifecycleStatus, c.CampaignID).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("creating call %d: %w", c.ID, err)
		}
		c.ID = id
		return c, nil
	}

	const q = `
		INSERT INTO calls (tenant_id, agent_id, contact_id, execution_id, direction, phone, lifecycle_status, campaign_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id) WHERE execution_id <> '' DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.conn.DB.QueryRow(q, c.TenantID, c.AgentID, c.ContactID, c.ExecutionID, c.Direction, c.Phone, c.LifecycleStatus, c.CampaignID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// conflict: another writer already created this execution_id
		return r.GetCallByExecutionID(c.ExecutionID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating call: %w", err)
	}
	c.ID = id
	return c, nil
}

// AttachExecutionID records the voice provider's acknowledgement against a
// Call the dispatch path just placed, keyed by the call's own id rather
// than execution_id (which is still empty in the database at this point,
// and shared by every just-created placeholder).
func (r *Repository) AttachExecutionID(callID int64, executionID, lifecycleStatus string) error {
	const q = `
		UPDATE calls SET execution_id = $1, lifecycle_status = $2, updated_at = now() WHERE id = $3
	`
	if _, err := r.conn.DB.Exec(q, executionID, lifecycleStatus, callID); err != nil {
		return fmt.Errorf("attaching execution id to call %d: %w", callID, err)
	}
	return nil
}

// UpdateCallLifecycle applies a single lifecycle-event transition (§4.6). It
// never touches ActiveSlot — release happens only at completion.
func (r *Repository) UpdateCallLifecycle(executionID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	set := ""
	args := []interface{}{}
	i := 1
	for col, val := range fields {
		if set != "" {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", col, i)
		args = append(args, val)
		i++
	}
	args = append(args, executionID)
	q := fmt.Sprintf(`UPDATE calls SET %s, updated_at = now() WHERE execution_id = $%d`, set, i)
	if _, err := r.conn.DB.Exec(q, args...); err != nil {
		return fmt.Errorf("updating call lifecycle for %s: %w", executionID, err)
	}
	return nil
}

// CompleteCall applies the full §4.6 completion update in one statement:
// status, duration, credits, and lifecycle transition together.
func (r *Repository) CompleteCall(c *Call) error {
	const q = `
		UPDATE calls SET
			lifecycle_status = $1,
			duration_seconds = $2,
			duration_minutes = $3,
			credits_used = $4,
			hangup_by = $5,
			hangup_reason = $6,
			hangup_provider_code = $7,
			provider_payload = $8,
			call_disconnected_at = COALESCE(call_disconnected_at, now()),
			updated_at = now()
		WHERE execution_id = $9
	`
	_, err := r.conn.DB.Exec(q,
		c.LifecycleStatus, c.DurationSeconds, c.DurationMinutes, c.CreditsUsed,
		c.HangupBy, c.HangupReason, c.HangupProviderCode, []byte(c.ProviderPayload), c.ExecutionID,
	)
	if err != nil {
		return fmt.Errorf("completing call %s: %w", c.ExecutionID, err)
	}
	return nil
}

// ListStuckCalls returns ids of non-terminal calls created before the
// cutoff, the candidate set for the reconciler's sweep (§12).
func (r *Repository) ListStuckCalls(before time.Time) ([]int64, error) {
	rows, err := r.conn.DB.Query(`
		SELECT id FROM calls
		WHERE lifecycle_status NOT IN ($1, $2, $3) AND created_at < $4
	`, LifecycleCompleted, LifecycleFailed, LifecycleCancelled, before)
	if err != nil {
		return nil, fmt.Errorf("listing stuck calls: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stuck call id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Transcript ---

// HasTranscript reports whether a Transcript already exists for a Call,
// part of §4.6 step-4 idempotence (Call↔Transcript is 1:1).
func (r *Repository) HasTranscript(callID int64) (bool, error) {
	var exists bool
	err := r.conn.DB.QueryRow(`SELECT EXISTS(SELECT 1 FROM transcripts WHERE call_id = $1)`, callID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking transcript existence for call %d: %w", callID, err)
	}
	return exists, nil
}

// CreateTranscript inserts a Transcript, no-op if one already exists.
func (r *Repository) CreateTranscript(t *Transcript) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("marshaling transcript segments: %w", err)
	}
	const q = `
		INSERT INTO transcripts (call_id, tenant_id, content, segments)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (call_id) DO NOTHING
	`
	if _, err := r.conn.DB.Exec(q, t.CallID, t.TenantID, t.Content, segments); err != nil {
		return fmt.Errorf("creating transcript for call %d: %w", t.CallID, err)
	}
	return nil
}
