package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"k8s.io/klog/v2"
)

// ErrNotFound is returned by Get/Update when no record matches the id.
var ErrNotFound = errors.New("record: no such environment")

// ErrConflict is returned by Update when optimistic-concurrency
// retries are exhausted.
var ErrConflict = errors.New("record: concurrent update lost the race")

// ErrInvariantViolation is returned when a mutator would leave the
// record in a state that violates one of spec.md §3's invariants.
var ErrInvariantViolation = errors.New("record: mutation violates a record invariant")

const maxUpdateRetries = 5

// Filter narrows a List call.
type Filter struct {
	OwnerID    string
	State      State
	TemplateID string
}

// Store is the Environment Record Store, backed by a relational
// database through database/sql + sqlx, matching the teacher's own
// go.mod (lib/pq + jmoiron/sqlx were already indirect dependencies
// pulled in transitively by its Helm integration; this is their first
// real use in this codebase).
type Store struct {
	db *sqlx.DB
}

// Open connects to the configured database and verifies connectivity.
func Open(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to record store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// row is the wire shape sqlx scans into; EnvironmentRecord itself
// stays free of db tags since its JSON-ish fields need manual
// marshaling through jsonb columns.
type row struct {
	ID             string         `db:"id"`
	OwnerID        string         `db:"owner_id"`
	TemplateID     string         `db:"template_id"`
	DisplayName    string         `db:"display_name"`
	SanitizedName  string         `db:"sanitized_name"`
	CRName         string         `db:"cr_name"`
	CRNamespace    string         `db:"cr_namespace"`
	WorkloadName   string         `db:"workload_name"`
	State          string         `db:"state"`
	StateMessage   string         `db:"state_message"`
	AccessURL      sql.NullString `db:"access_url"`
	DeclaredGit    []byte         `db:"declared_git"`
	DeclaredPorts  []byte         `db:"declared_ports"`
	DeclaredEnv    []byte         `db:"declared_env"`
	DeclaredRes    []byte         `db:"declared_resources"`
	CreatedAt      time.Time      `db:"created_at"`
	StartedAt      sql.NullTime   `db:"started_at"`
	StoppedAt      sql.NullTime   `db:"stopped_at"`
	LastAccessAt   sql.NullTime   `db:"last_access_at"`
	ExpiresAt      time.Time      `db:"expires_at"`
	Version        int64          `db:"version"`
}

func (r *row) toRecord() (*EnvironmentRecord, error) {
	rec := &EnvironmentRecord{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		TemplateID:    r.TemplateID,
		DisplayName:   r.DisplayName,
		SanitizedName: r.SanitizedName,
		CRName:        r.CRName,
		CRNamespace:   r.CRNamespace,
		WorkloadName:  r.WorkloadName,
		State:         State(r.State),
		StateMessage:  r.StateMessage,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		version:       r.Version,
	}
	if r.AccessURL.Valid {
		url := r.AccessURL.String
		rec.AccessURL = &url
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		rec.StartedAt = &t
	}
	if r.StoppedAt.Valid {
		t := r.StoppedAt.Time
		rec.StoppedAt = &t
	}
	if r.LastAccessAt.Valid {
		t := r.LastAccessAt.Time
		rec.LastAccessAt = &t
	}
	if err := unmarshalIfPresent(r.DeclaredGit, &rec.DeclaredGit); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(r.DeclaredPorts, &rec.DeclaredPorts); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(r.DeclaredEnv, &rec.DeclaredEnv); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(r.DeclaredRes, &rec.DeclaredResources); err != nil {
		return nil, err
	}
	return rec, nil
}

func unmarshalIfPresent(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// Get loads a single record by id.
func (s *Store) Get(ctx context.Context, id string) (*EnvironmentRecord, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT * FROM environment_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", id, err)
	}
	return r.toRecord()
}

// List returns every record matching the filter, ordered by creation
// time.
func (s *Store) List(ctx context.Context, filter Filter) ([]*EnvironmentRecord, error) {
	query := `SELECT * FROM environment_records WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.OwnerID != "" {
		query += fmt.Sprintf(" AND owner_id = $%d", argN)
		args = append(args, filter.OwnerID)
		argN++
	}
	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argN)
		args = append(args, string(filter.State))
		argN++
	}
	if filter.TemplateID != "" {
		query += fmt.Sprintf(" AND template_id = $%d", argN)
		args = append(args, filter.TemplateID)
		argN++
	}
	query += " ORDER BY created_at ASC"

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	records := make([]*EnvironmentRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Create inserts a new record, generating its id if unset. New records
// always start in Pending per spec.md §3's lifecycle description.
func (s *Store) Create(ctx context.Context, rec *EnvironmentRecord) (*EnvironmentRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.State == "" {
		rec.State = StatePending
	}
	if err := checkInvariants(rec); err != nil {
		return nil, err
	}

	declaredGit, err := json.Marshal(rec.DeclaredGit)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_git: %w", err)
	}
	declaredPorts, err := json.Marshal(rec.DeclaredPorts)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_ports: %w", err)
	}
	declaredEnv, err := json.Marshal(rec.DeclaredEnv)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_env: %w", err)
	}
	declaredRes, err := json.Marshal(rec.DeclaredResources)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_resources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO environment_records (
			id, owner_id, template_id, display_name, sanitized_name,
			cr_name, cr_namespace, workload_name, state, state_message,
			access_url, declared_git, declared_ports, declared_env,
			declared_resources, created_at, expires_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, 1
		)`,
		rec.ID, rec.OwnerID, rec.TemplateID, rec.DisplayName, rec.SanitizedName,
		rec.CRName, rec.CRNamespace, rec.WorkloadName, string(rec.State), rec.StateMessage,
		rec.AccessURL, declaredGit, declaredPorts, declaredEnv,
		declaredRes, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	rec.version = 1
	return rec, nil
}

// Mutator mutates a record in place; it returns an error to abort the
// update without committing.
type Mutator func(*EnvironmentRecord) error

// Update reads the row, applies mutate, and commits atomically using
// optimistic concurrency on the version column. It makes up to
// maxUpdateRetries attempts; if every attempt loses the race it
// surfaces ErrConflict.
func (s *Store) Update(ctx context.Context, id string, mutate Mutator) (*EnvironmentRecord, error) {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(rec); err != nil {
			return nil, err
		}
		if err := checkInvariants(rec); err != nil {
			return nil, err
		}

		updated, err := s.commit(ctx, rec)
		if errors.Is(err, ErrConflict) {
			klog.V(4).Infof("Update(%s): lost race on attempt %d, retrying", id, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrConflict
}

func (s *Store) commit(ctx context.Context, rec *EnvironmentRecord) (*EnvironmentRecord, error) {
	declaredGit, err := json.Marshal(rec.DeclaredGit)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_git: %w", err)
	}
	declaredPorts, err := json.Marshal(rec.DeclaredPorts)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_ports: %w", err)
	}
	declaredEnv, err := json.Marshal(rec.DeclaredEnv)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_env: %w", err)
	}
	declaredRes, err := json.Marshal(rec.DeclaredResources)
	if err != nil {
		return nil, fmt.Errorf("marshaling declared_resources: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE environment_records SET
			state = $1, state_message = $2, access_url = $3,
			cr_name = $4, cr_namespace = $5, workload_name = $6,
			declared_git = $7, declared_ports = $8, declared_env = $9,
			declared_resources = $10, started_at = $11, stopped_at = $12,
			last_access_at = $13, expires_at = $14, version = version + 1
		WHERE id = $15 AND version = $16`,
		string(rec.State), rec.StateMessage, rec.AccessURL,
		rec.CRName, rec.CRNamespace, rec.WorkloadName,
		declaredGit, declaredPorts, declaredEnv,
		declaredRes, rec.StartedAt, rec.StoppedAt,
		rec.LastAccessAt, rec.ExpiresAt, rec.ID, rec.version,
	)
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", rec.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking update result for %s: %w", rec.ID, err)
	}
	if affected == 0 {
		return nil, ErrConflict
	}
	rec.version++
	return rec, nil
}

// Delete permanently removes a record. Per spec.md §3 invariant 3, a
// record never transitions out of Deleted — it is removed, not
// resurrected.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM environment_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting record %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
