package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
)

var _ Store = (*PostgresStore)(nil)

// DefaultTxTimeout bounds a registration transaction when the caller's
// context carries no deadline. The critical section touches one entity row
// and one ledger row, so it should finish well under a second.
const DefaultTxTimeout = 750 * time.Millisecond

const uniqueViolation = "23505"

const entityColumns = `id, kind, title, description, capacity, roster, scheduled_start,
	is_active, format, online_link, address, creator_id, created_at, updated_at`

const registrationColumns = `id, entity_id, entity_kind, user_id, status,
	registered_at, cancelled_at, cancellation_reason`

const requestColumns = `id, user_id, kind, title, description, capacity, scheduled_start,
	format, online_link, address, status, rejection_reason, entity_id, created_at, updated_at`

// PostgresStore is a Store backed by PostgreSQL through pgx. It uses pgx
// directly (no ORM) and serialises work on one entity with row-level locks.
type PostgresStore struct {
	db        *pgxpool.Pool
	txTimeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTxTimeout overrides DefaultTxTimeout.
func WithTxTimeout(d time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, txTimeout: DefaultTxTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withTx runs fn in a transaction that commits only if fn succeeds.
func (s *PostgresStore) withTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) (err error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEntity(ctx context.Context, e *model.Entity, seed *model.Registration) error {
	return s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return insertEntity(ctx, tx, e, seed)
	})
}

func (s *PostgresStore) GetEntity(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	e, err := scanEntity(s.db.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 AND kind = $2`,
		ref.ID, ref.Kind,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policy.NotFound(ref.Kind)
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// ListEntities returns all entities of kind ordered by creation time descending.
func (s *PostgresStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE kind = $1
		 ORDER BY created_at DESC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, *e)
	}
	return entities, rows.Err()
}

func (s *PostgresStore) SetActive(ctx context.Context, ref model.EntityRef, active bool, now time.Time) (*model.Entity, error) {
	var out *model.Entity
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		e, err := scanEntity(tx.QueryRow(ctx,
			`UPDATE entities SET is_active = $3, updated_at = $4
			 WHERE id = $1 AND kind = $2
			 RETURNING `+entityColumns,
			ref.ID, ref.Kind, active, now,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return policy.NotFound(ref.Kind)
			}
			return fmt.Errorf("set entity active: %w", err)
		}
		out = e
		return nil
	})
	return out, err
}

// Book performs a concurrency-safe registration inside one transaction.
//
// SELECT … FOR UPDATE takes an exclusive row lock on the entity. Any other
// transaction asking for the same lock blocks until this one commits or rolls
// back, so the duplicate check, the capacity check and the roster append are
// serialised per entity. Unrelated entities never contend. The partial unique
// index on active (user_id, entity_id) backs up the duplicate check.
func (s *PostgresStore) Book(ctx context.Context, req BookRequest) (*model.Registration, error) {
	var reg *model.Registration
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		entity, err := lockEntity(ctx, tx, req.Ref)
		if err != nil {
			return err
		}

		var hasActive bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM registrations
				WHERE entity_id = $1 AND user_id = $2 AND status = 'active'
			 )`,
			req.Ref.ID, req.UserID,
		).Scan(&hasActive)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}

		if err := policy.Admit(entity, hasActive, req.Now); err != nil {
			return err
		}

		reg = model.NewRegistration(req.RegistrationID, req.UserID, req.Ref, req.Now)
		if err := insertRegistration(ctx, tx, reg); err != nil {
			return err
		}

		reg.Entity, err = scanEntity(tx.QueryRow(ctx,
			`UPDATE entities
			 SET roster = array_append(roster, $2), updated_at = $3
			 WHERE id = $1
			 RETURNING `+entityColumns,
			req.Ref.ID, req.UserID, req.Now,
		))
		if err != nil {
			return fmt.Errorf("append roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Cancel locks the registration's entity row first, in the same order as
// Book, then the ledger row, so a concurrent Book on the entity cannot lose
// the roster removal.
func (s *PostgresStore) Cancel(ctx context.Context, req CancelRequest) (*model.Registration, error) {
	var reg *model.Registration
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		var entityID string
		var kind model.EntityKind
		err := tx.QueryRow(ctx,
			`SELECT entity_id, entity_kind FROM registrations WHERE id = $1`,
			req.RegistrationID,
		).Scan(&entityID, &kind)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return registrationNotFound()
			}
			return fmt.Errorf("find registration: %w", err)
		}

		entity, err := lockEntity(ctx, tx, model.EntityRef{Kind: kind, ID: entityID})
		if err != nil {
			return err
		}

		reg, err = scanRegistration(tx.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`,
			req.RegistrationID,
		))
		if err != nil {
			return fmt.Errorf("lock registration: %w", err)
		}

		if err := req.Policy.Authorize(reg, entity, req.UserID, req.Now); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE registrations
			 SET status = 'cancelled', cancelled_at = $2, cancellation_reason = $3
			 WHERE id = $1`,
			reg.ID, req.Now, req.Reason,
		)
		if err != nil {
			return fmt.Errorf("cancel registration: %w", err)
		}
		cancelledAt := req.Now
		reg.Status = model.StatusCancelled
		reg.CancelledAt = &cancelledAt
		reg.CancellationReason = req.Reason

		reg.Entity, err = scanEntity(tx.QueryRow(ctx,
			`UPDATE entities
			 SET roster = array_remove(roster, $2), updated_at = $3
			 WHERE id = $1
			 RETURNING `+entityColumns,
			entityID, reg.UserID, req.Now,
		))
		if err != nil {
			return fmt.Errorf("shrink roster: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *PostgresStore) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+prefixed("r", registrationColumns)+`, `+prefixed("e", entityColumns)+`
		 FROM registrations r
		 JOIN entities e ON e.id = r.entity_id
		 WHERE r.id = $1`,
		id,
	)
	reg, err := scanResolved(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, registrationNotFound()
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// ListByUser returns all registrations of a user, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+prefixed("r", registrationColumns)+`, `+prefixed("e", entityColumns)+`
		 FROM registrations r
		 JOIN entities e ON e.id = r.entity_id
		 WHERE r.user_id = $1
		 ORDER BY r.registered_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	regs := []model.Registration{}
	for rows.Next() {
		reg, err := scanResolved(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

func (s *PostgresStore) FindActive(ctx context.Context, userID string, ref model.EntityRef) (*model.Registration, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+prefixed("r", registrationColumns)+`, `+prefixed("e", entityColumns)+`
		 FROM registrations r
		 JOIN entities e ON e.id = r.entity_id
		 WHERE r.user_id = $1 AND r.entity_id = $2 AND r.entity_kind = $3 AND r.status = 'active'`,
		userID, ref.ID, ref.Kind,
	)
	reg, err := scanResolved(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active registration: %w", err)
	}
	return reg, nil
}

func (s *PostgresStore) RosterDrift(ctx context.Context) ([]model.RosterDrift, error) {
	rows, err := s.db.Query(ctx,
		`SELECT e.id, e.capacity, e.roster,
		        COALESCE(array_agg(r.user_id) FILTER (WHERE r.id IS NOT NULL), '{}')
		 FROM entities e
		 LEFT JOIN registrations r ON r.entity_id = e.id AND r.status = 'active'
		 GROUP BY e.id, e.capacity, e.roster`,
	)
	if err != nil {
		return nil, fmt.Errorf("roster drift: %w", err)
	}
	defer rows.Close()

	var drifts []model.RosterDrift
	for rows.Next() {
		var (
			id       string
			capacity int
			roster   []string
			active   []string
		)
		if err := rows.Scan(&id, &capacity, &roster, &active); err != nil {
			return nil, fmt.Errorf("scan roster drift: %w", err)
		}
		if d := computeDrift(id, capacity, roster, active); d != nil {
			drifts = append(drifts, *d)
		}
	}
	return drifts, rows.Err()
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *model.EntityRequest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO entity_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		req.ID, req.UserID, req.Kind, req.Title, req.Description, req.Capacity, req.ScheduledStart,
		req.Format, req.OnlineLink, req.Address, req.Status, req.RejectionReason, nullable(req.EntityID),
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrDuplicateRequest
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.EntityRequest, error) {
	r, err := scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM entity_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, requestNotFound()
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRequestsByUser(ctx context.Context, userID string) ([]model.EntityRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM entity_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.EntityRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM entity_requests WHERE status = $1 ORDER BY created_at DESC`, status)
}

// ApproveRequest locks the request row, so of two concurrent approvals the
// second sees the approved status and creates nothing.
func (s *PostgresStore) ApproveRequest(ctx context.Context, id string, e *model.Entity, seed *model.Registration, now time.Time) (*model.EntityRequest, error) {
	var out *model.EntityRequest
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockPendingRequest(ctx, tx, id); err != nil {
			return err
		}
		if err := insertEntity(ctx, tx, e, seed); err != nil {
			return err
		}
		r, err := scanRequest(tx.QueryRow(ctx,
			`UPDATE entity_requests SET status = 'approved', entity_id = $2, updated_at = $3
			 WHERE id = $1
			 RETURNING `+requestColumns,
			id, e.ID, now,
		))
		if err != nil {
			return fmt.Errorf("approve request: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *PostgresStore) RejectRequest(ctx context.Context, id, reason string, now time.Time) (*model.EntityRequest, error) {
	var out *model.EntityRequest
	err := s.withTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := lockPendingRequest(ctx, tx, id); err != nil {
			return err
		}
		r, err := scanRequest(tx.QueryRow(ctx,
			`UPDATE entity_requests SET status = 'rejected', rejection_reason = $2, updated_at = $3
			 WHERE id = $1
			 RETURNING `+requestColumns,
			id, reason, now,
		))
		if err != nil {
			return fmt.Errorf("reject request: %w", err)
		}
		out = r
		return nil
	})
	return out, err
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...any) ([]model.EntityRequest, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := []model.EntityRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// lockPendingRequest takes the request row lock and fails unless the request
// is still pending.
func lockPendingRequest(ctx context.Context, tx pgx.Tx, id string) error {
	var status model.RequestStatus
	err := tx.QueryRow(ctx,
		`SELECT status FROM entity_requests WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return requestNotFound()
		}
		return fmt.Errorf("lock request row: %w", err)
	}
	if status != model.RequestPending {
		return model.ErrAlreadyProcessed
	}
	return nil
}

func insertEntity(ctx context.Context, tx pgx.Tx, e *model.Entity, seed *model.Registration) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO entities (`+entityColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.Kind, e.Title, e.Description, e.Capacity, rosterOrEmpty(e.Roster), e.ScheduledStart,
		e.IsActive, e.Format, e.OnlineLink, e.Address, e.CreatorID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	if seed != nil {
		return insertRegistration(ctx, tx, seed)
	}
	return nil
}

// lockEntity reads the entity row with an exclusive lock held until the
// transaction ends.
func lockEntity(ctx context.Context, tx pgx.Tx, ref model.EntityRef) (*model.Entity, error) {
	e, err := scanEntity(tx.QueryRow(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE id = $1 AND kind = $2
		 FOR UPDATE`,
		ref.ID, ref.Kind,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, policy.NotFound(ref.Kind)
		}
		return nil, fmt.Errorf("lock entity row: %w", err)
	}
	return e, nil
}

func insertRegistration(ctx context.Context, tx pgx.Tx, reg *model.Registration) error {
	ref := reg.Ref()
	_, err := tx.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reg.ID, ref.ID, ref.Kind, reg.UserID, reg.Status, reg.RegisteredAt, reg.CancelledAt, reg.CancellationReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.NewError(model.KindDuplicateRegistration, "you are already registered for this %s", ref.Kind.Noun())
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var e model.Entity
	err := row.Scan(
		&e.ID, &e.Kind, &e.Title, &e.Description, &e.Capacity, &e.Roster, &e.ScheduledStart,
		&e.IsActive, &e.Format, &e.OnlineLink, &e.Address, &e.CreatorID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Roster = rosterOrEmpty(e.Roster)
	return &e, nil
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var (
		reg      model.Registration
		entityID string
		kind     model.EntityKind
	)
	err := row.Scan(
		&reg.ID, &entityID, &kind, &reg.UserID, &reg.Status,
		&reg.RegisteredAt, &reg.CancelledAt, &reg.CancellationReason,
	)
	if err != nil {
		return nil, err
	}
	reg.SetRef(model.EntityRef{Kind: kind, ID: entityID})
	return &reg, nil
}

// scanResolved scans a registration joined with its entity.
func scanResolved(row pgx.Row) (*model.Registration, error) {
	var (
		reg      model.Registration
		e        model.Entity
		entityID string
		kind     model.EntityKind
	)
	err := row.Scan(
		&reg.ID, &entityID, &kind, &reg.UserID, &reg.Status,
		&reg.RegisteredAt, &reg.CancelledAt, &reg.CancellationReason,
		&e.ID, &e.Kind, &e.Title, &e.Description, &e.Capacity, &e.Roster, &e.ScheduledStart,
		&e.IsActive, &e.Format, &e.OnlineLink, &e.Address, &e.CreatorID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	reg.SetRef(model.EntityRef{Kind: kind, ID: entityID})
	e.Roster = rosterOrEmpty(e.Roster)
	reg.Entity = &e
	return &reg, nil
}

func scanRequest(row pgx.Row) (*model.EntityRequest, error) {
	var (
		r        model.EntityRequest
		entityID *string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.Kind, &r.Title, &r.Description, &r.Capacity, &r.ScheduledStart,
		&r.Format, &r.OnlineLink, &r.Address, &r.Status, &r.RejectionReason, &entityID,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if entityID != nil {
		r.EntityID = *entityID
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func rosterOrEmpty(r []string) []string {
	if r == nil {
		return []string{}
	}
	return r
}
