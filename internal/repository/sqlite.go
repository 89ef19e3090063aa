package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/club-registration/internal/model"
	"github.com/Shivanand-hulikatti/club-registration/internal/policy"
)

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL CHECK (kind IN ('club', 'event')),
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	capacity        INTEGER NOT NULL CHECK (capacity > 0),
	roster_size     INTEGER NOT NULL DEFAULT 0,
	scheduled_start INTEGER NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	format          TEXT NOT NULL DEFAULT 'offline',
	online_link     TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	creator_id      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	CHECK (roster_size >= 0 AND roster_size <= capacity)
);

CREATE TABLE IF NOT EXISTS roster_members (
	entity_id TEXT NOT NULL REFERENCES entities(id),
	user_id   TEXT NOT NULL,
	position  INTEGER NOT NULL,
	PRIMARY KEY (entity_id, user_id)
);

CREATE TABLE IF NOT EXISTS registrations (
	id                  TEXT PRIMARY KEY,
	entity_id           TEXT NOT NULL REFERENCES entities(id),
	entity_kind         TEXT NOT NULL,
	user_id             TEXT NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('active', 'cancelled')),
	registered_at       INTEGER NOT NULL,
	cancelled_at        INTEGER,
	cancellation_reason TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS registrations_one_active
	ON registrations (user_id, entity_id) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS registrations_by_user
	ON registrations (user_id, registered_at DESC);

CREATE TABLE IF NOT EXISTS entity_requests (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	kind             TEXT NOT NULL CHECK (kind IN ('club', 'event')),
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	capacity         INTEGER NOT NULL CHECK (capacity > 0),
	scheduled_start  INTEGER NOT NULL,
	format           TEXT NOT NULL DEFAULT 'offline',
	online_link      TEXT NOT NULL DEFAULT '',
	address          TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
	rejection_reason TEXT NOT NULL DEFAULT '',
	entity_id        TEXT REFERENCES entities(id),
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS entity_requests_one_open
	ON entity_requests (user_id, title) WHERE status IN ('pending', 'approved');
`

// SQLiteStore is a Store for single-node deployments. Instead of a row lock
// it admits with one atomic conditional update on the roster counter:
//
//	UPDATE entities SET roster_size = roster_size + 1
//	WHERE id = ? AND roster_size < capacity
//
// Zero affected rows means another registration took the last seat.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
// Use "file::memory:?cache=shared" for an ephemeral database.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time avoids "database is locked" under concurrent writes.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // Safe to call even if committed

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateEntity(ctx context.Context, e *model.Entity, seed *model.Registration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertEntity(ctx, tx, e, seed)
	})
}

func (s *SQLiteStore) insertEntity(ctx context.Context, tx *sql.Tx, e *model.Entity, seed *model.Registration) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, kind, title, description, capacity, roster_size, scheduled_start,
			is_active, format, online_link, address, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Title, e.Description, e.Capacity, len(e.Roster), unixNano(e.ScheduledStart),
		e.IsActive, string(e.Format), e.OnlineLink, e.Address, e.CreatorID, unixNano(e.CreatedAt), unixNano(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	for i, userID := range e.Roster {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roster_members (entity_id, user_id, position) VALUES (?, ?, ?)`,
			e.ID, userID, i,
		); err != nil {
			return fmt.Errorf("insert roster member: %w", err)
		}
	}
	if seed != nil {
		return s.insertRegistration(ctx, tx, seed)
	}
	return nil
}

func (s *SQLiteStore) GetEntity(ctx context.Context, ref model.EntityRef) (*model.Entity, error) {
	var e *model.Entity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = s.loadEntity(ctx, tx, ref)
		return err
	})
	return e, err
}

// ListEntities returns entities of kind ordered by creation time descending.
func (s *SQLiteStore) ListEntities(ctx context.Context, kind model.EntityKind) ([]model.Entity, error) {
	var out []model.Entity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM entities WHERE kind = ? ORDER BY created_at DESC`, string(kind))
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan entity id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			e, err := s.loadEntity(ctx, tx, model.EntityRef{Kind: kind, ID: id})
			if err != nil {
				return err
			}
			out = append(out, *e)
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) SetActive(ctx context.Context, ref model.EntityRef, active bool, now time.Time) (*model.Entity, error) {
	var e *model.Entity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET is_active = ?, updated_at = ? WHERE id = ? AND kind = ?`,
			active, unixNano(now), ref.ID, string(ref.Kind))
		if err != nil {
			return fmt.Errorf("set entity active: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return policy.NotFound(ref.Kind)
		}
		e, err = s.loadEntity(ctx, tx, ref)
		return err
	})
	return e, err
}

func (s *SQLiteStore) Book(ctx context.Context, req BookRequest) (*model.Registration, error) {
	var reg *model.Registration
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		entity, err := s.loadEntity(ctx, tx, req.Ref)
		if err != nil {
			return err
		}
		var hasActive bool
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM registrations WHERE entity_id = ? AND user_id = ? AND status = 'active')`,
			req.Ref.ID, req.UserID,
		).Scan(&hasActive)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if err := policy.Admit(entity, hasActive, req.Now); err != nil {
			return err
		}

		// The conditional update is the authoritative capacity check.
		res, err := tx.ExecContext(ctx,
			`UPDATE entities
			 SET roster_size = roster_size + 1, updated_at = ?
			 WHERE id = ? AND roster_size < capacity`,
			unixNano(req.Now), req.Ref.ID,
		)
		if err != nil {
			return fmt.Errorf("claim seat: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("claim seat rows affected: %w", err)
		} else if n == 0 {
			return model.NewError(model.KindCapacityExceeded, "this %s is full", req.Ref.Kind.Noun())
		}

		reg = model.NewRegistration(req.RegistrationID, req.UserID, req.Ref, req.Now)
		if err := s.insertRegistration(ctx, tx, reg); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO roster_members (entity_id, user_id, position)
			 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM roster_members WHERE entity_id = ?))`,
			req.Ref.ID, req.UserID, req.Ref.ID,
		); err != nil {
			return fmt.Errorf("append roster: %w", err)
		}

		reg.Entity, err = s.loadEntity(ctx, tx, req.Ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// Cancel flips the ledger row with a compare-and-swap on status, so a second
// cancellation racing this one affects no rows and reports already_cancelled.
func (s *SQLiteStore) Cancel(ctx context.Context, req CancelRequest) (*model.Registration, error) {
	var reg *model.Registration
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		reg, err = s.loadRegistration(ctx, tx, req.RegistrationID)
		if err != nil {
			return err
		}
		entity, err := s.loadEntity(ctx, tx, reg.Ref())
		if err != nil {
			return err
		}
		if err := req.Policy.Authorize(reg, entity, req.UserID, req.Now); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE registrations
			 SET status = 'cancelled', cancelled_at = ?, cancellation_reason = ?
			 WHERE id = ? AND status = 'active'`,
			unixNano(req.Now), req.Reason, reg.ID,
		)
		if err != nil {
			return fmt.Errorf("cancel registration: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrAlreadyCancelled
		}

		res, err = tx.ExecContext(ctx,
			`DELETE FROM roster_members WHERE entity_id = ? AND user_id = ?`,
			entity.ID, reg.UserID,
		)
		if err != nil {
			return fmt.Errorf("remove roster member: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE entities SET roster_size = roster_size - 1, updated_at = ? WHERE id = ? AND roster_size > 0`,
				unixNano(req.Now), entity.ID,
			); err != nil {
				return fmt.Errorf("release seat: %w", err)
			}
		}

		reg, err = s.loadRegistration(ctx, tx, req.RegistrationID)
		if err != nil {
			return err
		}
		reg.Entity, err = s.loadEntity(ctx, tx, reg.Ref())
		return err
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *SQLiteStore) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	var reg *model.Registration
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if reg, err = s.loadRegistration(ctx, tx, id); err != nil {
			return err
		}
		reg.Entity, err = s.loadEntity(ctx, tx, reg.Ref())
		return err
	})
	return reg, err
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string) ([]model.Registration, error) {
	return s.queryResolved(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE user_id = ? ORDER BY registered_at DESC, rowid DESC`,
		userID,
	)
}

func (s *SQLiteStore) FindActive(ctx context.Context, userID string, ref model.EntityRef) (*model.Registration, error) {
	regs, err := s.queryResolved(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = ? AND entity_id = ? AND entity_kind = ? AND status = 'active'`,
		userID, ref.ID, string(ref.Kind),
	)
	if err != nil || len(regs) == 0 {
		return nil, err
	}
	return &regs[0], nil
}

func (s *SQLiteStore) RosterDrift(ctx context.Context) ([]model.RosterDrift, error) {
	var drifts []model.RosterDrift
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, capacity, roster_size FROM entities`)
		if err != nil {
			return fmt.Errorf("roster drift: %w", err)
		}
		type counter struct {
			id               string
			capacity, stored int
		}
		var entities []counter
		for rows.Next() {
			var c counter
			if err := rows.Scan(&c.id, &c.capacity, &c.stored); err != nil {
				rows.Close()
				return fmt.Errorf("scan entity: %w", err)
			}
			entities = append(entities, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range entities {
			roster, err := s.column(ctx, tx, `SELECT user_id FROM roster_members WHERE entity_id = ? ORDER BY position`, c.id)
			if err != nil {
				return err
			}
			active, err := s.column(ctx, tx, `SELECT user_id FROM registrations WHERE entity_id = ? AND status = 'active'`, c.id)
			if err != nil {
				return err
			}
			d := computeDrift(c.id, c.capacity, roster, active)
			if d == nil && c.stored != len(roster) {
				d = &model.RosterDrift{EntityID: c.id, RosterOnly: []string{}, LedgerOnly: []string{}}
			}
			if d != nil {
				d.RosterSize = c.stored
				d.ActiveCount = len(active)
				drifts = append(drifts, *d)
			}
		}
		return nil
	})
	return drifts, err
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *model.EntityRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.UserID, string(req.Kind), req.Title, req.Description, req.Capacity, unixNano(req.ScheduledStart),
		string(req.Format), req.OnlineLink, req.Address, string(req.Status), req.RejectionReason,
		sql.NullString{String: req.EntityID, Valid: req.EntityID != ""},
		unixNano(req.CreatedAt), unixNano(req.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateRequest
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.EntityRequest, error) {
	var r *model.EntityRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		r, err = s.loadRequest(ctx, tx, id)
		return err
	})
	return r, err
}

func (s *SQLiteStore) ListRequestsByUser(ctx context.Context, userID string) ([]model.EntityRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM entity_requests WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
}

func (s *SQLiteStore) ListRequestsByStatus(ctx context.Context, status model.RequestStatus) ([]model.EntityRequest, error) {
	return s.queryRequests(ctx,
		`SELECT `+requestColumns+` FROM entity_requests WHERE status = ? ORDER BY created_at DESC, rowid DESC`, string(status))
}

// ApproveRequest flips the status with a compare-and-swap before inserting
// the entity; a request that is no longer pending affects no rows.
func (s *SQLiteStore) ApproveRequest(ctx context.Context, id string, e *model.Entity, seed *model.Registration, now time.Time) (*model.EntityRequest, error) {
	var r *model.EntityRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.insertEntity(ctx, tx, e, seed); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE entity_requests SET status = 'approved', entity_id = ?, updated_at = ?
			 WHERE id = ? AND status = 'pending'`,
			e.ID, unixNano(now), id,
		)
		if err != nil {
			return fmt.Errorf("approve request: %w", err)
		}
		if err := s.requireProcessed(ctx, tx, res, id); err != nil {
			return err
		}
		r, err = s.loadRequest(ctx, tx, id)
		return err
	})
	return r, err
}

func (s *SQLiteStore) RejectRequest(ctx context.Context, id, reason string, now time.Time) (*model.EntityRequest, error) {
	var r *model.EntityRequest
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE entity_requests SET status = 'rejected', rejection_reason = ?, updated_at = ?
			 WHERE id = ? AND status = 'pending'`,
			reason, unixNano(now), id,
		)
		if err != nil {
			return fmt.Errorf("reject request: %w", err)
		}
		if err := s.requireProcessed(ctx, tx, res, id); err != nil {
			return err
		}
		r, err = s.loadRequest(ctx, tx, id)
		return err
	})
	return r, err
}

// requireProcessed turns a status update that matched no pending row into
// not_found or already_processed.
func (s *SQLiteStore) requireProcessed(ctx context.Context, tx *sql.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("request rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.loadRequest(ctx, tx, id); err != nil {
		return err
	}
	return model.ErrAlreadyProcessed
}

func (s *SQLiteStore) loadRequest(ctx context.Context, tx *sql.Tx, id string) (*model.EntityRequest, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+requestColumns+` FROM entity_requests WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, requestNotFound()
	}
	return scanSQLiteRequest(rows)
}

func (s *SQLiteStore) queryRequests(ctx context.Context, query string, args ...any) ([]model.EntityRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	out := []model.EntityRequest{}
	for rows.Next() {
		r, err := scanSQLiteRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadEntity(ctx context.Context, tx *sql.Tx, ref model.EntityRef) (*model.Entity, error) {
	var (
		e                           model.Entity
		kind, format                string
		start, createdAt, updatedAt int64
		rosterSize                  int
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, kind, title, description, capacity, roster_size, scheduled_start,
			is_active, format, online_link, address, creator_id, created_at, updated_at
		FROM entities WHERE id = ? AND kind = ?`,
		ref.ID, string(ref.Kind),
	).Scan(&e.ID, &kind, &e.Title, &e.Description, &e.Capacity, &rosterSize, &start,
		&e.IsActive, &format, &e.OnlineLink, &e.Address, &e.CreatorID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, policy.NotFound(ref.Kind)
		}
		return nil, fmt.Errorf("get entity: %w", err)
	}
	e.Kind = model.EntityKind(kind)
	e.Format = model.Format(format)
	e.ScheduledStart = fromUnixNano(start)
	e.CreatedAt = fromUnixNano(createdAt)
	e.UpdatedAt = fromUnixNano(updatedAt)

	e.Roster, err = s.column(ctx, tx,
		`SELECT user_id FROM roster_members WHERE entity_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) loadRegistration(ctx context.Context, tx *sql.Tx, id string) (*model.Registration, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get registration: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, registrationNotFound()
	}
	return scanSQLiteRegistration(rows)
}

func (s *SQLiteStore) queryResolved(ctx context.Context, query string, args ...any) ([]model.Registration, error) {
	out := []model.Registration{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query registrations: %w", err)
		}
		for rows.Next() {
			reg, err := scanSQLiteRegistration(rows)
			if err != nil {
				rows.Close()
				return err
			}
			out = append(out, *reg)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range out {
			e, err := s.loadEntity(ctx, tx, out[i].Ref())
			if err != nil {
				return err
			}
			out[i].Entity = e
		}
		return nil
	})
	return out, err
}

func (s *SQLiteStore) insertRegistration(ctx context.Context, tx *sql.Tx, reg *model.Registration) error {
	ref := reg.Ref()
	var cancelledAt sql.NullInt64
	if reg.CancelledAt != nil {
		cancelledAt = sql.NullInt64{Int64: unixNano(*reg.CancelledAt), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO registrations (`+registrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.ID, ref.ID, string(ref.Kind), reg.UserID, string(reg.Status),
		unixNano(reg.RegisteredAt), cancelledAt, reg.CancellationReason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewError(model.KindDuplicateRegistration, "you are already registered for this %s", ref.Kind.Noun())
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) column(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query column: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSQLiteRegistration(rows *sql.Rows) (*model.Registration, error) {
	var (
		reg                    model.Registration
		entityID, kind, status string
		registeredAt           int64
		cancelledAt            sql.NullInt64
	)
	if err := rows.Scan(&reg.ID, &entityID, &kind, &reg.UserID, &status,
		&registeredAt, &cancelledAt, &reg.CancellationReason); err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.SetRef(model.EntityRef{Kind: model.EntityKind(kind), ID: entityID})
	reg.Status = model.RegistrationStatus(status)
	reg.RegisteredAt = fromUnixNano(registeredAt)
	if cancelledAt.Valid {
		at := fromUnixNano(cancelledAt.Int64)
		reg.CancelledAt = &at
	}
	return &reg, nil
}

func scanSQLiteRequest(rows *sql.Rows) (*model.EntityRequest, error) {
	var (
		r                           model.EntityRequest
		kind, format, status        string
		start, createdAt, updatedAt int64
		entityID                    sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.UserID, &kind, &r.Title, &r.Description, &r.Capacity, &start,
		&format, &r.OnlineLink, &r.Address, &status, &r.RejectionReason, &entityID,
		&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	r.Kind = model.EntityKind(kind)
	r.Format = model.Format(format)
	r.Status = model.RequestStatus(status)
	r.ScheduledStart = fromUnixNano(start)
	r.EntityID = entityID.String
	r.CreatedAt = fromUnixNano(createdAt)
	r.UpdatedAt = fromUnixNano(updatedAt)
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlite.Error
	return errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }
