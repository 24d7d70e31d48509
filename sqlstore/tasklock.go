package sqlstore

import (
	"context"
	"time"

	"github.com/featurebasedb/relstore/persistence"
)

// Ensure type implements interface.
var _ persistence.TaskLock = (*TaskLock)(nil)

// Lock table layout.
const (
	LockTableName    = "_task_lock"
	FormIDColumn     = "FORM_ID"
	TaskTypeColumn   = "TASK_TYPE"
	ExpirationColumn = "EXPIRATION_DATETIME"
)

// NewLockRelation returns the relation of the shared lock table.
func NewLockRelation(schema string) *persistence.Relation {
	return persistence.MustRelation(schema, LockTableName,
		persistence.NewStringField(FormIDColumn, false, 4096),
		persistence.NewStringField(TaskTypeColumn, false, 80),
		persistence.NewField(ExpirationColumn, persistence.DateTime, true),
	)
}

// lockRelation asserts the lock table once per Datastore.
func (ds *Datastore) lockRelation(ctx context.Context, user string) (*persistence.Relation, error) {
	ds.lockMu.Lock()
	defer ds.lockMu.Unlock()
	if ds.lockRel != nil {
		return ds.lockRel, nil
	}
	rel := NewLockRelation("")
	if err := ds.AssertRelation(ctx, rel, user); err != nil {
		return nil, err
	}
	ds.lockRel = rel
	return rel, nil
}

// CreateTaskLock returns a TaskLock acting for user.
func (ds *Datastore) CreateTaskLock(user string) persistence.TaskLock {
	return &TaskLock{ds: ds, user: user}
}

// TaskLock implements the expiring task lock over the lock table. Obtain and
// renew run while the dialect holds the table exclusively: the caller's row
// is written, expired rows are purged and of the rows left for the same form
// and task only the earliest-expiring one survives. The caller holds the
// lock if its own row is the survivor.
type TaskLock struct {
	ds   *Datastore
	user string
}

func (tl *TaskLock) ObtainLock(ctx context.Context, lockID, formID string, taskType persistence.TaskType) (bool, error) {
	return tl.claim(ctx, "obtain", lockID, formID, taskType)
}

func (tl *TaskLock) RenewLock(ctx context.Context, lockID, formID string, taskType persistence.TaskType) (bool, error) {
	return tl.claim(ctx, "renew", lockID, formID, taskType)
}

// ReleaseLock deletes lockID's row. A row that is already gone is not an
// error.
func (tl *TaskLock) ReleaseLock(ctx context.Context, lockID, formID string, taskType persistence.TaskType) (bool, error) {
	span, ctx := startSpan(ctx, "TaskLock.release", nil)
	defer span.Finish()
	start := time.Now()

	ds := tl.ds
	rel, err := ds.lockRelation(ctx, tl.user)
	if err != nil {
		return false, err
	}
	err = ds.deleteOne(ctx, ds.db, persistence.Key{Relation: rel, URI: lockID})
	if err != nil && !isNotFound(err) {
		observeLock("release", "error", start)
		return false, err
	}
	observeLock("release", "released", start)
	ds.logger.Debugf("released lock %s on %s/%s", lockID, formID, taskType)
	return true, nil
}

func (tl *TaskLock) claim(ctx context.Context, op, lockID, formID string, taskType persistence.TaskType) (bool, error) {
	span, ctx := startSpan(ctx, "TaskLock."+op, nil)
	defer span.Finish()
	start := time.Now()

	ds := tl.ds
	rel, err := ds.lockRelation(ctx, tl.user)
	if err != nil {
		return false, err
	}
	conn, err := ds.db.Conn(ctx)
	if err != nil {
		return false, persistence.WrapPersistence(err, "reserving lock connection")
	}
	defer conn.Close()

	var held bool
	err = ds.dialect.LockTable(ctx, conn, ds.schemaOf(rel), rel.Table(), func(q Querier) error {
		now, err := ds.lockTime(ctx, q)
		if err != nil {
			return err
		}
		p := &lockProtocol{
			ds:       ds,
			q:        q,
			rel:      rel,
			user:     tl.user,
			now:      now,
			lockID:   lockID,
			formID:   formID,
			taskType: taskType,
		}
		held, err = p.run(ctx, op == "renew")
		return err
	})

	switch {
	case err != nil:
		observeLock(op, "error", start)
		return false, err
	case held:
		observeLock(op, "held", start)
	default:
		observeLock(op, "lost", start)
	}
	ds.logger.Debugf("%s lock %s on %s/%s: held=%v", op, lockID, formID, taskType, held)
	return held, nil
}

// lockTime is the instant one obtain or renew runs at. Expiries written and
// purged by every process must share a timeline, so it comes from the
// database unless a lock clock was configured.
func (ds *Datastore) lockTime(ctx context.Context, q Querier) (time.Time, error) {
	if ds.lockNow != nil {
		return ds.lockNow().UTC().Truncate(persistence.TimestampResolution), nil
	}
	now, err := ds.dialect.Now(ctx, q)
	if err != nil {
		return time.Time{}, persistence.WrapPersistence(err, "reading database time")
	}
	return now.Truncate(persistence.TimestampResolution), nil
}

func observeLock(op, outcome string, start time.Time) {
	HistogramLockDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

// lockProtocol is one obtain or renew, run inside the exclusive section.
type lockProtocol struct {
	ds       *Datastore
	q        Querier
	rel      *persistence.Relation
	user     string
	now      time.Time
	lockID   string
	formID   string
	taskType persistence.TaskType
}

func (p *lockProtocol) field(name string) *persistence.Field {
	f, _ := p.rel.Field(name)
	return f
}

func (p *lockProtocol) col(name string) string {
	return p.ds.dialect.Quote(name)
}

func (p *lockProtocol) table() string {
	return p.ds.tableOf(p.rel)
}

func (p *lockProtocol) exec(ctx context.Context, s *stmt) error {
	if _, err := p.q.ExecContext(ctx, s.String(), s.args...); err != nil {
		return persistence.WrapPersistence(err, "updating "+p.table())
	}
	return nil
}

// whereTask writes the predicate selecting rows of this form and task.
func (p *lockProtocol) whereTask(s *stmt) error {
	s.write(" WHERE ", p.col(FormIDColumn), " = ")
	if err := s.bindValue(p.field(FormIDColumn), p.formID); err != nil {
		return err
	}
	s.write(" AND ", p.col(TaskTypeColumn), " = ")
	return s.bindValue(p.field(TaskTypeColumn), p.taskType.Name)
}

func (p *lockProtocol) run(ctx context.Context, renew bool) (bool, error) {
	expiration := p.now.Add(p.taskType.Timeout)

	existing, err := p.readOwn(ctx)
	if err != nil {
		return false, err
	}
	switch {
	case existing == nil && renew:
		return false, nil
	case existing != nil:
		gotForm := existing.String(p.field(FormIDColumn))
		gotType := existing.String(p.field(TaskTypeColumn))
		if gotForm != p.formID || gotType != p.taskType.Name {
			return false, persistence.NewErrLockMismatch(p.lockID, p.formID, p.taskType.Name, gotForm, gotType)
		}
		if err := p.refresh(ctx, existing, expiration); err != nil {
			return false, err
		}
	default:
		if err := p.insert(ctx, expiration); err != nil {
			return false, err
		}
	}

	// Purge every expired lock, whatever its form or task.
	s := newStmt(p.ds.dialect).write(
		"DELETE FROM ", p.table(), " WHERE ", p.col(ExpirationColumn), " IS NULL OR ", p.col(ExpirationColumn), " <= ",
	)
	if err := s.bindValue(p.field(ExpirationColumn), p.now); err != nil {
		return false, err
	}
	if err := p.exec(ctx, s); err != nil {
		return false, err
	}

	earliest, err := p.minExpiration(ctx)
	if err != nil || earliest == nil {
		return false, err
	}

	// Only the earliest expiring rows may keep the lock.
	s = newStmt(p.ds.dialect).write("DELETE FROM ", p.table())
	if err := p.whereTask(s); err != nil {
		return false, err
	}
	s.write(" AND ", p.col(ExpirationColumn), " > ")
	if err := s.bindValue(p.field(ExpirationColumn), earliest); err != nil {
		return false, err
	}
	if err := p.exec(ctx, s); err != nil {
		return false, err
	}

	n, err := p.count(ctx, func(s *stmt) error {
		if err := p.whereTask(s); err != nil {
			return err
		}
		s.write(" AND ", p.col(ExpirationColumn), " = ")
		return s.bindValue(p.field(ExpirationColumn), earliest)
	})
	if err != nil {
		return false, err
	}
	if n > 1 {
		// A tie with an existing holder: give way.
		if err := p.ds.deleteOne(ctx, p.q, persistence.Key{Relation: p.rel, URI: p.lockID}); err != nil && !isNotFound(err) {
			return false, err
		}
	}

	n, err = p.count(ctx, func(s *stmt) error {
		s.write(" WHERE ", p.col(persistence.URIColumn), " = ")
		return s.bindValue(p.rel.PrimaryKey(), p.lockID)
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// readOwn returns the caller's lock row, or nil.
func (p *lockProtocol) readOwn(ctx context.Context) (*persistence.Entity, error) {
	s := newStmt(p.ds.dialect).write(
		"SELECT ", columnList(p.ds.dialect, p.rel.Fields()), " FROM ", p.table(),
		" WHERE ", p.col(persistence.URIColumn), " = ",
	)
	if err := s.bindValue(p.rel.PrimaryKey(), p.lockID); err != nil {
		return nil, err
	}
	rows, err := p.q.QueryContext(ctx, s.String(), s.args...)
	if err != nil {
		return nil, persistence.WrapPersistence(err, "reading "+p.table())
	}
	es, err := scanEntities(rows, p.rel)
	if err != nil || len(es) == 0 {
		return nil, err
	}
	return es[0], nil
}

func (p *lockProtocol) insert(ctx context.Context, expiration time.Time) error {
	e := persistence.NewEntity(p.rel, p.user, p.now)
	if _, err := e.SetValue(p.rel.PrimaryKey(), p.lockID); err != nil {
		return err
	}
	if _, err := e.SetString(p.field(FormIDColumn), p.formID); err != nil {
		return err
	}
	if _, err := e.SetString(p.field(TaskTypeColumn), p.taskType.Name); err != nil {
		return err
	}
	if err := e.SetTime(p.field(ExpirationColumn), expiration); err != nil {
		return err
	}
	e.Touch(p.user, p.now)

	fields := p.rel.Fields()
	s := newStmt(p.ds.dialect).write(
		"INSERT INTO ", p.table(), " (", columnList(p.ds.dialect, fields), ") VALUES (",
	)
	for i, f := range fields {
		if i > 0 {
			s.write(", ")
		}
		if err := s.bindValue(f, e.Value(f)); err != nil {
			return err
		}
	}
	s.write(")")
	return p.exec(ctx, s)
}

func (p *lockProtocol) refresh(ctx context.Context, e *persistence.Entity, expiration time.Time) error {
	e.Touch(p.user, p.now)
	rel := p.rel
	s := newStmt(p.ds.dialect).write("UPDATE ", p.table(), " SET ", p.col(ExpirationColumn), " = ")
	if err := s.bindValue(p.field(ExpirationColumn), expiration); err != nil {
		return err
	}
	s.write(", ", p.col(persistence.LastUpdateDateColumn), " = ")
	if err := s.bindValue(rel.LastUpdateDate(), e.Value(rel.LastUpdateDate())); err != nil {
		return err
	}
	s.write(", ", p.col(persistence.LastUpdateURIUserColumn), " = ")
	if err := s.bindValue(rel.LastUpdateURIUser(), e.Value(rel.LastUpdateURIUser())); err != nil {
		return err
	}
	s.write(" WHERE ", p.col(persistence.URIColumn), " = ")
	if err := s.bindValue(rel.PrimaryKey(), p.lockID); err != nil {
		return err
	}
	return p.exec(ctx, s)
}

// minExpiration returns the earliest expiration among the rows of this form
// and task, or nil when there are none.
func (p *lockProtocol) minExpiration(ctx context.Context) (interface{}, error) {
	s := newStmt(p.ds.dialect).write("SELECT MIN(", p.col(ExpirationColumn), ") FROM ", p.table())
	if err := p.whereTask(s); err != nil {
		return nil, err
	}
	var raw interface{}
	if err := p.q.QueryRowContext(ctx, s.String(), s.args...).Scan(&raw); err != nil {
		return nil, persistence.WrapPersistence(err, "reading "+p.table())
	}
	return persistence.Coerce(p.field(ExpirationColumn), raw)
}

func (p *lockProtocol) count(ctx context.Context, where func(s *stmt) error) (int64, error) {
	s := newStmt(p.ds.dialect).write("SELECT COUNT(*) FROM ", p.table())
	if err := where(s); err != nil {
		return 0, err
	}
	var n int64
	if err := p.q.QueryRowContext(ctx, s.String(), s.args...).Scan(&n); err != nil {
		return 0, persistence.WrapPersistence(err, "counting "+p.table())
	}
	return n, nil
}

// AcquireLock calls ObtainLock up to attempts times, pausing settle between
// tries, and reports whether the lock was obtained.
func AcquireLock(ctx context.Context, tl persistence.TaskLock, lockID, formID string, taskType persistence.TaskType, attempts int, settle time.Duration) (bool, error) {
	if settle < persistence.MinSettle {
		settle = persistence.MinSettle
	}
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(settle):
			}
		}
		ok, err := tl.ObtainLock(ctx, lockID, formID, taskType)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
