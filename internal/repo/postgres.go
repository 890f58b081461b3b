package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Durable/internal/domain"
)

// querier — общее подмножество pgxpool.Pool и pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore — Store поверх PostgreSQL.
//
// Изменения одного instance сериализуются транзакционной advisory lock
// по hashtext(id); блокировки берутся в порядке child → parent.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

const instanceColumns = `id, name, status, input, output, error, reason, parent_id,
		       checkpoint, history_len, termination_requested, created_at, last_updated_at, completed_at`

// CreateInstance сохраняет новый instance.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *domain.Instance, started domain.HistoryEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted, err := insertInstance(ctx, tx, inst, started)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("%w: instance %s", ErrAlreadyExists, inst.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// insertInstance вставляет instance с первым событием.
// Возвращает false, если ID уже занят.
func insertInstance(ctx context.Context, q querier, inst *domain.Instance, started domain.HistoryEvent) (bool, error) {
	query := `
		INSERT INTO instances (id, name, status, input, parent_id, checkpoint, history_len,
		                       termination_requested, created_at, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 1, FALSE, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	result, err := q.Exec(ctx, query,
		inst.ID,
		inst.Name,
		inst.Status,
		nullJSON(inst.Input),
		nullString(inst.ParentID),
		inst.CreatedAt,
		inst.LastUpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	if err := insertEvents(ctx, q, inst.ID, 0, []domain.HistoryEvent{started}); err != nil {
		return false, err
	}
	return true, nil
}

// insertEvents вставляет события начиная с позиции seq.
func insertEvents(ctx context.Context, q querier, instanceID string, seq int, events []domain.HistoryEvent) error {
	query := `
		INSERT INTO instance_history (instance_id, seq, type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i, ev := range events {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := q.Exec(ctx, query, instanceID, seq+i, ev.Type, nullJSON(ev.Payload), ts); err != nil {
			return fmt.Errorf("insert %s event: %w", ev.Type, err)
		}
	}
	return nil
}

// GetInstance возвращает instance по ID.
func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*domain.Instance, error) {
	inst, _, err := getInstance(ctx, s.pool, id)
	return inst, err
}

func getInstance(ctx context.Context, q querier, id string) (*domain.Instance, int, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`
	inst, historyLen, err := scanInstance(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	return inst, historyLen, nil
}

// ScanInstances обходит instances построчно, не загружая выборку целиком.
func (s *PostgresStore) ScanInstances(ctx context.Context, filter InstanceFilter, fn func(domain.Instance) bool) error {
	exclude := make([]string, 0, len(filter.Exclude))
	for _, st := range filter.Exclude {
		exclude = append(exclude, string(st))
	}

	query := `
		SELECT ` + instanceColumns + `
		FROM instances
		WHERE ($1::text IS NULL OR status = $1)
		  AND NOT (status = ANY($2::text[]))
		  AND ($3::text IS NULL OR name = $3)
		ORDER BY created_at ASC, id ASC
		LIMIT $4
	`
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := s.pool.Query(ctx, query,
		nullString(string(filter.Status)),
		exclude,
		nullString(filter.Name),
		limit,
	)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		inst, _, err := scanInstance(rows)
		if err != nil {
			return err
		}
		if !fn(*inst) {
			return nil
		}
	}
	return rows.Err()
}

// LoadHistory возвращает историю instance.
func (s *PostgresStore) LoadHistory(ctx context.Context, id string) ([]domain.HistoryEvent, error) {
	query := `
		SELECT seq, type, payload, created_at
		FROM instance_history
		WHERE instance_id = $1
		ORDER BY seq ASC
	`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var events []domain.HistoryEvent
	for rows.Next() {
		ev := domain.HistoryEvent{InstanceID: id}
		var payload []byte
		if err := rows.Scan(&ev.Seq, &ev.Type, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	if len(events) == 0 {
		if _, _, err := getInstance(ctx, s.pool, id); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// RequestTermination добавляет ExecutionTerminated в историю.
func (s *PostgresStore) RequestTermination(ctx context.Context, id, reason string) error {
	ev, err := domain.NewHistoryEvent(id, domain.EventExecutionTerminated, domain.ExecutionTerminatedPayload{Reason: reason})
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockInstance(ctx, tx, id); err != nil {
			return err
		}

		inst, historyLen, err := getInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		if inst.IsFinished() {
			return fmt.Errorf("%w: instance %s is %s", ErrInvalidState, id, inst.Status)
		}

		if err := insertEvents(ctx, tx, id, historyLen, []domain.HistoryEvent{ev}); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE instances
			SET history_len = history_len + 1, termination_requested = TRUE, last_updated_at = NOW()
			WHERE id = $1
		`, id)
		if err != nil {
			return fmt.Errorf("update instance: %w", err)
		}
		return nil
	})
}

// Commit атомарно применяет результат execution.
func (s *PostgresStore) Commit(ctx context.Context, c *Commit) error {
	id := c.Instance.ID

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockInstance(ctx, tx, id); err != nil {
			return err
		}

		cur, historyLen, err := getInstance(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur.Checkpoint != c.ExpectedCheckpoint || historyLen != c.ExpectedHistoryLen {
			return fmt.Errorf("%w: instance %s", ErrConflict, id)
		}
		if !cur.Status.CanTransitionTo(c.Instance.Status) {
			return fmt.Errorf("%w: instance %s: %s → %s", ErrInvalidState, id, cur.Status, c.Instance.Status)
		}

		if err := insertEvents(ctx, tx, id, historyLen, c.Events); err != nil {
			return err
		}
		newLen := historyLen + len(c.Events)

		inst := c.Instance
		_, err = tx.Exec(ctx, `
			UPDATE instances
			SET status = $2, output = $3, error = $4, reason = $5, checkpoint = $6, history_len = $6,
			    termination_requested = $7, last_updated_at = $8, completed_at = $9
			WHERE id = $1
		`,
			id,
			inst.Status,
			nullJSON(inst.Output),
			nullString(inst.Error),
			nullString(inst.Reason),
			newLen,
			inst.TerminationRequested,
			inst.LastUpdatedAt,
			inst.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("update instance: %w", err)
		}

		for _, child := range c.Children {
			if _, err := insertInstance(ctx, tx, child.Instance, child.Started); err != nil {
				return fmt.Errorf("child %s: %w", child.Instance.ID, err)
			}
		}

		if len(c.ParentEvents) > 0 && inst.ParentID != "" {
			if err := appendToParent(ctx, tx, inst.ParentID, c.ParentEvents); err != nil {
				return err
			}
		}

		inst.Checkpoint = newLen
		return nil
	})
}

// appendToParent дописывает события в историю родителя.
// Отсутствующий родитель пропускается.
func appendToParent(ctx context.Context, tx pgx.Tx, parentID string, events []domain.HistoryEvent) error {
	if err := lockInstance(ctx, tx, parentID); err != nil {
		return err
	}

	var newLen int
	err := tx.QueryRow(ctx, `
		UPDATE instances
		SET history_len = history_len + $2, last_updated_at = NOW()
		WHERE id = $1
		RETURNING history_len
	`, parentID, len(events)).Scan(&newLen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update parent %s: %w", parentID, err)
	}

	return insertEvents(ctx, tx, parentID, newLen-len(events), events)
}

// ListRunnable возвращает нефинальные instances с новыми событиями.
func (s *PostgresStore) ListRunnable(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id
		FROM instances
		WHERE status IN ('PENDING', 'RUNNING') AND history_len > checkpoint
		ORDER BY last_updated_at ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable instances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// inTx выполняет fn в транзакции.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// lockInstance берёт транзакционную advisory lock на instance.
func lockInstance(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("lock instance %s: %w", id, err)
	}
	return nil
}

// scanInstance сканирует строку в Instance и возвращает history_len.
func scanInstance(row pgx.Row) (*domain.Instance, int, error) {
	var inst domain.Instance
	var input, output []byte
	var instError, reason, parentID *string
	var historyLen int

	err := row.Scan(
		&inst.ID,
		&inst.Name,
		&inst.Status,
		&input,
		&output,
		&instError,
		&reason,
		&parentID,
		&inst.Checkpoint,
		&historyLen,
		&inst.TerminationRequested,
		&inst.CreatedAt,
		&inst.LastUpdatedAt,
		&inst.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, err
	}
	if err != nil {
		return nil, 0, fmt.Errorf("scan instance: %w", err)
	}

	inst.Input = input
	inst.Output = output
	if instError != nil {
		inst.Error = *instError
	}
	if reason != nil {
		inst.Reason = *reason
	}
	if parentID != nil {
		inst.ParentID = *parentID
	}
	return &inst, historyLen, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON возвращает nil для пустого JSON, иначе текст для JSONB.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
