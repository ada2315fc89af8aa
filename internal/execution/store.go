package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/leverlabs/lever-cli/internal/model"
	_ "modernc.org/sqlite"
)

// Store persists built plans so they can be listed, re-displayed, and fed
// to estimation or order submission later. The engine itself keeps
// nothing: a plan lands here only after a build completes, and re-saving
// under the same id replaces the earlier build.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func OpenStore(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create plan store directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create plan lock directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open plan sqlite: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		`CREATE TABLE IF NOT EXISTS plans (
			plan_id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			chain_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_plans_status_updated ON plans(status, updated_at DESC);",
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init plan schema: %w", err)
		}
	}
	return &Store{db: db, lock: flock.New(lockPath)}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Save(plan model.Plan) error {
	if strings.TrimSpace(plan.PlanID) == "" {
		return fmt.Errorf("save plan: missing plan id")
	}
	locked, err := s.lock.TryLockContext(context.Background(), 5*time.Second)
	if err != nil {
		return fmt.Errorf("lock plan store: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock plan store: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	payload, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	createdUnix, _ := parseRFC3339Unix(plan.CreatedAt)
	if createdUnix == 0 {
		createdUnix = time.Now().UTC().Unix()
	}
	updatedUnix := time.Now().UTC().Unix()

	_, err = s.db.Exec(`
		INSERT INTO plans (plan_id, operation, mode, status, chain_id, created_at, updated_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			operation=excluded.operation,
			mode=excluded.mode,
			status=excluded.status,
			chain_id=excluded.chain_id,
			updated_at=excluded.updated_at,
			payload=excluded.payload
	`, plan.PlanID, plan.Operation, plan.Mode, plan.Status, plan.ChainID, createdUnix, updatedUnix, payload)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (s *Store) Get(planID string) (model.Plan, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM plans WHERE plan_id = ?", planID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Plan{}, fmt.Errorf("plan not found: %s", planID)
		}
		return model.Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var plan model.Plan
	if err := json.Unmarshal(payload, &plan); err != nil {
		return model.Plan{}, fmt.Errorf("decode plan payload: %w", err)
	}
	return plan, nil
}

func (s *Store) List(status, operation string, limit int) ([]model.Plan, error) {
	if limit <= 0 {
		limit = 20
	}
	query := "SELECT payload FROM plans"
	conditions := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if strings.TrimSpace(status) != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	if strings.TrimSpace(operation) != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, operation)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]model.Plan, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan plan row: %w", err)
		}
		var plan model.Plan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return nil, fmt.Errorf("decode plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plan rows: %w", err)
	}
	return plans, nil
}

func parseRFC3339Unix(v string) (int64, bool) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return 0, false
	}
	return t.UTC().Unix(), true
}
