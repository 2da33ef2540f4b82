package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/avekdev/devroom/internal/domain"
	"github.com/avekdev/devroom/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeMaxRetries     = 3
	writeRetryBaseDelay = 50 * time.Millisecond
)

// withWriteRetry runs fn, retrying with exponential backoff on SQLite
// concurrency errors (SQLITE_BUSY, database locked). Other errors are
// returned as-is.
func withWriteRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeMaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || ctx.Err() != nil {
			return err
		}
		if i < writeMaxRetries-1 {
			delay := writeRetryBaseDelay * time.Duration(1<<i)
			slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
		}
	}
	return err
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		project_id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		file_tree_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_users (
		project_id TEXT NOT NULL REFERENCES projects(project_id),
		user_id TEXT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_project_users_user ON project_users(user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new user with the given bcrypt password hash.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.User, passwordHash string) error {
	query := `
	INSERT INTO users (user_id, email, password_hash, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, passwordHash,
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user and their password hash by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, string, error) {
	query := `
		SELECT user_id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?`

	var user domain.User
	var hash string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, email).Scan(
		&user.ID, &user.Email, &hash, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, hash, nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, email, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.ID, &user.Email, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// ListUsersExcept retrieves all users except the given one.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, userID string) ([]*domain.User, error) {
	query := `
		SELECT user_id, email, created_at, updated_at
		FROM users WHERE user_id != ? ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var user domain.User
		var createdAt, updatedAt int64
		if err := rows.Scan(&user.ID, &user.Email, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user.CreatedAt = time.Unix(createdAt, 0)
		user.UpdatedAt = time.Unix(updatedAt, 0)
		users = append(users, &user)
	}
	return users, rows.Err()
}

// CreateProject inserts a new project with its collaborator set.
func (s *SQLiteStore) CreateProject(ctx context.Context, project *domain.Project) error {
	return withWriteRetry(ctx, "create project", func() error {
		return s.createProject(ctx, project)
	})
}

func (s *SQLiteStore) createProject(ctx context.Context, project *domain.Project) error {
	treeJSON, err := marshalFileTree(project.FileTree)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (project_id, name, file_tree_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		project.ID, project.Name, treeJSON,
		project.CreatedAt.Unix(), project.UpdatedAt.Unix(),
	)
	if err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return ErrProjectNameTaken
		}
		return fmt.Errorf("insert project: %w", err)
	}

	for _, userID := range project.Users {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO project_users (project_id, user_id) VALUES (?, ?)`,
			project.ID, userID,
		); err != nil {
			return fmt.Errorf("insert project user: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetProject retrieves a project with its collaborators and file tree.
func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	query := `
		SELECT project_id, name, file_tree_json, created_at, updated_at
		FROM projects WHERE project_id = ?`

	var project domain.Project
	var treeJSON string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&project.ID, &project.Name, &treeJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan project row: %w", err)
	}

	if err := json.Unmarshal([]byte(treeJSON), &project.FileTree); err != nil {
		return nil, fmt.Errorf("decode file tree: %w", err)
	}
	project.CreatedAt = time.Unix(createdAt, 0)
	project.UpdatedAt = time.Unix(updatedAt, 0)

	project.Users, err = s.projectUsers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (s *SQLiteStore) projectUsers(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM project_users WHERE project_id = ? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query project users: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project user row: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}

// ListProjectsForUser retrieves projects the user collaborates on.
func (s *SQLiteStore) ListProjectsForUser(ctx context.Context, userID string) ([]*domain.Project, error) {
	query := `
		SELECT p.project_id
		FROM projects p
		JOIN project_users pu ON pu.project_id = p.project_id
		WHERE pu.user_id = ?
		ORDER BY p.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var projects []*domain.Project
	for _, id := range ids {
		project, err := s.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		if project != nil {
			projects = append(projects, project)
		}
	}
	return projects, nil
}

// AddProjectUsers adds collaborators to a project.
func (s *SQLiteStore) AddProjectUsers(ctx context.Context, projectID string, userIDs []string) error {
	return withWriteRetry(ctx, "add project users", func() error {
		return s.addProjectUsers(ctx, projectID, userIDs)
	})
}

func (s *SQLiteStore) addProjectUsers(ctx context.Context, projectID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, userID := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO project_users (project_id, user_id) VALUES (?, ?)`,
			projectID, userID,
		); err != nil {
			return fmt.Errorf("insert project user: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET updated_at = ? WHERE project_id = ?`,
		time.Now().Unix(), projectID,
	); err != nil {
		return fmt.Errorf("touch project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UpdateFileTree replaces the project's stored file tree.
func (s *SQLiteStore) UpdateFileTree(ctx context.Context, projectID string, tree domain.FileTree) error {
	treeJSON, err := marshalFileTree(tree)
	if err != nil {
		return err
	}

	return withWriteRetry(ctx, "update file tree", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE projects SET file_tree_json = ?, updated_at = ? WHERE project_id = ?`,
			treeJSON, time.Now().Unix(), projectID,
		)
		if err != nil {
			return fmt.Errorf("update file tree: %w", err)
		}
		return nil
	})
}

func marshalFileTree(tree domain.FileTree) (string, error) {
	if tree == nil {
		tree = domain.FileTree{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("encode file tree: %w", err)
	}
	return string(data), nil
}
