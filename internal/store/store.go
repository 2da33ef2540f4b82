// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/avekdev/devroom/internal/domain"
)

// Storage errors surfaced to handlers.
var (
	ErrEmailTaken       = errors.New("email already registered")
	ErrProjectNameTaken = errors.New("project name already taken")
)

// Repository defines the interface for persisting user and project data.
type Repository interface {
	// CreateUser inserts a new user with the given bcrypt password hash.
	// Returns ErrEmailTaken when the email is already registered.
	CreateUser(ctx context.Context, user *domain.User, passwordHash string) error

	// GetUserByEmail retrieves a user and their password hash by email.
	// Returns (nil, "", nil) when no such user exists.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, string, error)

	// GetUser retrieves a user by ID. Returns (nil, nil) when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// ListUsersExcept retrieves all users except the given one.
	ListUsersExcept(ctx context.Context, userID string) ([]*domain.User, error)

	// CreateProject inserts a new project with its collaborator set.
	// Returns ErrProjectNameTaken when the name is already in use.
	CreateProject(ctx context.Context, project *domain.Project) error

	// GetProject retrieves a project with its collaborators and file tree.
	// Returns (nil, nil) when absent.
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)

	// ListProjectsForUser retrieves projects the user collaborates on.
	ListProjectsForUser(ctx context.Context, userID string) ([]*domain.Project, error)

	// AddProjectUsers adds collaborators to a project. Adding an existing
	// collaborator is a no-op.
	AddProjectUsers(ctx context.Context, projectID string, userIDs []string) error

	// UpdateFileTree replaces the project's stored file tree.
	UpdateFileTree(ctx context.Context, projectID string, tree domain.FileTree) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
