package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/avekdev/devroom/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func newTestUser(email string) *domain.User {
	now := time.Now()
	return &domain.User{
		ID:        domain.NewID(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTestProject(name string, userIDs ...string) *domain.Project {
	now := time.Now()
	return &domain.Project{
		ID:        domain.NewID(),
		Name:      name,
		Users:     userIDs,
		FileTree:  domain.FileTree{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	user := newTestUser("user@example.com")
	if err := repo.CreateUser(ctx, user, "hash123"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	got, err := repo.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got == nil || got.Email != "user@example.com" {
		t.Errorf("Expected user with email, got %+v", got)
	}

	byEmail, hash, err := repo.GetUserByEmail(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail == nil || byEmail.ID != user.ID {
		t.Errorf("Expected user %q, got %+v", user.ID, byEmail)
	}
	if hash != "hash123" {
		t.Errorf("Expected stored hash, got %q", hash)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateUser(ctx, newTestUser("dup@example.com"), "h1"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	err := repo.CreateUser(ctx, newTestUser("dup@example.com"), "h2")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
}

func TestGetUserMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetUser(context.Background(), domain.NewID())
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing user, got %+v", got)
	}
}

func TestListUsersExcept(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	u1 := newTestUser("a@example.com")
	u2 := newTestUser("b@example.com")
	for _, u := range []*domain.User{u1, u2} {
		if err := repo.CreateUser(ctx, u, "h"); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	users, err := repo.ListUsersExcept(ctx, u1.ID)
	if err != nil {
		t.Fatalf("ListUsersExcept failed: %v", err)
	}
	if len(users) != 1 || users[0].ID != u2.ID {
		t.Errorf("Expected only the other user, got %+v", users)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	owner := newTestUser("owner@example.com")
	if err := repo.CreateUser(ctx, owner, "h"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	project := newTestProject("my-project", owner.ID)
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	got, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected project, got nil")
	}
	if got.Name != "my-project" {
		t.Errorf("Expected name %q, got %q", "my-project", got.Name)
	}
	if len(got.Users) != 1 || got.Users[0] != owner.ID {
		t.Errorf("Expected collaborator list [%s], got %v", owner.ID, got.Users)
	}
}

func TestCreateProjectDuplicateName(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	if err := repo.CreateProject(ctx, newTestProject("taken")); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	err := repo.CreateProject(ctx, newTestProject("taken"))
	if !errors.Is(err, ErrProjectNameTaken) {
		t.Errorf("Expected ErrProjectNameTaken, got %v", err)
	}
}

func TestGetProjectMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetProject(context.Background(), domain.NewID())
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for missing project, got %+v", got)
	}
}

func TestAddProjectUsersIdempotent(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	ownerID := domain.NewID()
	otherID := domain.NewID()
	project := newTestProject("shared", ownerID)
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	// Adding twice, including an existing member, must not duplicate.
	if err := repo.AddProjectUsers(ctx, project.ID, []string{otherID, ownerID}); err != nil {
		t.Fatalf("AddProjectUsers failed: %v", err)
	}
	if err := repo.AddProjectUsers(ctx, project.ID, []string{otherID}); err != nil {
		t.Fatalf("AddProjectUsers failed: %v", err)
	}

	got, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(got.Users) != 2 {
		t.Errorf("Expected 2 collaborators, got %v", got.Users)
	}
}

func TestListProjectsForUser(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	userID := domain.NewID()
	mine := newTestProject("mine", userID)
	theirs := newTestProject("theirs", domain.NewID())
	for _, p := range []*domain.Project{mine, theirs} {
		if err := repo.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
	}

	projects, err := repo.ListProjectsForUser(ctx, userID)
	if err != nil {
		t.Fatalf("ListProjectsForUser failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != mine.ID {
		t.Errorf("Expected only the user's project, got %+v", projects)
	}
}

func TestWriteRetryRecoversFromBusy(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), "test write", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("SQLITE_BUSY: database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected retry to recover, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestWriteRetryGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	busy := errors.New("SQLITE_BUSY: database is locked")
	err := withWriteRetry(context.Background(), "test write", func() error {
		attempts++
		return busy
	})
	if !errors.Is(err, busy) {
		t.Errorf("Expected the busy error after exhausting retries, got %v", err)
	}
	if attempts != writeMaxRetries {
		t.Errorf("Expected %d attempts, got %d", writeMaxRetries, attempts)
	}
}

func TestWriteRetryDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	err := withWriteRetry(context.Background(), "test write", func() error {
		attempts++
		return ErrProjectNameTaken
	})
	if !errors.Is(err, ErrProjectNameTaken) {
		t.Errorf("Expected ErrProjectNameTaken passed through, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt for a non-conflict error, got %d", attempts)
	}
}

func TestUpdateFileTreeRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	project := newTestProject("with-tree", domain.NewID())
	if err := repo.CreateProject(ctx, project); err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	tree := domain.FileTree{
		"src/app.js":   "console.log('hi')",
		"package.json": "{}",
	}
	if err := repo.UpdateFileTree(ctx, project.ID, tree); err != nil {
		t.Fatalf("UpdateFileTree failed: %v", err)
	}

	got, err := repo.GetProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if len(got.FileTree) != 2 || got.FileTree["src/app.js"] != "console.log('hi')" {
		t.Errorf("Expected file tree to round-trip, got %+v", got.FileTree)
	}
}
