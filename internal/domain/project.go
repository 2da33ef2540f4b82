package domain

import (
	"time"
)

// FileTree maps relative file paths to file contents. The namespace is
// flat: directories exist only implicitly inside the path strings.
type FileTree map[string]string

// Project is a shared workspace. Users holds the collaborator user IDs,
// including the owner.
type Project struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Users     []string  `json:"users"`
	FileTree  FileTree  `json:"fileTree,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUser reports whether userID is a collaborator on the project.
func (p *Project) HasUser(userID string) bool {
	for _, id := range p.Users {
		if id == userID {
			return true
		}
	}
	return false
}
