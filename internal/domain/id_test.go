package domain

import (
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID()
	if len(id) != 24 {
		t.Errorf("Expected 24-character id, got %d: %q", len(id), id)
	}
	if !ValidID(id) {
		t.Errorf("Expected generated id to be valid, got %q", id)
	}
	if NewID() == id {
		t.Error("Expected distinct ids from consecutive calls")
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid", "5f8d0d55b54764421b7156c1", true},
		{"empty", "", false},
		{"too short", "5f8d0d55b54764421b7156c", false},
		{"too long", "5f8d0d55b54764421b7156c12", false},
		{"uppercase hex", "5F8D0D55B54764421B7156C1", false},
		{"non-hex", "not-a-valid-id-not-valid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidID(tt.id); got != tt.want {
				t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestProjectHasUser(t *testing.T) {
	p := &Project{Users: []string{"a", "b"}}
	if !p.HasUser("a") {
		t.Error("Expected HasUser to find existing collaborator")
	}
	if p.HasUser("c") {
		t.Error("Expected HasUser to reject unknown user")
	}
}
