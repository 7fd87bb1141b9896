// pkg/core/project.go
package core

import "time"

// Project groups the layers a user works on
type Project struct {
	ID        uint
	UserID    uint
	Name      string
	Type      string
	Image     []byte
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectType is a row of the project type lookup table
type ProjectType struct {
	ID   string
	Name string
}

// ProjectPatch carries a project update. Image is replaced as given; nil clears it.
type ProjectPatch struct {
	Name  *string
	Type  *string
	Image []byte
}
