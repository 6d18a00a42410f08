package models

// Project is the top-level entity owning shots. Its folder under the submit
// root is named after FolderName.
type Project struct {
	BaseModel

	// Name is the operator-facing display name.
	Name string `gorm:"not null;size:255" json:"name"`

	// FolderName is the filesystem-safe name used under the submit root.
	FolderName string `gorm:"not null;size:255;uniqueIndex" json:"folder_name"`
}

// TableName returns the table name for Project.
func (Project) TableName() string {
	return "projects"
}

// Validate checks the project fields.
func (p *Project) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.FolderName == "" {
		return ErrValidation{Field: "folder_name", Message: "must not be empty"}
	}
	return nil
}
