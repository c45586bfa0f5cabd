package catalog

import "github.com/user/buffalo/internal/db"

type TestDefinition struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Prompt      string `yaml:"prompt" json:"prompt"`
	Category    string `yaml:"category,omitempty" json:"category,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Active      *bool  `yaml:"active,omitempty" json:"active,omitempty"`
}

func (d *TestDefinition) customTest() *db.CustomTest {
	active := true
	if d.Active != nil {
		active = *d.Active
	}
	return &db.CustomTest{
		Name:        d.Name,
		Prompt:      d.Prompt,
		Type:        db.ModeBuffaloDefined,
		Category:    d.Category,
		Description: d.Description,
		IsActive:    &active,
	}
}
