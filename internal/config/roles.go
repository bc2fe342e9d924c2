package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbranton/hive/pkg/models"
)

// RoleDef is one agent role's standing instructions and budget.
type RoleDef struct {
	Role         models.Role `yaml:"role"`
	SystemPrompt string      `yaml:"system_prompt"`
	MaxTurns     int         `yaml:"max_turns,omitempty"`
}

// Roles maps each role to its definition.
type Roles map[models.Role]RoleDef

// Get returns the role's definition, falling back to the built-in one.
func (r Roles) Get(role models.Role) RoleDef {
	if def, ok := r[role]; ok {
		return def
	}
	return DefaultRoles()[role]
}

// DefaultRoles returns the built-in role definitions.
func DefaultRoles() Roles {
	return Roles{
		models.RoleProductOwner: {
			Role: models.RoleProductOwner,
			SystemPrompt: "You are a product owner. Decompose the given requirements into " +
				"epics and stories with acceptance criteria, story points, priorities and " +
				"dependencies. Identify the single foundational story that everything else " +
				"builds on. Do not write code.",
		},
		models.RoleCoder: {
			Role: models.RoleCoder,
			SystemPrompt: "You are a software engineer. Implement the given story to satisfy " +
				"its acceptance criteria. Follow the existing project conventions. Run the " +
				"relevant tests before reporting completion.",
		},
		models.RoleTester: {
			Role: models.RoleTester,
			SystemPrompt: "You are a test engineer. Verify the given story against its " +
				"acceptance criteria: run the test suite, add missing tests, and report " +
				"structured results. Report failure if the acceptance criteria are not met.",
		},
		models.RoleSecurity: {
			Role: models.RoleSecurity,
			SystemPrompt: "You are a security auditor. Review the project for " +
				"vulnerabilities: injection, secrets in code, unsafe deserialization, " +
				"missing validation. Report a score and a breakdown of findings.",
		},
	}
}

// LoadRoles reads role definitions from a YAML file and merges them over the
// defaults. A missing file yields the defaults unchanged.
func LoadRoles(path string) (Roles, error) {
	roles := DefaultRoles()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return roles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}

	var defs []RoleDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}

	for _, def := range defs {
		if !def.Role.Valid() {
			return nil, fmt.Errorf("unknown role %q in %s", def.Role, path)
		}
		if def.SystemPrompt == "" {
			def.SystemPrompt = roles[def.Role].SystemPrompt
		}
		roles[def.Role] = def
	}
	return roles, nil
}
