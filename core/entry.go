package core

// Role identifies the author of a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Entry is one {role, content} pair of the active conversation path. It is the
// exact unit handed to completion backends.
type Entry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
