package store

import "fmt"

// fields are the namespaced key suffixes under chat:{user_id}:{room_id}:{field}
// (spec.md §4.1, §6).
const (
	fieldProfile      = "profile"
	fieldModel        = "model"
	fieldUserLog      = "user_log"
	fieldAssistantLog = "assistant_log"
	fieldSystemLog    = "system_log"
)

func keyFor(userID, roomID, field string) string {
	return fmt.Sprintf("chat:%s:%s:%s", userID, roomID, field)
}

func fieldForRole(role Role) string {
	switch role {
	case RoleUser:
		return fieldUserLog
	case RoleAssistant:
		return fieldAssistantLog
	case RoleSystem:
		return fieldSystemLog
	default:
		return ""
	}
}
