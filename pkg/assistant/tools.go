package assistant

import (
	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/providers"
)

// toolProperties maps each action to the JSON-schema properties the model
// sees. Required lists come from the action package so the two never drift.
var toolProperties = map[action.Kind]map[string]interface{}{
	action.KindScheduleEvent: {
		"title":            map[string]interface{}{"type": "string", "description": "Event title"},
		"start_time":       map[string]interface{}{"type": "string", "description": "Start time, RFC 3339"},
		"duration_minutes": map[string]interface{}{"type": "integer", "description": "Duration in minutes"},
		"target":           map[string]interface{}{"type": "string", "description": "Contact name to invite, if any"},
		"location":         map[string]interface{}{"type": "string"},
		"notes":            map[string]interface{}{"type": "string"},
	},
	action.KindSetReminder: {
		"message":    map[string]interface{}{"type": "string", "description": "What to remind the user about"},
		"remind_at":  map[string]interface{}{"type": "string", "description": "When to fire, RFC 3339"},
		"recurrence": map[string]interface{}{"type": "string", "description": "Cron expression for recurring reminders"},
	},
	action.KindSendMessage: {
		"target":  map[string]interface{}{"type": "string", "description": "Contact name to send to"},
		"content": map[string]interface{}{"type": "string", "description": "Message body"},
	},
	action.KindSearchHistory: {
		"query":  map[string]interface{}{"type": "string", "description": "Text to search for"},
		"target": map[string]interface{}{"type": "string", "description": "Limit results to this contact"},
		"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of results"},
	},
}

func toolDefinitions() []providers.ToolDefinition {
	kinds := action.Kinds()
	defs := make([]providers.ToolDefinition, 0, len(kinds))
	for _, kind := range kinds {
		defs = append(defs, providers.NewToolDefinition(
			string(kind),
			action.Description(kind),
			toolProperties[kind],
			action.Required(kind),
		))
	}
	return defs
}
