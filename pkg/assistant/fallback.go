package assistant

import (
	"strings"

	"github.com/harborchat/valet/pkg/action"
	"github.com/harborchat/valet/pkg/bus"
)

var searchPrefixes = []string{
	"search for ",
	"search ",
	"find messages about ",
	"find message about ",
}

// trySearchFallback recognizes bare search phrasings without a model call.
// Anything with more structure goes through the provider.
func trySearchFallback(msg bus.InboundMessage) (*action.Intent, bool) {
	normalized := compactLine(strings.ToLower(msg.Content))
	for _, prefix := range searchPrefixes {
		if !strings.HasPrefix(normalized, prefix) {
			continue
		}
		query := strings.TrimSpace(normalized[len(prefix):])
		if query == "" {
			return nil, false
		}
		return &action.Intent{
			Name:           action.KindSearchHistory,
			Parameters:     map[string]interface{}{"query": query},
			ConversationID: msg.ConversationID,
		}, true
	}
	return nil, false
}

func compactLine(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
