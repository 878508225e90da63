package pipelines

import (
	"fmt"
	"github.com/tidwall/gjson"
	"strings"
)

// extractJsonBlock tolerates models wrapping their JSON in markdown fences or
// leading chatter; it returns the first {...} span.
func extractJsonBlock(response string) string {
	response = strings.TrimSpace(response)
	if idx := strings.Index(response, "```json"); idx >= 0 {
		response = strings.TrimSpace(response[idx+len("```json"):])
	}
	if idx := strings.Index(response, "```"); idx >= 0 && !strings.HasPrefix(response, "{") {
		response = strings.TrimPrefix(response[idx:], "```")
	}
	response = strings.TrimSpace(strings.Trim(response, "`"))

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end < start {
		return ""
	}
	return response[start : end+1]
}

func ParseQueryResponse(response string) (string, error) {
	block := extractJsonBlock(response)
	query := gjson.Get(block, "query").String()
	if query == "" {
		return "", fmt.Errorf("no query field in model response")
	}
	return query, nil
}

func ParseSummaryResponse(response string) (string, error) {
	block := extractJsonBlock(response)
	summary := gjson.Get(block, "summary").String()
	if summary == "" {
		return "", fmt.Errorf("no summary field in model response")
	}
	return summary, nil
}

func ParseEntitiesResponse(response string) ([]string, error) {
	block := extractJsonBlock(response)
	parsed := gjson.Get(block, "entities")
	if !parsed.Exists() {
		return nil, fmt.Errorf("no entities field in model response")
	}

	entities := make([]string, 0, 8)
	for _, entry := range parsed.Array() {
		if entry.String() != "" {
			entities = append(entities, entry.String())
		}
	}
	return entities, nil
}
