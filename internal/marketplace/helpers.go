package marketplace

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawToMap decodes a remote response body into a generic map for the
// Result payload. Non-object bodies are wrapped so nothing is lost.
func rawToMap(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return map[string]interface{}{"response": v}
	}
	return map[string]interface{}{"raw": string(raw)}
}

// extractItemID digs the listing id out of a marketplace response. The
// three marketplaces wrap it differently; check the known shapes in
// order.
func extractItemID(raw json.RawMessage) string {
	m := rawToMap(raw)
	if m == nil {
		return ""
	}
	for _, key := range []string{"item", "listing", "offer"} {
		if nested, ok := m[key].(map[string]interface{}); ok {
			if id := stringifyID(nested["id"]); id != "" {
				return id
			}
			if id := stringifyID(nested["listing_id"]); id != "" {
				return id
			}
		}
	}
	if id := stringifyID(m["id"]); id != "" {
		return id
	}
	return stringifyID(m["listing_id"])
}

func extractUserID(raw json.RawMessage) string {
	m := rawToMap(raw)
	if m == nil {
		return ""
	}
	if nested, ok := m["user"].(map[string]interface{}); ok {
		return stringifyID(nested["id"])
	}
	return stringifyID(m["id"])
}

func stringifyID(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

// truncateBody keeps failure reasons readable when the marketplace echoes
// a large body back.
func truncateBody(raw json.RawMessage) string {
	body := strings.TrimSpace(string(raw))
	if len(body) > 300 {
		body = body[:300]
	}
	return body
}
