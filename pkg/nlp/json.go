package nlp

import (
	"encoding/json"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"

	"github.com/contextmem/contextmem/pkg/types"
)

var (
	thinkTagRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
)

// DecodeJSONResponse parses LLM output into target. Models wrap JSON in chat
// prose, code fences, or reasoning tags, and frequently emit trailing commas
// or unquoted keys; the decoder strips the wrapping and runs jsonrepair
// before giving up. A response that still does not parse surfaces as a
// MalformedResponseError so the calling stage discards its contribution and
// continues.
func DecodeJSONResponse(content string, target any) error {
	cleaned := strings.TrimSpace(thinkTagRe.ReplaceAllString(content, ""))

	if m := codeFenceRe.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}

	// Trim prose around the outermost object.
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end >= 0 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	if cleaned == "" {
		return types.NewMalformedResponseError("completion", "empty response body")
	}

	if err := json.Unmarshal([]byte(cleaned), target); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return types.NewMalformedResponseError("completion", "unrepairable JSON: "+err.Error())
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return types.NewMalformedResponseError("completion", "repaired JSON failed schema: "+err.Error())
	}
	return nil
}
