package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrMalformedJSON marks responses whose text could not be decoded into the
// expected JSON shape. Callers distinguish it from transport failures.
var ErrMalformedJSON = eris.New("anthropic: malformed json response")

// CompleteJSON sends a single message request and decodes the model's reply
// into out. The reply may wrap the JSON in markdown code fences or prose;
// CleanJSON extracts the first object or array before decoding. Decoding is
// strict: a field the target shape does not declare fails with
// ErrMalformedJSON, so a reply in the wrong schema never passes as an empty
// result. Token usage is returned even when decoding fails so callers can
// record actual spend.
func CompleteJSON(ctx context.Context, client Client, req MessageRequest, out any) (TokenUsage, error) {
	resp, err := client.CreateMessage(ctx, req)
	if err != nil {
		return TokenUsage{}, err
	}

	text := ExtractText(resp)
	if strings.TrimSpace(text) == "" {
		return resp.Usage, eris.Wrap(ErrMalformedJSON, "empty response text")
	}

	dec := json.NewDecoder(strings.NewReader(CleanJSON(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return resp.Usage, eris.Wrapf(ErrMalformedJSON, "decode: %v", err)
	}

	return resp.Usage, nil
}

// ExtractText concatenates all text content blocks from a message response.
func ExtractText(resp *MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// CleanJSON attempts to extract a JSON object or array from text that may
// contain markdown code fences or other wrapping.
func CleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find the outermost object or array, whichever opens first.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	switch {
	case arrStart >= 0 && (objStart < 0 || arrStart < objStart):
		if end := strings.LastIndex(text, "]"); end > arrStart {
			text = text[arrStart : end+1]
		}
	case objStart >= 0:
		if end := strings.LastIndex(text, "}"); end > objStart {
			text = text[objStart : end+1]
		}
	}

	return strings.TrimSpace(text)
}
