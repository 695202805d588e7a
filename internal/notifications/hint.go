package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/natalfamilia/natal-backend/pkg/enums"
)

// ErrEmptyHint means the request named no resource kind or no object id.
var ErrEmptyHint = errors.New("notification carries no resource reference")

// Hint is the resource reference a gateway notification points at. Nothing
// else in the request is trusted.
type Hint struct {
	Kind             enums.NotificationKind
	ProviderObjectID string
	Action           string
}

// Supported reports whether the queue accepts the hint's kind.
func (h Hint) Supported() bool {
	return h.Kind.IsValid()
}

type webhookBody struct {
	Type     string          `json:"type"`
	Topic    string          `json:"topic"`
	Action   string          `json:"action"`
	Resource string          `json:"resource"`
	Data     json.RawMessage `json:"data"`
}

// ParseHint reads the webhook JSON body first and falls back to the query
// string shapes the gateway also sends (?type=&data.id= and legacy ?topic=&id=).
func ParseHint(body []byte, query url.Values) (Hint, error) {
	var parsed webhookBody
	if len(bytes.TrimSpace(body)) > 0 {
		// A malformed body is not fatal; the query string may still carry the hint.
		_ = json.Unmarshal(body, &parsed)
	}

	kindValue := firstNonEmpty(
		parsed.Type,
		parsed.Topic,
		parsed.Action,
		query.Get("type"),
		query.Get("topic"),
		query.Get("action"),
	)
	id := firstNonEmpty(
		dataID(parsed.Data),
		query.Get("data.id"),
		query.Get("id"),
		lastSegment(parsed.Resource),
		lastSegment(query.Get("resource")),
	)

	if kindValue == "" || id == "" {
		return Hint{}, ErrEmptyHint
	}

	kind, _ := enums.ParseNotificationKind(kindValue)
	return Hint{
		Kind:             kind,
		ProviderObjectID: id,
		Action:           firstNonEmpty(parsed.Action, query.Get("action")),
	}, nil
}

// dataID accepts both {"id":"123"} and {"id":123}.
func dataID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var data struct {
		ID json.Number `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err == nil {
		return strings.TrimSpace(data.ID.String())
	}
	var quoted struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &quoted); err == nil {
		return strings.TrimSpace(quoted.ID)
	}
	return ""
}

func lastSegment(resource string) string {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return ""
	}
	if u, err := url.Parse(resource); err == nil && u.Path != "" {
		resource = u.Path
	}
	resource = strings.TrimRight(resource, "/")
	if idx := strings.LastIndex(resource, "/"); idx >= 0 {
		resource = resource[idx+1:]
	}
	return strings.TrimSpace(resource)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
