package probe

// RawMessageEvent is one entry of the remote's message stream. Payload is
// opaque to the session; only the two flags drive buffering decisions.
type RawMessageEvent struct {
	IsNewMessage bool           `json:"isNewMsg" yaml:"isNewMsg"`
	IsSentBySelf bool           `json:"isSentByMe" yaml:"isSentByMe"`
	Payload      map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// IsInbound reports whether the event is a new message from someone else.
// Echoes of our own sends and historical backfill are not inbound.
func (e RawMessageEvent) IsInbound() bool {
	return e.IsNewMessage && !e.IsSentBySelf
}

// Sanitized returns a copy of e whose payload has every nil-valued field
// removed, recursively through nested maps and slices.
func (e RawMessageEvent) Sanitized() RawMessageEvent {
	if e.Payload != nil {
		e.Payload = sanitizeMap(e.Payload)
	}
	return e
}

func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return sanitizeMap(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return v
	}
}
