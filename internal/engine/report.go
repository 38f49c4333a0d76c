package engine

// Result is the per-token result of a fan-out.
type Result int

const (
	ResultDelivered Result = iota
	ResultRetriedAndDelivered
	ResultTokenInvalidated
	ResultSkipped
	ResultProviderUnavailable
)

func (r Result) String() string {
	switch r {
	case ResultDelivered:
		return "delivered"
	case ResultRetriedAndDelivered:
		return "retried_and_delivered"
	case ResultTokenInvalidated:
		return "token_invalidated"
	case ResultSkipped:
		return "skipped"
	case ResultProviderUnavailable:
		return "provider_unavailable"
	}
	return "unknown"
}

// Report summarises a fan-out for logging. Callers decide success from the
// returned error alone.
type Report struct {
	Recipients int
	Results    map[string]Result
}

// Count returns how many tokens ended with r.
func (rep Report) Count(r Result) int {
	n := 0
	for _, got := range rep.Results {
		if got == r {
			n++
		}
	}
	return n
}

// Failed reports whether any token hit an unavailable provider.
func (rep Report) Failed() bool {
	return rep.Count(ResultProviderUnavailable) > 0
}

// attrs flattens the report into slog key/value pairs.
func (rep Report) attrs() []any {
	return []any{
		"recipients", rep.Recipients,
		"delivered", rep.Count(ResultDelivered),
		"retried_and_delivered", rep.Count(ResultRetriedAndDelivered),
		"token_invalidated", rep.Count(ResultTokenInvalidated),
		"skipped", rep.Count(ResultSkipped),
		"provider_unavailable", rep.Count(ResultProviderUnavailable),
	}
}
