package dispatch

// Kind is the provider-agnostic classification of a single send.
type Kind int

const (
	// KindDelivered means the provider accepted the notification.
	KindDelivered Kind = iota
	// KindCredentialStale means the bearer credential itself was rejected as expired.
	KindCredentialStale
	// KindTokenInvalid means the device token is malformed or unknown to the provider.
	KindTokenInvalid
	// KindTokenExpired means the device token was valid once but has expired.
	KindTokenExpired
	// KindSuppressed means the recipient is inactive for the topic (opted out).
	KindSuppressed
	// KindRateLimited means too many requests were made for the same token.
	KindRateLimited
	// KindRejected is a provider rejection with a reason outside the known table.
	KindRejected
	// KindUnavailable covers transport failures, malformed responses and
	// credential minting failures.
	KindUnavailable
)

var kindNames = map[Kind]string{
	KindDelivered:       "delivered",
	KindCredentialStale: "credential_stale",
	KindTokenInvalid:    "token_invalid",
	KindTokenExpired:    "token_expired",
	KindSuppressed:      "suppressed",
	KindRateLimited:     "rate_limited",
	KindRejected:        "rejected",
	KindUnavailable:     "unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the classified result of one send. Reason carries the
// provider's own wording (e.g. "BadDeviceToken", "TokenNotFound") and Err the
// underlying failure for KindUnavailable.
type Outcome struct {
	Kind   Kind
	Reason string
	Err    error
}

// Delivered is the outcome of an accepted send.
func Delivered() Outcome {
	return Outcome{Kind: KindDelivered}
}

// Unavailable wraps a transport, parsing or credential failure.
func Unavailable(err error) Outcome {
	return Outcome{Kind: KindUnavailable, Err: err}
}
