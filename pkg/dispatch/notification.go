package dispatch

// Notification describes what to send. It has no persisted identity and is
// discarded after dispatch.
type Notification struct {
	GUID   string
	Status string
	Title  string
	Body   string
	Data   map[string]string

	DeliveryHints
}

// DeliveryHints are optional presentation and delivery settings. Providers
// ignore the ones they have no use for. A nil pointer selects the provider
// default. Inbound requests and push jobs embed this struct as-is.
type DeliveryHints struct {
	Badge            *int   `json:"badge,omitempty" validate:"omitempty,min=0"`
	Sound            string `json:"sound,omitempty" validate:"max=256"`
	ContentAvailable *bool  `json:"content_available,omitempty"`
	MutableContent   bool   `json:"mutable_content,omitempty"`
	ThreadID         string `json:"thread_id,omitempty" validate:"max=256"`
	Category         string `json:"category,omitempty" validate:"max=256"`
	// Expiration is a unix timestamp; zero or nil means deliver once or drop.
	Expiration *int64 `json:"expiration,omitempty" validate:"omitempty,min=0"`
}

// Provider family names used in routes, config and logs.
const (
	ProviderAPNS = "apns"
	ProviderFCM  = "fcm"
)
