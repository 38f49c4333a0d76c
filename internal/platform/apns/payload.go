package apns

import (
	"github.com/sideshow/apns2/payload"
	"github.com/tinywideclouds/go-push-gateway/pkg/dispatch"
)

const defaultBadge = 1

const apsKey = "aps"

// buildPayload shapes the aps dictionary. Unless overridden the gateway sends
// badge 1 with content-available so the app wakes to fetch the call state.
func buildPayload(n dispatch.Notification) *payload.Payload {
	p := payload.NewPayload()
	if n.ContentAvailable == nil || *n.ContentAvailable {
		p.ContentAvailable()
	}

	badge := defaultBadge
	if n.Badge != nil {
		badge = *n.Badge
	}
	p.Badge(badge)

	if n.Title != "" {
		p.AlertTitle(n.Title)
	}
	if n.Body != "" {
		p.AlertBody(n.Body)
	}
	if n.Sound != "" {
		p.Sound(n.Sound)
	}
	if n.MutableContent {
		p.MutableContent()
	}
	if n.ThreadID != "" {
		p.ThreadID(n.ThreadID)
	}
	if n.Category != "" {
		p.Category(n.Category)
	}

	for k, v := range n.Data {
		// Caller data lives beside aps, never in place of it.
		if k == apsKey {
			continue
		}
		p.Custom(k, v)
	}
	// guid and status are set last so extra data cannot shadow them.
	p.Custom("guid", n.GUID)
	if n.Status != "" {
		p.Custom("status", n.Status)
	}
	return p
}
