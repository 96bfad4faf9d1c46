package signaling

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL validates a relay address and turns it into the relay's
// WebSocket endpoint. It accepts a bare host[:port] as well as http(s) and
// ws(s) URLs; http maps to ws and everything else to wss.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %q", raw)
	}

	scheme := "wss"
	switch u.Scheme {
	case "ws", "http":
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// endpoint adds the space and PIN query parameters to a normalized URL.
func endpoint(wsURL, space, pin string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("space", space)
	if pin != "" {
		q.Set("pin", pin)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
