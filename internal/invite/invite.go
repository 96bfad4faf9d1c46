// Package invite encodes a caller's SDP offer into a shareable link and
// decodes it back on the callee side.
//
// A link has the form <origin>?offer=<base64(JSON(offer))>.
package invite

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pion/webrtc/v4"
)

// QueryParam is the query parameter that carries the offer.
const QueryParam = "offer"

var (
	// ErrNoOffer is returned when a link carries no offer parameter.
	ErrNoOffer = errors.New("invite: link has no offer")

	// ErrNotOffer is returned when the decoded description is not an offer.
	ErrNotOffer = errors.New("invite: description is not an offer")
)

// Encode builds the invite link for offer under origin. Any query already
// present on origin is kept.
func Encode(origin string, offer webrtc.SessionDescription) (string, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return "", ErrNotOffer
	}

	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", origin, err)
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		return "", fmt.Errorf("failed to encode offer: %w", err)
	}

	q := u.Query()
	q.Set(QueryParam, base64.StdEncoding.EncodeToString(raw))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Decode extracts the offer from link. link may be a full URL or just its
// query string (with or without the leading '?').
func Decode(link string) (webrtc.SessionDescription, error) {
	var none webrtc.SessionDescription

	encoded, err := offerParam(strings.TrimSpace(link))
	if err != nil {
		return none, err
	}

	raw, err := decodeBase64(encoded)
	if err != nil {
		return none, fmt.Errorf("invite: malformed offer encoding: %w", err)
	}

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return none, fmt.Errorf("invite: malformed offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return none, ErrNotOffer
	}
	if offer.SDP == "" {
		return none, fmt.Errorf("invite: offer has an empty SDP")
	}
	return offer, nil
}

// offerParam returns the raw offer parameter of link.
func offerParam(link string) (string, error) {
	query := link
	if i := strings.IndexByte(link, '?'); i >= 0 {
		query = link[i+1:]
	}
	if i := strings.IndexByte(query, '#'); i >= 0 {
		query = query[:i]
	}

	values, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("invite: malformed query: %w", err)
	}

	encoded := values.Get(QueryParam)
	if encoded == "" {
		return "", ErrNoOffer
	}
	return encoded, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, with or without
// padding. Spaces are read back as '+', which is what an unescaped standard
// base64 payload turns into after query decoding.
func decodeBase64(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "+")
	s = strings.TrimRight(s, "=")

	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
