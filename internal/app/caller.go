package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/1ureka/peercall/internal/invite"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
)

// StartCall creates an offer and returns a call whose InviteLink carries it:
//  1. Create the peer connection and attach local tracks
//  2. Create the offer and wait for ICE gathering
//  3. Build the invite link and publish the offer
//  4. Watch the storage area for the answer and remote candidates
//
// The call becomes active once the callee's answer is applied.
func StartCall(ctx context.Context, area storage.Area, opts Options) (*Call, error) {
	if opts.Origin == "" {
		return nil, fmt.Errorf("app: origin is required to build an invite link")
	}

	// ── 1. Peer connection ─────────────────────────────────────────────
	c, err := newCall(ctx, "caller", area, opts)
	if err != nil {
		return nil, err
	}

	// ── 2. Offer ───────────────────────────────────────────────────────
	offer, err := c.peer.CreateOffer()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	offer, err = c.describe(ctx, offer)
	if err != nil {
		c.Close()
		return nil, err
	}

	// ── 3. Invite link ─────────────────────────────────────────────────
	link, err := invite.Encode(opts.Origin, offer)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.link = link

	data, err := json.Marshal(offer)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("encode offer: %w", err)
	}
	if err := area.SetItem(ctx, storage.KeyOffer, string(data)); err != nil {
		c.Close()
		return nil, fmt.Errorf("publish offer: %w", err)
	}
	util.LogDebug("[caller] offer published")

	// ── 4. Watch for the answer ────────────────────────────────────────
	c.start()
	return c, nil
}
