package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/1ureka/peercall/internal/invite"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
)

// JoinCall answers the offer carried by an invite link:
//  1. Decode the offer from the link
//  2. Create the peer connection and attach local tracks
//  3. Apply the offer and create the answer
//  4. Publish the answer; the call is active from here on
//
// A link without an offer returns invite.ErrNoOffer.
func JoinCall(ctx context.Context, area storage.Area, link string, opts Options) (*Call, error) {
	// ── 1. Offer ───────────────────────────────────────────────────────
	offer, err := invite.Decode(link)
	if err != nil {
		return nil, err
	}

	// ── 2. Peer connection ─────────────────────────────────────────────
	c, err := newCall(ctx, "callee", area, opts)
	if err != nil {
		return nil, err
	}

	// ── 3. Answer ──────────────────────────────────────────────────────
	if err := c.peer.SetRemoteDescription(offer); err != nil {
		c.Close()
		return nil, fmt.Errorf("apply offer: %w", err)
	}
	answer, err := c.peer.CreateAnswer()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create answer: %w", err)
	}
	answer, err = c.describe(ctx, answer)
	if err != nil {
		c.Close()
		return nil, err
	}

	// ── 4. Publish ─────────────────────────────────────────────────────
	data, err := json.Marshal(answer)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	if err := area.SetItem(ctx, storage.KeyAnswer, string(data)); err != nil {
		c.Close()
		return nil, fmt.Errorf("publish answer: %w", err)
	}
	util.LogDebug("[callee] answer published")
	c.markActive()

	c.start()
	return c, nil
}
