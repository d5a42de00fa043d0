package deed

import (
	"encoding/hex"
	"strconv"

	"deedchain/core/types"
)

const (
	EventTypeDeedMinted      = "deed.minted"
	EventTypeDeedTransferred = "deed.transferred"
)

// NewMintedEvent returns the canonical event payload for a newly minted deed.
func NewMintedEvent(d *Deed) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["tokenId"] = strconv.FormatUint(d.TokenID, 10)
		attrs["owner"] = hex.EncodeToString(d.Owner[:])
		attrs["uri"] = d.URI
	}
	return &types.Event{Type: EventTypeDeedMinted, Attributes: attrs}
}

// NewTransferredEvent returns the canonical event payload for a deed transfer.
func NewTransferredEvent(d *Deed, from [20]byte) *types.Event {
	attrs := make(map[string]string)
	if d != nil {
		attrs["tokenId"] = strconv.FormatUint(d.TokenID, 10)
		attrs["from"] = hex.EncodeToString(from[:])
		attrs["to"] = hex.EncodeToString(d.Owner[:])
	}
	return &types.Event{Type: EventTypeDeedTransferred, Attributes: attrs}
}
