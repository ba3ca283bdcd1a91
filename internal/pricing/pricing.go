// Package pricing implements the proximity-weighted per-chunk price (C4,
// spec §4.4) and the pricing protocol's payment-threshold announcement
// (spec §4.5 "Pricing protocol", §6).
package pricing

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

// AnnounceTimeout bounds how long either side of the pricing protocol waits
// for the other's AnnouncePaymentThreshold message before giving up
// (spec §4.5 "Pricing protocol", §5).
const AnnounceTimeout = 10 * time.Second

// DefaultBasePriceAU is the default per-unit-distance price (spec §4.4).
const DefaultBasePriceAU = 10_000

// MinAnnouncedThresholdAU is the floor below which an announced payment
// threshold is rejected (spec §4.5).
const MinAnnouncedThresholdAU = 1000

// Pricer computes the price of a chunk transfer relative to a peer's
// proximity to that chunk.
type Pricer struct {
	basePrice int64
	maxPO     int
}

// New constructs a Pricer. maxPO defaults to identity.MaxPO and basePrice to
// DefaultBasePriceAU when zero.
func New(basePrice int64, maxPO int) *Pricer {
	if basePrice == 0 {
		basePrice = DefaultBasePriceAU
	}
	if maxPO == 0 {
		maxPO = identity.MaxPO
	}
	return &Pricer{basePrice: basePrice, maxPO: maxPO}
}

// PeerPrice computes (max_po - proximity + 1) * base_price (spec §4.4).
// Chunks close to a peer (high proximity) are cheap because many peers can
// serve them; far chunks are expensive.
func (p *Pricer) PeerPrice(peerOverlay, chunkAddr identity.OverlayAddress) int64 {
	po := identity.Proximity(peerOverlay, chunkAddr)
	if po > p.maxPO {
		po = p.maxPO
	}
	return int64(p.maxPO-po+1) * p.basePrice
}

// BasePrice returns the configured base price.
func (p *Pricer) BasePrice() int64 { return p.basePrice }

// ValidateAnnouncedThreshold enforces the floor below which an announced
// payment threshold is rejected at pricing time (spec §4.5).
func ValidateAnnouncedThreshold(thresholdAU int64) error {
	if thresholdAU < MinAnnouncedThresholdAU {
		return fmt.Errorf("pricing: announced threshold %d AU below floor %d AU", thresholdAU, MinAnnouncedThresholdAU)
	}
	return nil
}

func encodeThresholdAU(thresholdAU int64) []byte {
	return wire.EncodeU256(uint256.NewInt(uint64(thresholdAU)))
}

func decodeThresholdAU(b []byte) (int64, error) {
	v, err := wire.DecodeU256(b)
	if err != nil {
		return 0, fmt.Errorf("pricing: decode announced threshold: %w", err)
	}
	return int64(v.Uint64()), nil
}

// AnnounceThreshold runs the dialer side of the pricing protocol over an
// already-opened stream (spec §4.5 "Pricing protocol", §6
// "/swarm/pricing/1.0.0/pricing"): send our announced payment threshold and
// read back the peer's. It is symmetric with Serve — each side of a newly
// authenticated connection opens its own outbound pricing stream, so
// neither side waits on the other to go first.
func AnnounceThreshold(f *wire.Framer, ourThresholdAU int64) (theirThresholdAU int64, err error) {
	if err := ValidateAnnouncedThreshold(ourThresholdAU); err != nil {
		return 0, err
	}
	msg := wire.AnnouncePaymentThreshold{PaymentThreshold: encodeThresholdAU(ourThresholdAU)}
	if err := f.WriteMsg(msg.Encode()); err != nil {
		return 0, fmt.Errorf("pricing: write announced threshold: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return 0, fmt.Errorf("pricing: read peer threshold: %w", err)
	}
	reply, err := wire.DecodeAnnouncePaymentThreshold(raw)
	if err != nil {
		return 0, fmt.Errorf("pricing: decode peer threshold: %w", err)
	}
	theirThresholdAU, err = decodeThresholdAU(reply.PaymentThreshold)
	if err != nil {
		return 0, err
	}
	if err := ValidateAnnouncedThreshold(theirThresholdAU); err != nil {
		return 0, err
	}
	return theirThresholdAU, nil
}

// Serve runs the listener side of the pricing protocol: read the peer's
// announced threshold, reply with ours, and return theirs.
func Serve(f *wire.Framer, ourThresholdAU int64) (theirThresholdAU int64, err error) {
	raw, err := f.ReadMsg()
	if err != nil {
		return 0, fmt.Errorf("pricing: read peer threshold: %w", err)
	}
	req, err := wire.DecodeAnnouncePaymentThreshold(raw)
	if err != nil {
		return 0, fmt.Errorf("pricing: decode peer threshold: %w", err)
	}
	theirThresholdAU, err = decodeThresholdAU(req.PaymentThreshold)
	if err != nil {
		return 0, err
	}
	if err := ValidateAnnouncedThreshold(theirThresholdAU); err != nil {
		return 0, err
	}

	reply := wire.AnnouncePaymentThreshold{PaymentThreshold: encodeThresholdAU(ourThresholdAU)}
	if err := f.WriteMsg(reply.Encode()); err != nil {
		return 0, fmt.Errorf("pricing: write our threshold: %w", err)
	}
	return theirThresholdAU, nil
}
