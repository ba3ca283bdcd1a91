// Package retrieval implements the chunk-retrieval protocol handler shell
// (supplemented feature per SPEC_FULL.md §4, grounded on original_source/):
// request a chunk from a peer, price it via internal/pricing, and debit
// the requester's accounting balance for serving it. Chunk storage itself
// is out of scope (spec §1 Non-goals "storage layer implementation") —
// ChunkStore is an external interface the embedder supplies.
package retrieval

import (
	"context"
	"fmt"

	"swarmnode/internal/accounting"
	"swarmnode/internal/identity"
	"swarmnode/internal/pricing"
	"swarmnode/internal/wire"
)

// ChunkStore is the storage interface retrieval reads from; implementing
// it is out of this module's scope.
type ChunkStore interface {
	Get(addr identity.OverlayAddress) (data []byte, found bool, err error)
}

const (
	requestAddrField = 1
)

// Request asks a peer for the chunk at addr (spec: every retrieval round
// trip is priced and accounted for).
type Request struct {
	ChunkAddr []byte
}

func (r Request) Encode() []byte {
	var buf []byte
	return wire.AppendBytesField(buf, requestAddrField, r.ChunkAddr)
}

func DecodeRequest(b []byte) (Request, error) {
	fields, err := wire.DecodeFields(b)
	if err != nil {
		return Request{}, err
	}
	var r Request
	for _, f := range fields {
		if f.Num == requestAddrField {
			r.ChunkAddr = f.Bytes
		}
	}
	return r, nil
}

const (
	deliveryDataField  = 1
	deliveryPriceField = 2
)

// Delivery carries the chunk payload and the price charged for it.
type Delivery struct {
	Data     []byte
	PriceAU  int64
}

func (d Delivery) Encode() []byte {
	var buf []byte
	buf = wire.AppendBytesField(buf, deliveryDataField, d.Data)
	buf = wire.AppendVarintField(buf, deliveryPriceField, uint64(d.PriceAU))
	return buf
}

func DecodeDelivery(b []byte) (Delivery, error) {
	fields, err := wire.DecodeFields(b)
	if err != nil {
		return Delivery{}, err
	}
	var d Delivery
	for _, f := range fields {
		switch f.Num {
		case deliveryDataField:
			d.Data = f.Bytes
		case deliveryPriceField:
			d.PriceAU = int64(f.Varint)
		}
	}
	return d, nil
}

// Server handles inbound retrieval requests: fetch the chunk from the
// store, price it relative to the requester's proximity, prepare a credit
// reservation, and apply the reservation once the delivery is written.
type Server struct {
	store  ChunkStore
	pricer *pricing.Pricer
	self   identity.OverlayAddress
}

func NewServer(self identity.OverlayAddress, store ChunkStore, pricer *pricing.Pricer) *Server {
	return &Server{self: self, store: store, pricer: pricer}
}

// Serve handles one request/response round trip over an already-framed
// stream; no header exchange precedes the request.
func (s *Server) Serve(f *wire.Framer, requesterOverlay identity.OverlayAddress, acct *accounting.Handle) error {
	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("retrieval: read request: %w", err)
	}
	req, err := DecodeRequest(raw)
	if err != nil {
		return fmt.Errorf("retrieval: decode request: %w", err)
	}

	var chunkAddr identity.OverlayAddress
	copy(chunkAddr[:], req.ChunkAddr)

	data, found, err := s.store.Get(chunkAddr)
	if err != nil {
		return fmt.Errorf("retrieval: store lookup: %w", err)
	}
	if !found {
		return fmt.Errorf("retrieval: chunk %s not found", chunkAddr)
	}

	price := s.pricer.PeerPrice(requesterOverlay, chunkAddr)
	reservation, err := acct.PrepareCredit(price)
	if err != nil {
		return fmt.Errorf("retrieval: prepare credit: %w", err)
	}

	if err := f.WriteMsg(Delivery{Data: data, PriceAU: price}.Encode()); err != nil {
		acct.Release(reservation)
		return fmt.Errorf("retrieval: write delivery: %w", err)
	}
	acct.Apply(reservation)
	return nil
}

// Client requests a chunk from a peer, preparing a debit reservation for
// the announced price before releasing it to the caller.
type Client struct {
	self identity.OverlayAddress
}

func NewClient(self identity.OverlayAddress) *Client { return &Client{self: self} }

// Fetch sends a Request and returns the delivered chunk, having reserved
// and applied the debit for the price the server announced.
func (c *Client) Fetch(f *wire.Framer, chunkAddr identity.OverlayAddress, acct *accounting.Handle) ([]byte, error) {
	if err := f.WriteMsg(Request{ChunkAddr: chunkAddr.Bytes()}.Encode()); err != nil {
		return nil, fmt.Errorf("retrieval: write request: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("retrieval: read delivery: %w", err)
	}
	delivery, err := DecodeDelivery(raw)
	if err != nil {
		return nil, fmt.Errorf("retrieval: decode delivery: %w", err)
	}

	reservation, triggerSettle, err := acct.PrepareDebit(delivery.PriceAU)
	if err != nil {
		return nil, fmt.Errorf("retrieval: prepare debit: %w", err)
	}
	acct.Apply(reservation)
	if triggerSettle {
		// Settlement runs asynchronously and outlives this fetch; callers
		// that need it tied to node shutdown should call acct.Settle
		// themselves with their own context instead of relying on this
		// fire-and-forget trigger.
		go func() { _, _ = acct.Settle(context.Background()) }()
	}
	return delivery.Data, nil
}
