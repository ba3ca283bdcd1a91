// Package pushsync implements the chunk-replication protocol handler
// shell (supplemented feature per SPEC_FULL.md §4, grounded on
// original_source/): forward a freshly uploaded chunk to the peer closest
// to its address, paying that peer to store it, and relay a receipt back.
// Storage and validation are out of scope (spec §1 Non-goals) — ChunkSink
// is the external interface the embedder supplies; this package defines no
// validator interface and does not validate chunks.
package pushsync

import (
	"fmt"

	"swarmnode/internal/accounting"
	"swarmnode/internal/identity"
	"swarmnode/internal/pricing"
	"swarmnode/internal/wire"
)

// ChunkSink stores a pushed chunk; validation of its address against its
// content is the embedder's responsibility (spec Non-goals: no chunk
// format/validation logic here).
type ChunkSink interface {
	Put(addr identity.OverlayAddress, data []byte) error
}

const (
	chunkAddrField = 1
	chunkDataField = 2
)

// Chunk is the pushed payload.
type Chunk struct {
	Addr []byte
	Data []byte
}

func (c Chunk) Encode() []byte {
	var buf []byte
	buf = wire.AppendBytesField(buf, chunkAddrField, c.Addr)
	buf = wire.AppendBytesField(buf, chunkDataField, c.Data)
	return buf
}

func DecodeChunk(b []byte) (Chunk, error) {
	fields, err := wire.DecodeFields(b)
	if err != nil {
		return Chunk{}, err
	}
	var c Chunk
	for _, f := range fields {
		switch f.Num {
		case chunkAddrField:
			c.Addr = f.Bytes
		case chunkDataField:
			c.Data = f.Bytes
		}
	}
	return c, nil
}

const (
	receiptAddrField      = 1
	receiptStorerSigField = 2
)

// Receipt is returned by the storing peer as proof of custody.
type Receipt struct {
	Addr      []byte
	StorerSig []byte
}

func (r Receipt) Encode() []byte {
	var buf []byte
	buf = wire.AppendBytesField(buf, receiptAddrField, r.Addr)
	buf = wire.AppendBytesField(buf, receiptStorerSigField, r.StorerSig)
	return buf
}

func DecodeReceipt(b []byte) (Receipt, error) {
	fields, err := wire.DecodeFields(b)
	if err != nil {
		return Receipt{}, err
	}
	var r Receipt
	for _, f := range fields {
		switch f.Num {
		case receiptAddrField:
			r.Addr = f.Bytes
		case receiptStorerSigField:
			r.StorerSig = f.Bytes
		}
	}
	return r, nil
}

// Storer handles an inbound pushed chunk: store it, sign a receipt, and
// credit the accounting balance against the pusher.
type Storer struct {
	sink   ChunkSink
	pricer *pricing.Pricer
	self   identity.OverlayAddress
	sign   func(digest []byte) ([]byte, error)
}

func NewStorer(self identity.OverlayAddress, sink ChunkSink, pricer *pricing.Pricer, sign func([]byte) ([]byte, error)) *Storer {
	return &Storer{self: self, sink: sink, pricer: pricer, sign: sign}
}

// Handle processes one inbound chunk push over an already-framed stream.
func (s *Storer) Handle(f *wire.Framer, pusherOverlay identity.OverlayAddress, acct *accounting.Handle) error {
	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("pushsync: read chunk: %w", err)
	}
	chunk, err := DecodeChunk(raw)
	if err != nil {
		return fmt.Errorf("pushsync: decode chunk: %w", err)
	}

	var addr identity.OverlayAddress
	copy(addr[:], chunk.Addr)
	if err := s.sink.Put(addr, chunk.Data); err != nil {
		return fmt.Errorf("pushsync: store chunk: %w", err)
	}

	price := s.pricer.PeerPrice(pusherOverlay, addr)
	reservation, err := acct.PrepareCredit(price)
	if err != nil {
		return fmt.Errorf("pushsync: prepare credit: %w", err)
	}

	sig, err := s.sign(addr.Bytes())
	if err != nil {
		acct.Release(reservation)
		return fmt.Errorf("pushsync: sign receipt: %w", err)
	}
	if err := f.WriteMsg(Receipt{Addr: chunk.Addr, StorerSig: sig}.Encode()); err != nil {
		acct.Release(reservation)
		return fmt.Errorf("pushsync: write receipt: %w", err)
	}
	acct.Apply(reservation)
	return nil
}

// Pusher forwards a locally originated chunk to the storing peer and
// waits for its receipt, debiting the accounting balance for the price
// the caller supplies.
type Pusher struct {
	self identity.OverlayAddress
}

func NewPusher(self identity.OverlayAddress) *Pusher { return &Pusher{self: self} }

// Push sends addr/data and returns the storer's receipt, having reserved
// and applied the debit for priceAU (computed by the caller from the same
// pricing.Pricer the storer used, since the wire receipt itself carries no
// price field — only a signed proof of custody).
func (p *Pusher) Push(f *wire.Framer, addr identity.OverlayAddress, data []byte, priceAU int64, acct *accounting.Handle) (Receipt, error) {
	if err := f.WriteMsg(Chunk{Addr: addr.Bytes(), Data: data}.Encode()); err != nil {
		return Receipt{}, fmt.Errorf("pushsync: write chunk: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return Receipt{}, fmt.Errorf("pushsync: read receipt: %w", err)
	}
	receipt, err := DecodeReceipt(raw)
	if err != nil {
		return Receipt{}, fmt.Errorf("pushsync: decode receipt: %w", err)
	}

	reservation, _, err := acct.PrepareDebit(priceAU)
	if err != nil {
		return Receipt{}, fmt.Errorf("pushsync: prepare debit: %w", err)
	}
	acct.Apply(reservation)
	return receipt, nil
}
