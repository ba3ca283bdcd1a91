package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"swarmnode/internal/wire"
)

// Cheque is the signed, monotonically non-decreasing payment promise
// exchanged between a (chequebook, beneficiary) pair (spec §3, §4.6).
type Cheque struct {
	Chequebook       common.Address `json:"chequebook"`
	Beneficiary      common.Address `json:"beneficiary"`
	CumulativePayout *uint256.Int   `json:"cumulativePayout"`
	Signature        []byte         `json:"signature"`
}

func (c Cheque) digest() []byte {
	buf := make([]byte, 0, 20+20+32)
	buf = append(buf, c.Chequebook.Bytes()...)
	buf = append(buf, c.Beneficiary.Bytes()...)
	buf = append(buf, wire.EncodeU256(c.CumulativePayout)...)
	return crypto.Keccak256(buf)
}

// ChequeSigner signs a cheque digest with the chequebook owner's key.
type ChequeSigner func(digest []byte) ([]byte, error)

// Swap settles debt by issuing cheques with a strictly non-decreasing
// cumulative payout against a chequebook/beneficiary pair (spec §4.6
// "swap", §8 invariant 4). It never forgives debt on its own — PreAllow is
// always zero — settlement only happens when Settle is invoked.
type Swap struct {
	chequebook       common.Address
	beneficiary      common.Address
	sign             ChequeSigner
	cumulativePayout atomic.Pointer[uint256.Int]
	lastCheque       atomic.Pointer[Cheque]
	chainID          uint64
}

// NewSwap constructs a Swap provider. cumulativePayout is the payout
// already promised to beneficiary as of process start (persisted state,
// spec §6), used to enforce monotonicity across restarts.
func NewSwap(chequebook, beneficiary common.Address, chainID uint64, cumulativePayout *uint256.Int, sign ChequeSigner) *Swap {
	s := &Swap{chequebook: chequebook, beneficiary: beneficiary, chainID: chainID, sign: sign}
	if cumulativePayout == nil {
		cumulativePayout = uint256.NewInt(0)
	}
	s.cumulativePayout.Store(cumulativePayout)
	return s
}

// PreAllow never forgives debt; swap only moves real value via Settle.
func (s *Swap) PreAllow(_ time.Time, _ int64) int64 { return 0 }

// Settle issues a new cheque raising cumulative payout by debtAU and
// returns debtAU as settled once the cheque is signed. The caller
// (accounting) is responsible for transmitting the EmitCheque wire message
// and waiting for the counterparty's acceptance before treating the debt
// as discharged on its own books; Settle here models the local signing
// half of that exchange.
func (s *Swap) Settle(_ context.Context, debtAU int64) (int64, error) {
	if debtAU <= 0 {
		return 0, nil
	}
	prev := s.cumulativePayout.Load()
	next := new(uint256.Int).Add(prev, uint256.NewInt(uint64(debtAU)))

	c := &Cheque{Chequebook: s.chequebook, Beneficiary: s.beneficiary, CumulativePayout: next}
	sig, err := s.sign(c.digest())
	if err != nil {
		return 0, fmt.Errorf("settlement: sign cheque: %w", err)
	}
	c.Signature = sig

	if !s.cumulativePayout.CompareAndSwap(prev, next) {
		return 0, fmt.Errorf("settlement: concurrent cheque issuance for beneficiary %s", s.beneficiary)
	}
	s.lastCheque.Store(c)
	return debtAU, nil
}

func (s *Swap) Name() string { return "swap" }

// EmitChequeMessage builds the wire message for the most recently issued
// cheque, ready to send over a headered stream. It fails if Settle has never
// been called, since there is no cheque to emit yet.
func (s *Swap) EmitChequeMessage() (wire.EmitCheque, error) {
	c := s.lastCheque.Load()
	if c == nil {
		return wire.EmitCheque{}, fmt.Errorf("settlement: no cheque issued yet for beneficiary %s", s.beneficiary)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return wire.EmitCheque{}, fmt.Errorf("settlement: marshal cheque: %w", err)
	}
	return wire.EmitCheque{ChequeJSON: payload}, nil
}

// VerifyCheque validates that wc is a well-formed, monotonically
// non-decreasing cheque signed by the expected chequebook owner
// (spec §8 invariant 4).
func VerifyCheque(wc wire.Cheque, previousPayout *uint256.Int, expectedSigner common.Address) (*Cheque, error) {
	payout, err := wire.DecodeU256(wc.CumulativePayout)
	if err != nil {
		return nil, fmt.Errorf("settlement: decode cumulative payout: %w", err)
	}
	c := &Cheque{
		Chequebook:       common.BytesToAddress(wc.Chequebook),
		Beneficiary:      common.BytesToAddress(wc.Beneficiary),
		CumulativePayout: payout,
		Signature:        wc.Signature,
	}
	if previousPayout != nil && payout.Cmp(previousPayout) < 0 {
		return nil, fmt.Errorf("settlement: cumulative payout decreased: %s -> %s", previousPayout, payout)
	}
	ok, err := verifyChequeSignature(c, expectedSigner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("settlement: cheque signature does not match chequebook owner")
	}
	return c, nil
}

// SendCheque transmits the most recently issued cheque to the peer and
// blocks for its acknowledgement before the caller may treat the debt as
// settled on its own books (spec §4.6 "on peer acknowledgement reduces our
// debt", §6 "/swarm/swap/1.0.0/swap").
func (s *Swap) SendCheque(f *wire.Framer) error {
	msg, err := s.EmitChequeMessage()
	if err != nil {
		return err
	}
	if err := f.WriteMsg(msg.Encode()); err != nil {
		return fmt.Errorf("settlement: write emit cheque: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("settlement: read cheque ack: %w", err)
	}
	if _, err := wire.DecodePaymentAck(raw); err != nil {
		return fmt.Errorf("settlement: decode cheque ack: %w", err)
	}
	return nil
}

// ServeCheque reads an inbound EmitCheque message, verifies it against the
// expected chequebook owner and the previous cumulative payout, acknowledges
// it, and returns the verified cheque so the caller can confirm the
// corresponding payment against accounting.
func ServeCheque(f *wire.Framer, previousPayout *uint256.Int, expectedSigner common.Address) (*Cheque, error) {
	raw, err := f.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("settlement: read emit cheque: %w", err)
	}
	msg, err := wire.DecodeEmitCheque(raw)
	if err != nil {
		return nil, fmt.Errorf("settlement: decode emit cheque: %w", err)
	}
	var decoded Cheque
	if err := json.Unmarshal(msg.ChequeJSON, &decoded); err != nil {
		return nil, fmt.Errorf("settlement: unmarshal cheque json: %w", err)
	}
	wc := wire.Cheque{
		Chequebook:       decoded.Chequebook.Bytes(),
		Beneficiary:      decoded.Beneficiary.Bytes(),
		CumulativePayout: wire.EncodeU256(decoded.CumulativePayout),
		Signature:        decoded.Signature,
	}
	c, err := VerifyCheque(wc, previousPayout, expectedSigner)
	if err != nil {
		return nil, err
	}

	ack := wire.PaymentAck{Amount: wire.EncodeU256(c.CumulativePayout), TimestampNano: time.Now().UnixNano()}
	if err := f.WriteMsg(ack.Encode()); err != nil {
		return nil, fmt.Errorf("settlement: write cheque ack: %w", err)
	}
	return c, nil
}

func verifyChequeSignature(c *Cheque, expectedSigner common.Address) (bool, error) {
	if len(c.Signature) != 65 {
		return false, fmt.Errorf("settlement: cheque signature must be 65 bytes, got %d", len(c.Signature))
	}
	pub, err := crypto.SigToPub(c.digest(), c.Signature)
	if err != nil {
		return false, err
	}
	return crypto.PubkeyToAddress(*pub) == expectedSigner, nil
}
