package wire

import "fmt"

// Field numbers below are stable across the module; they exist purely to
// keep the hand-rolled codec's wire shape consistent with itself, since
// there is no .proto source of truth generating it.

//---------------------------------------------------------------------
// PeerRecord — embedded in SynAck/Ack (spec §3, §6).
//---------------------------------------------------------------------

const (
	peerRecordMultiaddrsField = 1 // repeated bytes
	peerRecordSignatureField  = 2
	peerRecordOverlayField    = 3
	peerRecordNonceField      = 4
	peerRecordEthAddrField    = 5
)

// PeerRecord is the authenticated peer record carried in SynAck/Ack.
type PeerRecord struct {
	Multiaddrs [][]byte
	Signature  []byte
	Overlay    []byte
	Nonce      []byte
	EthAddr    []byte
}

func (p PeerRecord) encodeInto(buf []byte) []byte {
	for _, a := range p.Multiaddrs {
		buf = AppendBytesField(buf, peerRecordMultiaddrsField, a)
	}
	buf = AppendBytesField(buf, peerRecordSignatureField, p.Signature)
	buf = AppendBytesField(buf, peerRecordOverlayField, p.Overlay)
	buf = AppendBytesField(buf, peerRecordNonceField, p.Nonce)
	buf = AppendBytesField(buf, peerRecordEthAddrField, p.EthAddr)
	return buf
}

func decodePeerRecord(fields []Field) (PeerRecord, error) {
	var p PeerRecord
	for _, f := range fields {
		switch f.Num {
		case peerRecordMultiaddrsField:
			p.Multiaddrs = append(p.Multiaddrs, f.Bytes)
		case peerRecordSignatureField:
			p.Signature = f.Bytes
		case peerRecordOverlayField:
			p.Overlay = f.Bytes
		case peerRecordNonceField:
			p.Nonce = f.Bytes
		case peerRecordEthAddrField:
			p.EthAddr = f.Bytes
		}
	}
	// Empty multiaddrs round-trip as an empty PeerRecord; the "at least one
	// listen address" invariant (spec §3) is enforced by the handshake
	// engine, not the wire codec, so a zero-value record still decodes.
	return p, nil
}

//---------------------------------------------------------------------
// Syn / SynAck / Ack (spec §4.2, §6)
//---------------------------------------------------------------------

const (
	synObservedField = 1
)

// Syn is the dialer's first handshake message: the underlay address it
// observed the listener at (NAT feedback, spec §4.2).
type Syn struct {
	ObservedMultiaddr []byte
}

func (s Syn) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, synObservedField, s.ObservedMultiaddr)
}

func DecodeSyn(b []byte) (Syn, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Syn{}, err
	}
	var s Syn
	for _, f := range fields {
		if f.Num == synObservedField {
			s.ObservedMultiaddr = f.Bytes
		}
	}
	return s, nil
}

const (
	ackObservedField    = 1 // SynAck only: observed underlay of the dialer
	ackRecordField      = 2
	ackNetworkIDField   = 3
	ackFullNodeField    = 4
	ackWelcomeField     = 5
)

// SynAck is the listener's reply.
type SynAck struct {
	ObservedUnderlayOfDialer []byte
	Record                   PeerRecord
	NetworkID                uint64
	FullNode                 bool
	Welcome                  string
}

func (a SynAck) Encode() []byte {
	var buf []byte
	buf = AppendBytesField(buf, ackObservedField, a.ObservedUnderlayOfDialer)
	buf = AppendBytesField(buf, ackRecordField, a.Record.encodeInto(nil))
	buf = AppendVarintField(buf, ackNetworkIDField, a.NetworkID)
	buf = AppendBoolField(buf, ackFullNodeField, a.FullNode)
	buf = AppendBytesField(buf, ackWelcomeField, []byte(a.Welcome))
	return buf
}

func DecodeSynAck(b []byte) (SynAck, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return SynAck{}, err
	}
	var a SynAck
	for _, f := range fields {
		switch f.Num {
		case ackObservedField:
			a.ObservedUnderlayOfDialer = f.Bytes
		case ackRecordField:
			rf, err := DecodeFields(f.Bytes)
			if err != nil {
				return SynAck{}, fmt.Errorf("wire: decode synack record: %w", err)
			}
			a.Record, err = decodePeerRecord(rf)
			if err != nil {
				return SynAck{}, err
			}
		case ackNetworkIDField:
			a.NetworkID = f.Varint
		case ackFullNodeField:
			a.FullNode = f.Varint != 0
		case ackWelcomeField:
			a.Welcome = string(f.Bytes)
		}
	}
	return a, nil
}

// Ack is the dialer's final handshake message. Same shape as SynAck minus
// the NAT-observation field (spec §4.2).
type Ack struct {
	Record    PeerRecord
	NetworkID uint64
	FullNode  bool
	Welcome   string
}

func (a Ack) Encode() []byte {
	var buf []byte
	buf = AppendBytesField(buf, ackRecordField, a.Record.encodeInto(nil))
	buf = AppendVarintField(buf, ackNetworkIDField, a.NetworkID)
	buf = AppendBoolField(buf, ackFullNodeField, a.FullNode)
	buf = AppendBytesField(buf, ackWelcomeField, []byte(a.Welcome))
	return buf
}

func DecodeAck(b []byte) (Ack, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Ack{}, err
	}
	var a Ack
	for _, f := range fields {
		switch f.Num {
		case ackRecordField:
			rf, err := DecodeFields(f.Bytes)
			if err != nil {
				return Ack{}, fmt.Errorf("wire: decode ack record: %w", err)
			}
			a.Record, err = decodePeerRecord(rf)
			if err != nil {
				return Ack{}, err
			}
		case ackNetworkIDField:
			a.NetworkID = f.Varint
		case ackFullNodeField:
			a.FullNode = f.Varint != 0
		case ackWelcomeField:
			a.Welcome = string(f.Bytes)
		}
	}
	return a, nil
}

//---------------------------------------------------------------------
// Pricing: AnnouncePaymentThreshold (spec §4.5, §6)
//---------------------------------------------------------------------

const announceThresholdField = 1

type AnnouncePaymentThreshold struct {
	PaymentThreshold []byte // big-endian u256, trimmed
}

func (m AnnouncePaymentThreshold) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, announceThresholdField, m.PaymentThreshold)
}

func DecodeAnnouncePaymentThreshold(b []byte) (AnnouncePaymentThreshold, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return AnnouncePaymentThreshold{}, err
	}
	var m AnnouncePaymentThreshold
	for _, f := range fields {
		if f.Num == announceThresholdField {
			m.PaymentThreshold = f.Bytes
		}
	}
	return m, nil
}

//---------------------------------------------------------------------
// Pseudosettle: Payment / PaymentAck (spec §4.6, §6)
//---------------------------------------------------------------------

const paymentAmountField = 1

type Payment struct {
	Amount []byte
}

func (m Payment) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, paymentAmountField, m.Amount)
}

func DecodePayment(b []byte) (Payment, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Payment{}, err
	}
	var m Payment
	for _, f := range fields {
		if f.Num == paymentAmountField {
			m.Amount = f.Bytes
		}
	}
	return m, nil
}

const (
	paymentAckAmountField    = 1
	paymentAckTimestampField = 2
)

type PaymentAck struct {
	Amount        []byte
	TimestampNano int64
}

func (m PaymentAck) Encode() []byte {
	var buf []byte
	buf = AppendBytesField(buf, paymentAckAmountField, m.Amount)
	buf = AppendVarintField(buf, paymentAckTimestampField, uint64(m.TimestampNano))
	return buf
}

func DecodePaymentAck(b []byte) (PaymentAck, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return PaymentAck{}, err
	}
	var m PaymentAck
	for _, f := range fields {
		switch f.Num {
		case paymentAckAmountField:
			m.Amount = f.Bytes
		case paymentAckTimestampField:
			m.TimestampNano = int64(f.Varint)
		}
	}
	return m, nil
}

//---------------------------------------------------------------------
// Swap: Cheque / EmitCheque (spec §3, §4.6, §6)
//---------------------------------------------------------------------

const (
	chequeChequebookField  = 1
	chequeBeneficiaryField = 2
	chequePayoutField      = 3
	chequeSignatureField   = 4
)

type Cheque struct {
	Chequebook        []byte // 20 bytes
	Beneficiary       []byte // 20 bytes
	CumulativePayout  []byte // big-endian u256, trimmed
	Signature         []byte // EIP-712 signature
}

func (c Cheque) Encode() []byte {
	var buf []byte
	buf = AppendBytesField(buf, chequeChequebookField, c.Chequebook)
	buf = AppendBytesField(buf, chequeBeneficiaryField, c.Beneficiary)
	buf = AppendBytesField(buf, chequePayoutField, c.CumulativePayout)
	buf = AppendBytesField(buf, chequeSignatureField, c.Signature)
	return buf
}

func DecodeCheque(b []byte) (Cheque, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Cheque{}, err
	}
	var c Cheque
	for _, f := range fields {
		switch f.Num {
		case chequeChequebookField:
			c.Chequebook = f.Bytes
		case chequeBeneficiaryField:
			c.Beneficiary = f.Bytes
		case chequePayoutField:
			c.CumulativePayout = f.Bytes
		case chequeSignatureField:
			c.Signature = f.Bytes
		}
	}
	return c, nil
}

const emitChequeJSONField = 1

// EmitCheque carries the cheque as JSON (spec §6: "JSON-in-protobuf for
// cheques").
type EmitCheque struct {
	ChequeJSON []byte
}

func (m EmitCheque) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, emitChequeJSONField, m.ChequeJSON)
}

func DecodeEmitCheque(b []byte) (EmitCheque, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return EmitCheque{}, err
	}
	var m EmitCheque
	for _, f := range fields {
		if f.Num == emitChequeJSONField {
			m.ChequeJSON = f.Bytes
		}
	}
	return m, nil
}

//---------------------------------------------------------------------
// Hive: Peers (spec §4.9, §6)
//---------------------------------------------------------------------

const peersRecordField = 1

type Peers struct {
	Records []PeerRecord
}

func (p Peers) Encode() []byte {
	var buf []byte
	for _, r := range p.Records {
		buf = AppendBytesField(buf, peersRecordField, r.encodeInto(nil))
	}
	return buf
}

func DecodePeers(b []byte) (Peers, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Peers{}, err
	}
	var p Peers
	for _, f := range fields {
		if f.Num != peersRecordField {
			continue
		}
		rf, err := DecodeFields(f.Bytes)
		if err != nil {
			return Peers{}, fmt.Errorf("wire: decode peers entry: %w", err)
		}
		rec, err := decodePeerRecord(rf)
		if err != nil {
			return Peers{}, err
		}
		p.Records = append(p.Records, rec)
	}
	return p, nil
}

//---------------------------------------------------------------------
// Pingpong (supplemented, spec §6 + original_source)
//---------------------------------------------------------------------

const pingGreetingField = 1

type Ping struct {
	Greeting string
}

func (m Ping) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, pingGreetingField, []byte(m.Greeting))
}

func DecodePing(b []byte) (Ping, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Ping{}, err
	}
	var m Ping
	for _, f := range fields {
		if f.Num == pingGreetingField {
			m.Greeting = string(f.Bytes)
		}
	}
	return m, nil
}

const pongResponseField = 1

type Pong struct {
	Response string
}

func (m Pong) Encode() []byte {
	var buf []byte
	return AppendBytesField(buf, pongResponseField, []byte(m.Response))
}

func DecodePong(b []byte) (Pong, error) {
	fields, err := DecodeFields(b)
	if err != nil {
		return Pong{}, err
	}
	var m Pong
	for _, f := range fields {
		if f.Num == pongResponseField {
			m.Response = string(f.Bytes)
		}
	}
	return m, nil
}
