// Package identity implements the node's process-wide overlay identity (C1):
// a 32-byte overlay address derived from an Ethereum signing key, a network
// id, and a nonce, plus the signing capability handshake payloads rely on.
package identity

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NodeKind classifies the role a node advertises during handshake.
type NodeKind int

const (
	Client NodeKind = iota
	Bootnode
	Storer
)

func (k NodeKind) String() string {
	switch k {
	case Bootnode:
		return "bootnode"
	case Storer:
		return "storer"
	default:
		return "client"
	}
}

// OverlayAddress is the 32-byte DHT identifier (spec §3).
type OverlayAddress [32]byte

func (o OverlayAddress) Bytes() []byte { return o[:] }

func (o OverlayAddress) String() string {
	return fmt.Sprintf("%x", o[:])
}

// Compute derives the overlay address: keccak256(ethAddr ‖ networkID_be ‖ nonce).
func Compute(ethAddr common.Address, networkID uint64, nonce []byte) OverlayAddress {
	var netBuf [8]byte
	binary.BigEndian.PutUint64(netBuf[:], networkID)

	buf := make([]byte, 0, len(ethAddr)+8+len(nonce))
	buf = append(buf, ethAddr.Bytes()...)
	buf = append(buf, netBuf[:]...)
	buf = append(buf, nonce...)

	var out OverlayAddress
	copy(out[:], crypto.Keccak256(buf))
	return out
}

// Identity is the process-wide signing identity, immutable after creation
// and safe to share by reference across every component.
type Identity struct {
	signFn    func(digest []byte) ([]byte, error)
	ethAddr   common.Address
	nonce     []byte
	networkID uint64
	overlay   OverlayAddress
	kind      NodeKind
	fullNode  bool
}

// New constructs an Identity from a signer, a nonce (opaque, caller-managed
// keystore material per spec §6 "Persisted state"), the network id and node
// kind. signFn must produce a 65-byte recoverable ECDSA signature over the
// given digest using the same key that derived ethAddr; the key format on
// disk is out of scope (spec §1 Non-goals) and owned by the embedder.
func New(ethAddr common.Address, nonce []byte, networkID uint64, kind NodeKind, signFn func(digest []byte) ([]byte, error)) *Identity {
	return &Identity{
		signFn:    signFn,
		ethAddr:   ethAddr,
		nonce:     append([]byte(nil), nonce...),
		networkID: networkID,
		overlay:   Compute(ethAddr, networkID, nonce),
		kind:      kind,
		fullNode:  kind != Client,
	}
}

// Overlay returns this node's overlay address.
func (id *Identity) Overlay() OverlayAddress { return id.overlay }

// EthereumAddress returns the Ethereum address backing this identity.
func (id *Identity) EthereumAddress() common.Address { return id.ethAddr }

// Nonce returns the nonce used in overlay derivation.
func (id *Identity) Nonce() []byte { return append([]byte(nil), id.nonce...) }

// NetworkID returns the configured network id.
func (id *Identity) NetworkID() uint64 { return id.networkID }

// NodeKindOf returns the advertised node role.
func (id *Identity) NodeKindOf() NodeKind { return id.kind }

// IsFullNode reports whether this node advertises full-node capability.
func (id *Identity) IsFullNode() bool { return id.fullNode }

// Sign signs an arbitrary message digest with the identity's key. Callers
// are responsible for hashing the message the way the protocol requires
// (e.g. keccak256 for handshake signatures, EIP-712 for cheques).
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	return id.signFn(digest)
}

// VerifySignature recovers the signer of digest from sig and reports whether
// it matches want.
func VerifySignature(digest, sig []byte, want common.Address) (bool, error) {
	if len(sig) != 65 {
		return false, fmt.Errorf("identity: signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, err
	}
	recovered := crypto.PubkeyToAddress(*pub)
	return recovered == want, nil
}

// MaxPO is the maximum proximity order for 32-byte overlay addresses
// (spec §3): 256 bits, so the highest possible count of leading agreeing
// bits before the addresses are identical is 255, but the protocol caps
// the usable scale at 31 (spec §4.4) — MaxPO below is that protocol cap,
// not the bit-width ceiling.
const MaxPO = 31

// Proximity returns the number of identical leading bits between a and b
// (spec §3, §8 invariant 5).
func Proximity(a, b OverlayAddress) int {
	po := 0
	for i := 0; i < len(a); i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			po += 8
			continue
		}
		for x&0x80 == 0 {
			po++
			x <<= 1
		}
		break
	}
	return po
}

// IsWithinProximity reports whether proximity(a,b) >= d (spec §8 invariant 5).
func IsWithinProximity(a, b OverlayAddress, d int) bool {
	return Proximity(a, b) >= d
}

// HandshakeDigest hashes the payload a PeerRecord signature binds, per
// spec §3: `transport_listen_addrs ‖ overlay ‖ network_id_be`.
func HandshakeDigest(listenAddrs [][]byte, overlay OverlayAddress, networkID uint64) []byte {
	var netBuf [8]byte
	binary.BigEndian.PutUint64(netBuf[:], networkID)

	buf := make([]byte, 0, 256)
	for _, a := range listenAddrs {
		buf = append(buf, a...)
	}
	buf = append(buf, overlay[:]...)
	buf = append(buf, netBuf[:]...)
	return crypto.Keccak256(buf)
}
