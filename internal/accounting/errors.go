package accounting

import "errors"

// ErrDisconnectThreshold is returned when granting a reservation would push
// the peer's debt past disconnect_threshold (spec §4.5, §8 invariant 1/2);
// the caller must refuse the transfer and drop the peer.
var ErrDisconnectThreshold = errors.New("accounting: disconnect threshold exceeded")

// ErrUnknownPeer is returned when an operation references a peer that has
// no accounting state yet.
var ErrUnknownPeer = errors.New("accounting: unknown peer")

// ErrUnknownReservation names a reservation that was already applied,
// released, or never existed. Handle.Apply and Handle.Release return no
// error and do not track resolved reservations, so nothing in this package
// returns it.
var ErrUnknownReservation = errors.New("accounting: unknown or already-resolved reservation")
