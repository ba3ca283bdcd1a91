package topology

import "errors"

// ErrBinSaturated is returned by Pick when a candidate's bin has no room
// and no stale connection could be evicted to make room (spec §4.7, §7).
var ErrBinSaturated = errors.New("topology: bin saturated")
