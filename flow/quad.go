package flow

// Quad identifies a TCP connection by its four-tuple. Orientation is
// fixed regardless of how the flow was opened: RemoteIP/RemotePort
// always name the peer, LocalIP/LocalPort always name this host. This
// resolves the orientation ambiguity between passive and active opens
// so flow-table lookups never need to branch on open direction.
//
// Quad is comparable and is used directly as a map key.
type Quad struct {
	RemoteIP   [4]byte
	RemotePort uint16
	LocalIP    [4]byte
	LocalPort  uint16
}
