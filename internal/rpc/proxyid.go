package rpc

import "fmt"

// ProxyIdentifier is a registry-wide handle for one L4 service shape. NID
// is a dense small integer assigned at registration time; it keys
// RPCProtocol's locals table and is the rpcId byte written on the wire.
// SID is the logical service name used in logs and error messages.
type ProxyIdentifier struct {
	SID string
	NID uint8
}

func (id ProxyIdentifier) String() string { return fmt.Sprintf("%s(%d)", id.SID, id.NID) }

// GlobalRegistry hands out dense NIDs by SID. Per the design notes,
// ProxyIdentifiers are global and created before any RPCProtocol exists:
// both processes in a connection run the same build, so a package-level
// registry populated by deterministic var-init order (see
// internal/services) yields identical (sid, nid) pairs on both sides
// without needing to exchange an id table over the wire. Entries are
// never removed, only appended.
type GlobalRegistry struct {
	bySID map[string]ProxyIdentifier
	next  uint8
}

// NewGlobalRegistry constructs an empty registry.
func NewGlobalRegistry() *GlobalRegistry {
	return &GlobalRegistry{bySID: make(map[string]ProxyIdentifier)}
}

// Register returns the ProxyIdentifier for sid, assigning a new nid the
// first time sid is seen.
func (r *GlobalRegistry) Register(sid string) ProxyIdentifier {
	if id, ok := r.bySID[sid]; ok {
		return id
	}
	id := ProxyIdentifier{SID: sid, NID: r.next}
	r.next++
	r.bySID[sid] = id
	return id
}
