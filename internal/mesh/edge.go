package mesh

import (
	"net"
	"sort"
)

// Edge is one directed link of the peer graph, carrying the address the
// far end sends UDP from. The fuzzy peer lookup walks edges when the
// address index misses.
type Edge struct {
	From    *Peer
	To      *Peer
	Address *net.UDPAddr
	Weight  int
}

// Registry indexes the peer graph for the datapath: peers by name, peers by
// current UDP address, and edges in weight order. It has no lock of its own;
// the owning datapath serializes access.
//
// Peers, edges and connections reference each other directly. Go's garbage
// collector handles the cycles, so no handle indirection is needed.
type Registry struct {
	Self *Peer

	peers  map[string]*Peer
	byAddr map[string]*Peer
	edges  []*Edge
}

// NewRegistry creates a registry around the local peer. Self routes to
// itself, like any node does in its own graph.
func NewRegistry(self *Peer) *Registry {
	self.NextHop = self
	self.Via = self
	self.Reachable = true
	return &Registry{
		Self:   self,
		peers:  map[string]*Peer{self.Name: self},
		byAddr: make(map[string]*Peer),
	}
}

// AddPeer registers a peer by name.
func (r *Registry) AddPeer(p *Peer) {
	r.peers[p.Name] = p
	if p.Address != nil {
		r.byAddr[addrKey(p.Address)] = p
	}
}

// Peer looks a peer up by name.
func (r *Registry) Peer(name string) *Peer {
	return r.peers[name]
}

// LookupUDP resolves an incoming source address to a peer via the address
// index. Returns nil on a miss.
func (r *Registry) LookupUDP(addr *net.UDPAddr) *Peer {
	return r.byAddr[addrKey(addr)]
}

// UpdateUDP records addr as the peer's current UDP address and reindexes.
func (r *Registry) UpdateUDP(p *Peer, addr *net.UDPAddr) {
	if p.Address != nil {
		delete(r.byAddr, addrKey(p.Address))
	}
	p.Address = addr
	r.byAddr[addrKey(addr)] = p
}

// AddEdge inserts an edge, keeping the list in weight order.
func (r *Registry) AddEdge(e *Edge) {
	r.edges = append(r.edges, e)
	sort.SliceStable(r.edges, func(i, j int) bool {
		return r.edges[i].Weight < r.edges[j].Weight
	})
}

// Edges returns all edges in weight order.
func (r *Registry) Edges() []*Edge {
	return r.edges
}

func addrKey(a *net.UDPAddr) string {
	return a.String()
}

// AddrEqualNoPort reports whether two addresses carry the same IP,
// ignoring the port.
func AddrEqualNoPort(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.IP.Equal(b.IP)
}
