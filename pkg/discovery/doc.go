// Package discovery locates commissioning routers on the local network.
//
// Routers that accept joining traffic announce a "_meshcop._udp" mDNS
// service whose TXT record carries the link parameters a joiner needs:
// the router's hardware identity, PAN id, radio channel, joining UDP
// port, and steering bitmap. Browser collects those announcements for a
// bounded window; Advertiser publishes them for the commissioner side.
//
// MDNSDiscoverer adapts the browser to the joiner's Discoverer
// interface: each announcement becomes one discovery result, and the
// end of the browse window is signalled with a terminal nil result.
package discovery
