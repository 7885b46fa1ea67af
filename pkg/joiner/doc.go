// Package joiner implements the Joiner role of the MeshCoP mesh
// commissioning protocol: an unprovisioned device discovers a candidate
// commissioning router, proves eligibility through the steering filter,
// completes the secured finalize exchange, and receives network
// credentials through the entrust push.
//
// # Session lifecycle
//
//	Idle -> Discovering -> Connecting -> Finalizing -> Entrusted
//
// with Closed reachable from every state. The secured channel is torn
// down unconditionally after the finalize response, whether the
// commissioner accepted or not; the entrust push arrives afterwards on
// the plain request/response layer and is handled by a long-lived
// resource handler independent of the primary state machine.
//
// # Collaborators
//
// Everything the joiner needs from its platform arrives through the
// narrow capability interfaces in Deps: link-layer identity and radio
// parameters, mesh addressing, the master-key store, discovery, the
// secured channel, the plain messaging endpoint, the unsecured-port
// filter, timer scheduling, and randomness. Every collaborator is
// substitutable by a test double.
//
// # Concurrency
//
// Collaborator callbacks (discovery results, connect completion,
// message responses, timer fires) may arrive on arbitrary goroutines.
// The joiner serializes them behind one mutex so exactly one logical
// operation touches session state at a time; no handler blocks while
// holding it. Registered OnStateChange/OnClosed callbacks are invoked
// asynchronously.
package joiner
