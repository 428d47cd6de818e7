// Package sshproxy owns the SSH sessions the agent uses to drive routers.
//
// The central type is SessionCache. It holds at most one *ssh.Client per
// router, keyed by host name, and hands the same client to every probe run
// from that router. SSH multiplexes channels over a single TCP connection,
// so one connection per router suffices; each probe opens its own channel.
//
// The package is split by concern:
//   - Key management (keys.go): loading or generating the ed25519 identity
//     that is pre-distributed to every router, and the host key policy.
//   - Session caching (cache.go): lazy connect, liveness check on reuse,
//     invalidation after transport errors, and shutdown.
//   - Connect backoff (backoff.go): routers that keep refusing connections
//     are skipped for an escalating cooldown instead of costing a full
//     connect timeout every round.
//   - State tracking (state.go): the last known state of each router's
//     session, exposed on the agent health endpoint.
//
// # Host key policy
//
// Routers in the mesh are re-flashed and replaced often enough that pinning
// their host keys breaks probing. With no known_hosts file configured the
// cache accepts any host key. This trades MITM protection for availability
// and is logged as a warning at startup; set PINGMATRIX_KNOWN_HOSTS to
// enforce strict verification instead.
package sshproxy
