// Package mitigation coordinates the access filter, the rate limiter and
// the traffic monitor into one admission verdict.
//
// Admit evaluates a request in a fixed order and stops at the first
// definitive outcome:
//
//  1. access filter: whitelisted identities are allowed, blacklisted or
//     blocked identities are denied
//  2. rate limiter: an empty bucket denies, and crossing the violation
//     ceiling installs an automatic block when enabled
//  3. traffic monitor: the request is recorded and evaluated; escalation
//     installs an automatic block when enabled
//
// Admit never returns an error. Internal faults are recovered and turned
// into the configured fail-open or fail-closed verdict. Repeated faults
// open a circuit that bypasses evaluation until it resets.
//
// Reconfiguration builds a new Engine and swaps it into an AtomicEngine.
package mitigation
