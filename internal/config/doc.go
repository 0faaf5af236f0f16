// The config package encapsulates configuration for the pulsed server.
//
// Unlike a file-backed configuration, a PulseFS server is configured
// entirely from its command line: the listening port, the peer
// identity address, an optional bootstrap peer to join, and the
// shared timeout used for elections, proposal acknowledgements and
// member liveness. Load validates the flag values and derives the
// remaining paths (e.g. the on-disk directory named after -addr) so
// that the rest of the server never has to re-derive them.
package config
