// Package network contains abstractions for communicating with other machines over the network:
// the UDP listener that receives client queries, the reply writer bound to each client, and the
// ephemeral upstream sessions used to forward queries that are not answered locally.
package network
