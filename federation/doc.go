// Package federation exchanges temporary exposure keys with a peer national
// interoperability server.
//
// The download side pulls batches day by day with a resumable cursor and
// filters inbound keys through acceptance policy before persisting them. The
// upload side pushes locally submitted keys as JWS-signed batches and tracks
// progress with an upload watermark. Both loops are bounded by a
// caller-supplied remaining-time probe so a scheduler deadline preempts them
// cooperatively.
package federation
