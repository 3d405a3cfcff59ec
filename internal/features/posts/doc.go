// Package posts implements the post lifecycle on the write-behind pipeline:
// the cache record and the `post` index are the serving state, connected
// clients hear about every mutation on the bus, and one job per mutation
// converges the durable store.
package posts
