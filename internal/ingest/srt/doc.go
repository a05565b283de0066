// Package srt implements SRT (Secure Reliable Transport) ingest of raw
// Annex-B elementary streams, including both listener-mode (Server) for
// accepting incoming publish connections and caller-mode (Caller) for
// pulling streams from remote SRT sources.
package srt
