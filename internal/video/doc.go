// Package video holds the shared data model for the LVDS video ingest
// pipeline: complete frames, line chunks decoded from Ethernet transport,
// per-session diagnostic counters, and the byte-stream receiver contract
// implemented by the LVDS line reassembler and the cooked-frame receiver.
//
// Frame reconstruction flows through one of three transports:
//
//	UART bytes     -> lvds.Reassembler   -> Frame
//	cooked bytes   -> cooked.Receiver    -> Frame
//	Ethernet frame -> ethframe.Decode    -> LineChunk -> chunkasm.Assembler -> Frame
//
// The capture package replays recorded packet-capture containers through
// the same per-packet decoder, substituting for the live Ethernet source.
package video
