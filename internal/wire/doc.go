// Package wire defines the socket frame format for the live chat protocol
// and converts raw frames into tagged, validated event variants at the
// boundary, so the sync core never branches on ad hoc payload shapes.
package wire
