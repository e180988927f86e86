// Package logging configures structured JSON logging for storyrag.
//
// Logs go to a size-rotated file under ~/.storyrag/logs/. Interactive commands
// mirror them to stderr when --debug is set; the MCP server never writes to
// stderr or stdout because stdout carries the protocol stream.
package logging
