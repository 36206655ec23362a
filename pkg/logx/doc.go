// Package logx provides a thin zerolog-backed logging layer with runtime
// reconfigurable sinks (console, file, and a rate-limited Discord channel).
package logx
