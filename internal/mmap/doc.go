// Package mmap provides platform-specific helpers for obtaining the raw memory
// that backs heap regions. On unix the memory is an anonymous private mapping
// so that releasing a region hands its pages straight back to the OS.
package mmap
