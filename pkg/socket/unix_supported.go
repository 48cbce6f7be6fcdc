//go:build unix

package socket

const unixSocketsSupported = true
