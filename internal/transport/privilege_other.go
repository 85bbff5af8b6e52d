//go:build !unix

package transport

// CanOpenRawSockets always reports false off Unix. Windows refuses raw TCP
// sends from user space.
func CanOpenRawSockets() bool {
	return false
}
