//go:build !linux

package reflector

import "fmt"

// Run is only implemented on Linux; see reflector_linux.go.
func (r *Reflector) Run() error {
	return fmt.Errorf("reflector: Run is only supported on linux")
}
