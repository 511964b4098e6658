// Package simple contains the permissive gate used when rate limiting is
// disabled.
package simple

// Policy admits every request.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Allow always reports true.
func (Policy) Allow(_ string) bool {
	return true
}
