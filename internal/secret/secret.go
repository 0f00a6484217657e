// Package secret checks the shared webhook secret.
package secret

import (
	"crypto/subtle"
	"sync/atomic"
)

// Validator compares caller-supplied tokens against the configured secret.
// The secret can be replaced at runtime (config reload) without locking readers.
type Validator struct {
	secret atomic.Pointer[string]
}

func New(secret string) *Validator {
	v := &Validator{}
	v.SetSecret(secret)
	return v
}

func (v *Validator) SetSecret(secret string) {
	v.secret.Store(&secret)
}

// Validate reports whether supplied exactly matches the configured secret.
// An empty configured secret rejects everything.
func (v *Validator) Validate(supplied string) bool {
	p := v.secret.Load()
	if p == nil || *p == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(*p)) == 1
}
