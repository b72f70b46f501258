package retry

import (
	"errors"
	"net"
	"syscall"
)

// NetworkClassifier treats timeouts and refused/reset/unreachable
// connections as transient.
type NetworkClassifier struct{}

func (NetworkClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	for _, target := range []error{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Any is transient when any of its classifiers says so.
type Any []ErrorClassifier

func (a Any) IsTransient(err error) bool {
	for _, c := range a {
		if c != nil && c.IsTransient(err) {
			return true
		}
	}
	return false
}
