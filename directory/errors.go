package directory

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/go-ldap/ldap/v3"
)

// ErrorClass classifies a failed directory operation for retry handling.
type ErrorClass int

const (
	// ClassTransient errors (timeouts, lost connections, server busy) may
	// succeed on retry.
	ClassTransient ErrorClass = iota
	// ClassPermanent errors (constraint violations, bad DN, access denied)
	// will fail the same way every time and must not be retried.
	ClassPermanent
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// OpError wraps a failed directory operation with its classification.
type OpError struct {
	Class ErrorClass
	Op    string
	DN    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.DN, e.Class, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable operation failure.
func Transient(op, dn string, err error) error {
	return &OpError{Class: ClassTransient, Op: op, DN: dn, Err: err}
}

// Permanent wraps err as a non-retryable operation failure.
func Permanent(op, dn string, err error) error {
	return &OpError{Class: ClassPermanent, Op: op, DN: dn, Err: err}
}

// IsPermanent reports whether err is classified as permanent. Unclassified
// errors are treated as transient so they stay subject to the bounded retry
// budget rather than being silently written off.
func IsPermanent(err error) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Class == ClassPermanent
	}
	return false
}

// permanentResultCodes are LDAP result codes that indicate the operation
// can never succeed as issued.
var permanentResultCodes = []uint16{
	ldap.LDAPResultNoSuchAttribute,
	ldap.LDAPResultUndefinedAttributeType,
	ldap.LDAPResultConstraintViolation,
	ldap.LDAPResultAttributeOrValueExists,
	ldap.LDAPResultInvalidAttributeSyntax,
	ldap.LDAPResultNoSuchObject,
	ldap.LDAPResultInvalidDNSyntax,
	ldap.LDAPResultInappropriateAuthentication,
	ldap.LDAPResultInvalidCredentials,
	ldap.LDAPResultInsufficientAccessRights,
	ldap.LDAPResultNamingViolation,
	ldap.LDAPResultObjectClassViolation,
	ldap.LDAPResultNotAllowedOnNonLeaf,
	ldap.LDAPResultNotAllowedOnRDN,
	ldap.LDAPResultEntryAlreadyExists,
	ldap.LDAPResultObjectClassModsProhibited,
	ldap.LDAPResultUnwillingToPerform,
}

// transientResultCodes are LDAP result codes for conditions expected to
// clear on their own.
var transientResultCodes = []uint16{
	ldap.LDAPResultTimeLimitExceeded,
	ldap.LDAPResultBusy,
	ldap.LDAPResultUnavailable,
	ldap.LDAPResultLoopDetect,
	ldap.ErrorNetwork,
}

// classify maps an error from the go-ldap client onto an operation error
// class. Network-level failures are always transient.
func classify(op, dn string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, dn, err)
	}

	for _, code := range transientResultCodes {
		if ldap.IsErrorWithCode(err, code) {
			return Transient(op, dn, err)
		}
	}
	for _, code := range permanentResultCodes {
		if ldap.IsErrorWithCode(err, code) {
			return Permanent(op, dn, err)
		}
	}

	// Unrecognized failures stay transient: they get the retry budget and
	// are surfaced as unresolved rather than permanently rejected.
	return Transient(op, dn, err)
}
