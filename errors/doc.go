// Package errors provides standardized error handling patterns for phasorstreams components.
//
// # Overview
//
// Errors are classified as Transient (temporary, retryable), Invalid (bad input or
// configuration, do not retry) or Fatal (unrecoverable). The mapping and concentration
// paths use the classes to decide between reconnecting, excluding an offending
// configuration item, or stopping an adapter.
//
// # Wrapping
//
// Wrap third-party errors with component context:
//
//	if err := parser.Write(data); err != nil {
//	    return errors.WrapInvalid(err, "Mapper", "handleData", "frame parsing")
//	}
//
// The resulting message follows "component.method: action failed: cause" and the
// original error stays reachable through errors.Is and errors.As.
//
// # Domain sentinels
//
// ErrInvalidSignalAddress, ErrAmbiguousDevice, ErrDuplicateQualityFlags and
// ErrUnresolvedDestination describe configuration faults that exclude a single item.
// ErrOperationInProgress is returned to a caller racing an exclusive device request.
// ErrInvalidCast reports a value of the wrong type reaching frame assignment.
package errors
