package rpc

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

const errorDomain = "mrfs"

var kindCodes = map[errs.Kind]codes.Code{
	errs.NotFound:         codes.NotFound,
	errs.AlreadyExists:    codes.AlreadyExists,
	errs.NotEmpty:         codes.FailedPrecondition,
	errs.IOError:          codes.Internal,
	errs.Unreachable:      codes.Unavailable,
	errs.Unreadable:       codes.DataLoss,
	errs.Timeout:          codes.DeadlineExceeded,
	errs.TaskFailed:       codes.Aborted,
	errs.JobFailed:        codes.Aborted,
	errs.InvalidArgument:  codes.InvalidArgument,
	errs.PermissionDenied: codes.PermissionDenied,
	errs.Internal:         codes.Internal,
}

// Codes produced by the transport itself rather than by a handler.
var transportKinds = map[codes.Code]errs.Kind{
	codes.Unavailable:      errs.Unreachable,
	codes.DeadlineExceeded: errs.Timeout,
	codes.Canceled:         errs.Timeout,
	codes.NotFound:         errs.NotFound,
	codes.AlreadyExists:    errs.AlreadyExists,
	codes.InvalidArgument:  errs.InvalidArgument,
	codes.PermissionDenied: errs.PermissionDenied,
	codes.DataLoss:         errs.Unreadable,
}

// ToStatus converts err into a gRPC status error carrying its kind as an
// ErrorInfo detail.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		if _, ok := status.FromError(err); ok {
			return err
		}
	}

	kind := errs.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		code = codes.Internal
	}

	st := status.New(code, err.Error())
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: string(kind),
		Domain: errorDomain,
	})
	if derr == nil {
		st = detailed
	}
	return st.Err()
}

// FromStatus converts a gRPC status error back into an *errs.Error.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok && info.Domain == errorDomain {
			return &errs.Error{Kind: errs.Kind(info.Reason), Err: errors.New(st.Message())}
		}
	}

	kind, ok := transportKinds[st.Code()]
	if !ok {
		kind = errs.Internal
	}
	return &errs.Error{Kind: kind, Err: errors.New(st.Message())}
}
