package api

import (
	"net/http"

	"hotelbook/internal/apperr"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errorDomain = "hotelbook"

func httpStatus(err *apperr.Error) int {
	switch err.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		if err.Code == apperr.CodeForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case apperr.KindConflict:
		if err.Code == apperr.CodeRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(err *apperr.Error) codes.Code {
	switch err.Kind {
	case apperr.KindValidation:
		return codes.InvalidArgument
	case apperr.KindNotFound:
		return codes.NotFound
	case apperr.KindUnauthorized:
		if err.Code == apperr.CodeForbidden {
			return codes.PermissionDenied
		}
		return codes.Unauthenticated
	case apperr.KindConflict:
		switch err.Code {
		case apperr.CodeAlreadyCancelled, apperr.CodeCannotCancelCompleted:
			return codes.FailedPrecondition
		case apperr.CodeRateLimited:
			return codes.ResourceExhausted
		}
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// publicMessage hides internal causes from clients; they are logged instead.
func publicMessage(err *apperr.Error) string {
	if err.Kind == apperr.KindInternal {
		return "internal server error"
	}
	return err.Message
}

// grpcError converts err into a status carrying the stable error code as ErrorInfo.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	appErr := apperr.From(err)
	st := status.New(grpcCode(appErr), publicMessage(appErr))
	detailed, detailErr := st.WithDetails(&errdetails.ErrorInfo{Reason: appErr.Code, Domain: errorDomain})
	if detailErr != nil {
		return st.Err()
	}
	return detailed.Err()
}
