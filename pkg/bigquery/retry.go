package bigquery

import (
	"errors"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsRetryable reports whether an insert error is transient. Row-level
// errors count as retryable only when every inner error is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var multi bigquery.MultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !IsRetryable(inner) {
				return false
			}
		}
		return true
	}

	var pme bigquery.PutMultiError
	if errors.As(err, &pme) {
		if len(pme) == 0 {
			return false
		}
		for _, rowErr := range pme {
			if !IsRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
			return true
		}
	}
	return false
}
