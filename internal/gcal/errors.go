package gcal

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

// Fetch error kinds reported to the host.
const (
	ErrorNoConnection = "MODULE_ERROR_NO_CONNECTION"
	ErrorUnauthorized = "MODULE_ERROR_UNAUTHORIZED"
	ErrorUnspecified  = "MODULE_ERROR_UNSPECIFIED"
)

// ClassifyError maps a failed list call to an error kind. When no kind
// applies, the error code carried in the HTTP error body (for instance
// "invalid_grant" from a failed token refresh) is used upper-cased instead.
func ClassifyError(err error) string {
	kind := classify(err)
	if kind == ErrorUnspecified {
		if code := httpErrorCode(err); code != "" {
			return code
		}
	}
	return kind
}

func classify(err error) string {
	if err == nil {
		return ErrorUnspecified
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorNoConnection
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return ErrorNoConnection
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return ErrorUnauthorized
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized {
		return ErrorUnauthorized
	}

	return ErrorUnspecified
}

func httpErrorCode(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return strings.ToUpper(retrieveErr.ErrorCode)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && len(apiErr.Errors) > 0 && apiErr.Errors[0].Reason != "" {
		return strings.ToUpper(apiErr.Errors[0].Reason)
	}
	return ""
}
