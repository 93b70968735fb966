package adapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/fieldpad/syncengine/models"
)

// mapHTTPError translates a response status into the adapter's sentinel
// taxonomy. 409 responses decode the server's current record so the conflict
// resolver receives both sides without another round trip.
func mapHTTPError(resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}

	body := strings.TrimSpace(string(resp.Body()))

	switch {
	case code == http.StatusConflict:
		var server models.ServerRecord
		if err := json.Unmarshal(resp.Body(), &server); err != nil {
			return fmt.Errorf("%w: undecodable conflict body: %s", ErrVersionConflict, body)
		}
		return &ConflictError{Server: server}

	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", ErrServerRejected, ErrUnauthorized, body)

	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: throttled: %s", ErrNetworkTransient, body)

	case code >= http.StatusBadRequest && code < http.StatusInternalServerError:
		return fmt.Errorf("%w: http %d: %s", ErrServerRejected, code, body)

	default:
		if body == "" {
			body = http.StatusText(code)
		}
		return fmt.Errorf("%w: http %d: %s", ErrNetworkTransient, code, body)
	}
}
