package deepseek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/flemzord/fanyi/internal/provider"
)

// mapHTTPError classifies a non-2xx response using the backend's
// error.message when the body carries one. Returns nil for 2xx.
func mapHTTPError(statusCode int, body []byte) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	if err := provider.ClassifyStatus(statusCode, apiErr.Error.Message); err != nil {
		return fmt.Errorf("deepseek: %w", err)
	}
	return nil
}

// mapConnectionError maps network-level errors to provider sentinel errors.
// Context errors pass through unchanged.
func mapConnectionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", provider.ErrProviderDown, err)
	}
	return fmt.Errorf("deepseek: %w", err)
}
