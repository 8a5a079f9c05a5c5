// SPDX-License-Identifier: AGPL-3.0-only
package errors

import (
	"fmt"
)

// NotFound creates a formatted "not found" error
func NotFound(resource, id string) error {
	return fmt.Errorf("resource not found: %s with ID %s", resource, id)
}

// InvalidInput creates a formatted "invalid input" error
func InvalidInput(reason string) error {
	return fmt.Errorf("invalid input: %s", reason)
}

// InvalidConfiguration creates a formatted "invalid configuration" error
func InvalidConfiguration(reason string) error {
	return fmt.Errorf("invalid configuration: %s", reason)
}

// ProviderFailure wraps a provider transport or SDK failure
func ProviderFailure(provider string, err error) error {
	return fmt.Errorf("provider %s request failed: %v", provider, err)
}

// Internal creates a formatted "internal error" error
func Internal(err error) error {
	return fmt.Errorf("internal error: %v", err)
}
