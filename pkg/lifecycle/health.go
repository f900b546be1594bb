package lifecycle

import "fmt"

// HealthError represents a health check failure
type HealthError struct {
	Resource string
	Message  string
}

// Error implements the error interface
func (e *HealthError) Error() string {
	return fmt.Sprintf("health check failed for %s: %s", e.Resource, e.Message)
}
