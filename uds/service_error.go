package uds

import "fmt"

// ServiceError is returned by a service handler to answer a request
// with a specific negative response code instead of data.
type ServiceError struct {
	NRC byte
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("negative response 0x%02X (%s)", e.NRC, NRCName(e.NRC))
}

// Reject builds a ServiceError for the given negative response code.
func Reject(nrc byte) *ServiceError {
	return &ServiceError{NRC: nrc}
}
