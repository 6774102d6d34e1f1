package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// Логическое состояние VMD
const (
	LogicalStateChangesAllowed    = 0
	LogicalNoStateChangesAllowed  = 1
	LogicalLimitedServicesAllowed = 2
	LogicalSupportServicesAllowed = 3
)

// Физическое состояние VMD
const (
	PhysicalOperational          = 0
	PhysicalPartiallyOperational = 1
	PhysicalInoperable           = 2
	PhysicalNeedsCommissioning   = 3
)

// StatusRequest запрос status:
//
//	Status-Request ::= BOOLEAN -- extendedDerivation
type StatusRequest struct {
	ExtendedDerivation bool
}

// Node кодирует элемент confirmedServiceRequest
func (r *StatusRequest) Node() *ber.Node {
	return ber.Bool(serviceStatusRequest, r.ExtendedDerivation)
}

// StatusResponse ответ status:
//
//	Status-Response ::= SEQUENCE {
//	  vmdLogicalStatus  [0] IMPLICIT INTEGER,
//	  vmdPhysicalStatus [1] IMPLICIT INTEGER,
//	  localDetail       [2] IMPLICIT BIT STRING OPTIONAL
//	}
type StatusResponse struct {
	LogicalStatus  int
	PhysicalStatus int
}

func (r *StatusResponse) String() string {
	return fmt.Sprintf("StatusResponse{Logical: %d, Physical: %d}", r.LogicalStatus, r.PhysicalStatus)
}

// Node кодирует элемент confirmedServiceResponse
func (r *StatusResponse) Node() *ber.Node {
	return ber.Constructed(serviceStatus,
		ber.Signed(0x80, int64(r.LogicalStatus)),
		ber.Signed(0x81, int64(r.PhysicalStatus)),
	)
}

// ParseStatusResponse декодирует элемент confirmedServiceResponse
func ParseStatusResponse(service ber.TLV) (*StatusResponse, error) {
	if service.Tag != serviceStatus {
		return nil, fmt.Errorf("%w: expected status response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &StatusResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.LogicalStatus = int(field.Int())
		case 0x81:
			response.PhysicalStatus = int(field.Int())
		}
	}
	return response, nil
}
