package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// IdentifyRequest запрос identify (NULL)
var IdentifyRequest = NullService(serviceIdentifyRequest)

// IdentifyResponse ответ identify:
//
//	Identify-Response ::= SEQUENCE {
//	  vendorName   [0] IMPLICIT VisibleString,
//	  modelName    [1] IMPLICIT VisibleString,
//	  revision     [2] IMPLICIT VisibleString,
//	  listOfAbstractSyntaxes [3] IMPLICIT SEQUENCE OF OBJECT IDENTIFIER OPTIONAL
//	}
type IdentifyResponse struct {
	Vendor   string
	Model    string
	Revision string
}

func (r *IdentifyResponse) String() string {
	return fmt.Sprintf("IdentifyResponse{Vendor: %q, Model: %q, Revision: %q}", r.Vendor, r.Model, r.Revision)
}

// Node кодирует элемент confirmedServiceResponse
func (r *IdentifyResponse) Node() *ber.Node {
	return ber.Constructed(serviceIdentify,
		ber.String(0x80, r.Vendor),
		ber.String(0x81, r.Model),
		ber.String(0x82, r.Revision),
	)
}

// ParseIdentifyResponse декодирует элемент confirmedServiceResponse
func ParseIdentifyResponse(service ber.TLV) (*IdentifyResponse, error) {
	if service.Tag != serviceIdentify {
		return nil, fmt.Errorf("%w: expected identify response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &IdentifyResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.Vendor = field.String()
		case 0x81:
			response.Model = field.String()
		case 0x82:
			response.Revision = field.String()
		}
	}
	return response, nil
}
