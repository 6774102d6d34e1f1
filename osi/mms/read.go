package mms

import (
	"fmt"
	"strings"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// ReadRequest представляет MMS Read Request:
//
//	Read-Request ::= SEQUENCE {
//	  specificationWithResult     [0] IMPLICIT BOOLEAN DEFAULT FALSE,
//	  variableAccessSpecification [1] VariableAccessSpecification
//	}
//
// Пример (domain-specific переменная simpleIOGenericIO/GGIO1$MX$AnIn1$mag$f):
//
//	a4 33
//	   a1 31
//	      a0 2f
//	         30 2d
//	            a0 2b
//	               a1 29
//	                  1a 11 "simpleIOGenericIO"
//	                  1a 14 "GGIO1$MX$AnIn1$mag$f"
type ReadRequest struct {
	SpecificationWithResult bool
	Specification           VariableAccessSpecification
}

// NewReadRequest создаёт запрос чтения одной domain-specific переменной
func NewReadRequest(domainID, itemID string) *ReadRequest {
	return NewReadRequestWithAccess(domainID, itemID, nil)
}

// NewReadRequestWithAccess создаёт запрос чтения части переменной-массива
func NewReadRequestWithAccess(domainID, itemID string, access *AlternateAccess) *ReadRequest {
	return &ReadRequest{
		Specification: VariableAccessSpecification{
			Variables: []VariableSpec{{Name: DomainName(domainID, itemID), Access: access}},
		},
	}
}

// NewReadMultipleRequest создаёт запрос чтения нескольких переменных одного домена
func NewReadMultipleRequest(domainID string, itemIDs ...string) *ReadRequest {
	request := &ReadRequest{}
	for _, itemID := range itemIDs {
		request.Specification.Variables = append(request.Specification.Variables, VariableSpec{Name: DomainName(domainID, itemID)})
	}
	return request
}

// NewReadNamedVariableListRequest создаёт запрос чтения именованного списка переменных
func NewReadNamedVariableListRequest(listName ObjectName, specificationWithResult bool) *ReadRequest {
	return &ReadRequest{
		SpecificationWithResult: specificationWithResult,
		Specification:           VariableAccessSpecification{ListName: &listName},
	}
}

func (r *ReadRequest) String() string {
	if r.Specification.IsNamedList() {
		return fmt.Sprintf("ReadRequest{List: %s, WithResult: %t}", r.Specification.ListName, r.SpecificationWithResult)
	}
	names := make([]string, len(r.Specification.Variables))
	for i, v := range r.Specification.Variables {
		names[i] = v.String()
	}
	return fmt.Sprintf("ReadRequest{%s}", strings.Join(names, ", "))
}

// Node кодирует элемент confirmedServiceRequest
func (r *ReadRequest) Node() *ber.Node {
	read := ber.Constructed(serviceRead)
	if r.SpecificationWithResult {
		read.Add(ber.Bool(0x80, true))
	}
	read.Add(ber.Constructed(0xa1, r.Specification.node()))
	return read
}

// ParseReadRequest декодирует элемент confirmedServiceRequest
func ParseReadRequest(service ber.TLV) (*ReadRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	request := &ReadRequest{}
	var found bool
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			request.SpecificationWithResult = field.Bool()
		case 0xa1:
			inner, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			if len(inner) != 1 {
				return nil, fmt.Errorf("%w: variable access specification", ErrInvalidPDU)
			}
			if request.Specification, err = parseVariableAccessSpecification(inner[0]); err != nil {
				return nil, err
			}
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: read request without variable access specification", ErrInvalidPDU)
	}
	return request, nil
}

// ReadResponse представляет MMS Read Response:
//
//	Read-Response ::= SEQUENCE {
//	  variableAccessSpecification [0] VariableAccessSpecification OPTIONAL,
//	  listOfAccessResult          [1] IMPLICIT SEQUENCE OF AccessResult
//	}
type ReadResponse struct {
	Specification *VariableAccessSpecification
	Results       []AccessResult
}

func (r *ReadResponse) String() string {
	results := make([]string, len(r.Results))
	for i, result := range r.Results {
		results[i] = result.String()
	}
	return fmt.Sprintf("ReadResponse{%s}", strings.Join(results, ", "))
}

// Node кодирует элемент confirmedServiceResponse
func (r *ReadResponse) Node() *ber.Node {
	read := ber.Constructed(serviceRead)
	if r.Specification != nil {
		read.Add(ber.Constructed(0xa0, r.Specification.node()))
	}
	read.Add(listOfAccessResultNode(0xa1, r.Results))
	return read
}

// ParseReadResponse декодирует элемент confirmedServiceResponse
func ParseReadResponse(service ber.TLV) (*ReadResponse, error) {
	if service.Tag != serviceRead {
		return nil, fmt.Errorf("%w: expected read response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &ReadResponse{}
	var found bool
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			inner, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			if len(inner) == 1 {
				spec, err := parseVariableAccessSpecification(inner[0])
				if err != nil {
					return nil, err
				}
				response.Specification = &spec
			}
		case 0xa1:
			if response.Results, err = decodeListOfAccessResult(field); err != nil {
				return nil, err
			}
			found = true
		}
	}

	if !found {
		return nil, fmt.Errorf("%w: read response without results", ErrInvalidPDU)
	}
	return response, nil
}
