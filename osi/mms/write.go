package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// WriteRequest представляет MMS Write Request:
//
//	Write-Request ::= SEQUENCE {
//	  variableAccessSpecification VariableAccessSpecification,
//	  listOfData                  [0] IMPLICIT SEQUENCE OF Data
//	}
type WriteRequest struct {
	Specification VariableAccessSpecification
	Values        []*variant.Variant
}

// NewWriteRequest создаёт запрос записи одной domain-specific переменной
func NewWriteRequest(domainID, itemID string, value *variant.Variant) *WriteRequest {
	return NewWriteRequestWithAccess(domainID, itemID, nil, value)
}

// NewWriteRequestWithAccess создаёт запрос записи элемента или диапазона массива
func NewWriteRequestWithAccess(domainID, itemID string, access *AlternateAccess, value *variant.Variant) *WriteRequest {
	return &WriteRequest{
		Specification: VariableAccessSpecification{
			Variables: []VariableSpec{{Name: DomainName(domainID, itemID), Access: access}},
		},
		Values: []*variant.Variant{value},
	}
}

// NewWriteMultipleRequest создаёт запрос записи нескольких переменных одного домена
func NewWriteMultipleRequest(domainID string, itemIDs []string, values []*variant.Variant) *WriteRequest {
	request := &WriteRequest{Values: values}
	for _, itemID := range itemIDs {
		request.Specification.Variables = append(request.Specification.Variables, VariableSpec{Name: DomainName(domainID, itemID)})
	}
	return request
}

// NewWriteNamedVariableListRequest создаёт запрос записи именованного списка переменных
func NewWriteNamedVariableListRequest(listName ObjectName, values []*variant.Variant) *WriteRequest {
	return &WriteRequest{Specification: VariableAccessSpecification{ListName: &listName}, Values: values}
}

func (r *WriteRequest) String() string {
	return fmt.Sprintf("WriteRequest{Variables: %v, Values: %v}", r.Specification.Variables, r.Values)
}

// Node кодирует элемент confirmedServiceRequest
func (r *WriteRequest) Node() *ber.Node {
	data := ber.Constructed(0xa0)
	for _, value := range r.Values {
		data.Add(DataNode(value))
	}
	return ber.Constructed(serviceWrite, r.Specification.node(), data)
}

// ParseWriteRequest декодирует элемент confirmedServiceRequest.
// Оба элемента SEQUENCE могут иметь тег 0xa0, поэтому разбор идёт по позиции.
func ParseWriteRequest(service ber.TLV) (*WriteRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if len(fields) != 2 || fields[1].Tag != 0xa0 {
		return nil, fmt.Errorf("%w: write request", ErrInvalidPDU)
	}

	request := &WriteRequest{}
	if request.Specification, err = parseVariableAccessSpecification(fields[0]); err != nil {
		return nil, err
	}

	values, err := fields[1].Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	for _, tlv := range values {
		value, err := DecodeData(tlv)
		if err != nil {
			return nil, err
		}
		request.Values = append(request.Values, value)
	}

	if !request.Specification.IsNamedList() && len(request.Values) != len(request.Specification.Variables) {
		return nil, fmt.Errorf("%w: %d variables, %d values", ErrInvalidPDU, len(request.Specification.Variables), len(request.Values))
	}
	return request, nil
}

// WriteResponse представляет MMS Write Response:
//
//	Write-Response ::= SEQUENCE OF CHOICE {
//	  failure [0] IMPLICIT DataAccessError,
//	  success [1] IMPLICIT NULL
//	}
//
// DataAccessSuccess обозначает успешную запись.
type WriteResponse struct {
	Results []DataAccessError
}

// Node кодирует элемент confirmedServiceResponse
func (r *WriteResponse) Node() *ber.Node {
	write := ber.Constructed(serviceWrite)
	for _, result := range r.Results {
		if result == DataAccessSuccess {
			write.Add(ber.Empty(0x81))
			continue
		}
		write.Add(ber.Unsigned(0x80, uint64(result)))
	}
	return write
}

// ParseWriteResponse декодирует элемент confirmedServiceResponse
func ParseWriteResponse(service ber.TLV) (*WriteResponse, error) {
	if service.Tag != serviceWrite {
		return nil, fmt.Errorf("%w: expected write response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &WriteResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.Results = append(response.Results, DataAccessError(field.Uint()))
		case 0x81:
			response.Results = append(response.Results, DataAccessSuccess)
		default:
			return nil, fmt.Errorf("%w: write result 0x%02x", ErrUnexpectedTag, field.Tag)
		}
	}
	return response, nil
}
