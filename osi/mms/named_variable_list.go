package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// DefineNamedVariableListRequest запрос defineNamedVariableList:
//
//	DefineNamedVariableList-Request ::= SEQUENCE {
//	  variableListName ObjectName,
//	  listOfVariable   [0] IMPLICIT SEQUENCE OF SEQUENCE { variableSpecification, alternateAccess [5] OPTIONAL }
//	}
type DefineNamedVariableListRequest struct {
	Name      ObjectName
	Variables []VariableSpec
}

// Node кодирует элемент confirmedServiceRequest
func (r *DefineNamedVariableListRequest) Node() *ber.Node {
	return ber.Constructed(serviceDefineNamedVariableList, r.Name.Node(), listOfVariableNode(0xa0, r.Variables))
}

// ParseDefineNamedVariableListRequest декодирует элемент confirmedServiceRequest
func ParseDefineNamedVariableListRequest(service ber.TLV) (*DefineNamedVariableListRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: defineNamedVariableList with %d fields", ErrInvalidPDU, len(fields))
	}

	request := &DefineNamedVariableListRequest{}
	if request.Name, err = ParseObjectName(fields[0]); err != nil {
		return nil, err
	}
	if request.Variables, err = parseListOfVariable(fields[1]); err != nil {
		return nil, err
	}
	return request, nil
}

// DefineNamedVariableListResponse ответ defineNamedVariableList (NULL)
var DefineNamedVariableListResponse = NullService(serviceDefineNVLDone)

// GetNamedVariableListAttributesRequest запрос атрибутов именованного списка
type GetNamedVariableListAttributesRequest struct {
	Name ObjectName
}

// Node кодирует элемент confirmedServiceRequest
func (r *GetNamedVariableListAttributesRequest) Node() *ber.Node {
	return ber.Constructed(serviceGetNamedVariableListAttributes, r.Name.Node())
}

// ParseGetNamedVariableListAttributesRequest декодирует элемент confirmedServiceRequest
func ParseGetNamedVariableListAttributesRequest(service ber.TLV) (*GetNamedVariableListAttributesRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if len(fields) != 1 {
		return nil, fmt.Errorf("%w: variable list name", ErrInvalidPDU)
	}

	name, err := ParseObjectName(fields[0])
	if err != nil {
		return nil, err
	}
	return &GetNamedVariableListAttributesRequest{Name: name}, nil
}

// GetNamedVariableListAttributesResponse ответ:
//
//	GetNamedVariableListAttributes-Response ::= SEQUENCE {
//	  mmsDeletable   [0] IMPLICIT BOOLEAN,
//	  listOfVariable [1] IMPLICIT SEQUENCE OF SEQUENCE { ... }
//	}
type GetNamedVariableListAttributesResponse struct {
	Deletable bool
	Variables []VariableSpec
}

// Node кодирует элемент confirmedServiceResponse
func (r *GetNamedVariableListAttributesResponse) Node() *ber.Node {
	return ber.Constructed(serviceGetNamedVariableListAttributes,
		ber.Bool(0x80, r.Deletable),
		listOfVariableNode(0xa1, r.Variables),
	)
}

// ParseGetNamedVariableListAttributesResponse декодирует элемент confirmedServiceResponse
func ParseGetNamedVariableListAttributesResponse(service ber.TLV) (*GetNamedVariableListAttributesResponse, error) {
	if service.Tag != serviceGetNamedVariableListAttributes {
		return nil, fmt.Errorf("%w: expected getNamedVariableListAttributes response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &GetNamedVariableListAttributesResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.Deletable = field.Bool()
		case 0xa1:
			if response.Variables, err = parseListOfVariable(field); err != nil {
				return nil, err
			}
		}
	}
	return response, nil
}

// DeleteScope область удаления deleteNamedVariableList
type DeleteScope int

const (
	DeleteSpecific DeleteScope = iota
	DeleteAssociationSpecific
	DeleteDomain
	DeleteVMD
)

// DeleteNamedVariableListRequest запрос deleteNamedVariableList:
//
//	DeleteNamedVariableList-Request ::= SEQUENCE {
//	  scopeOfDelete          [0] IMPLICIT INTEGER DEFAULT specific,
//	  listOfVariableListName [1] IMPLICIT SEQUENCE OF ObjectName OPTIONAL,
//	  domainName             [2] IMPLICIT Identifier OPTIONAL
//	}
type DeleteNamedVariableListRequest struct {
	Scope    DeleteScope
	Names    []ObjectName
	DomainID string
}

// Node кодирует элемент confirmedServiceRequest
func (r *DeleteNamedVariableListRequest) Node() *ber.Node {
	request := ber.Constructed(serviceDeleteNamedVariableList, ber.Unsigned(0x80, uint64(r.Scope)))
	if len(r.Names) > 0 {
		names := ber.Constructed(0xa1)
		for _, name := range r.Names {
			names.Add(name.Node())
		}
		request.Add(names)
	}
	if r.DomainID != "" {
		request.Add(ber.String(0x82, r.DomainID))
	}
	return request
}

// ParseDeleteNamedVariableListRequest декодирует элемент confirmedServiceRequest
func ParseDeleteNamedVariableListRequest(service ber.TLV) (*DeleteNamedVariableListRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	request := &DeleteNamedVariableListRequest{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			request.Scope = DeleteScope(field.Uint())
		case 0xa1:
			names, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			for _, tlv := range names {
				name, err := ParseObjectName(tlv)
				if err != nil {
					return nil, err
				}
				request.Names = append(request.Names, name)
			}
		case 0x82:
			request.DomainID = field.String()
		}
	}
	return request, nil
}

// DeleteNamedVariableListResponse ответ:
//
//	DeleteNamedVariableList-Response ::= SEQUENCE {
//	  numberMatched [0] IMPLICIT Unsigned32,
//	  numberDeleted [1] IMPLICIT Unsigned32
//	}
type DeleteNamedVariableListResponse struct {
	Matched uint32
	Deleted uint32
}

// Node кодирует элемент confirmedServiceResponse
func (r *DeleteNamedVariableListResponse) Node() *ber.Node {
	return ber.Constructed(serviceDeleteNamedVariableList,
		ber.Unsigned(0x80, uint64(r.Matched)),
		ber.Unsigned(0x81, uint64(r.Deleted)),
	)
}

// ParseDeleteNamedVariableListResponse декодирует элемент confirmedServiceResponse
func ParseDeleteNamedVariableListResponse(service ber.TLV) (*DeleteNamedVariableListResponse, error) {
	if service.Tag != serviceDeleteNamedVariableList {
		return nil, fmt.Errorf("%w: expected deleteNamedVariableList response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &DeleteNamedVariableListResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.Matched = field.Uint()
		case 0x81:
			response.Deleted = field.Uint()
		}
	}
	return response, nil
}
