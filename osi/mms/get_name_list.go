package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// ObjectClass класс объектов для getNameList
type ObjectClass int

const (
	ClassNamedVariable     ObjectClass = 0
	ClassNamedVariableList ObjectClass = 2
	ClassJournal           ObjectClass = 8
	ClassDomain            ObjectClass = 9
)

func (c ObjectClass) String() string {
	switch c {
	case ClassNamedVariable:
		return "namedVariable"
	case ClassNamedVariableList:
		return "namedVariableList"
	case ClassJournal:
		return "journal"
	case ClassDomain:
		return "domain"
	}
	return fmt.Sprintf("ObjectClass(%d)", int(c))
}

// GetNameListRequest представляет запрос getNameList:
//
//	GetNameList-Request ::= SEQUENCE {
//	  extendedObjectClass [0] CHOICE { objectClass [0] IMPLICIT INTEGER },
//	  objectScope         [1] CHOICE { vmdSpecific [0] NULL, domainSpecific [1] Identifier, aaSpecific [2] NULL },
//	  continueAfter       [2] IMPLICIT Identifier OPTIONAL
//	}
type GetNameListRequest struct {
	Class         ObjectClass
	Scope         ObjectScope
	DomainID      string
	ContinueAfter string
}

func (r *GetNameListRequest) String() string {
	return fmt.Sprintf("GetNameListRequest{Class: %s, Scope: %s, Domain: %q, ContinueAfter: %q}", r.Class, r.Scope, r.DomainID, r.ContinueAfter)
}

// Node кодирует элемент confirmedServiceRequest
func (r *GetNameListRequest) Node() *ber.Node {
	var scope *ber.Node
	switch r.Scope {
	case ScopeDomain:
		scope = ber.String(0x81, r.DomainID)
	case ScopeAssociation:
		scope = ber.Empty(0x82)
	default:
		scope = ber.Empty(0x80)
	}

	request := ber.Constructed(serviceGetNameList,
		ber.Constructed(0xa0, ber.Unsigned(0x80, uint64(r.Class))),
		ber.Constructed(0xa1, scope),
	)
	if r.ContinueAfter != "" {
		request.Add(ber.String(0x82, r.ContinueAfter))
	}
	return request
}

// ParseGetNameListRequest декодирует элемент confirmedServiceRequest
func ParseGetNameListRequest(service ber.TLV) (*GetNameListRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	request := &GetNameListRequest{Class: -1}
	var hasScope bool
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			inner, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			if len(inner) == 1 && inner[0].Tag == 0x80 {
				request.Class = ObjectClass(inner[0].Uint())
			}
		case 0xa1:
			inner, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			if len(inner) != 1 {
				return nil, fmt.Errorf("%w: object scope", ErrInvalidPDU)
			}
			switch inner[0].Tag {
			case 0x80:
				request.Scope = ScopeVMD
			case 0x81:
				request.Scope = ScopeDomain
				request.DomainID = inner[0].String()
			case 0x82:
				request.Scope = ScopeAssociation
			default:
				return nil, fmt.Errorf("%w: object scope 0x%02x", ErrUnexpectedTag, inner[0].Tag)
			}
			hasScope = true
		case 0x82:
			request.ContinueAfter = field.String()
		}
	}

	if request.Class < 0 || !hasScope {
		return nil, fmt.Errorf("%w: getNameList without class or scope", ErrInvalidPDU)
	}
	return request, nil
}

// GetNameListResponse ответ getNameList:
//
//	GetNameList-Response ::= SEQUENCE {
//	  listOfIdentifier [0] IMPLICIT SEQUENCE OF Identifier,
//	  moreFollows      [1] IMPLICIT BOOLEAN DEFAULT TRUE
//	}
type GetNameListResponse struct {
	Identifiers []string
	MoreFollows bool
}

// Node кодирует элемент confirmedServiceResponse
func (r *GetNameListResponse) Node() *ber.Node {
	list := ber.Constructed(0xa0)
	for _, id := range r.Identifiers {
		list.Add(ber.String(uint32(ber.VisibleString), id))
	}
	response := ber.Constructed(serviceGetNameList, list)
	if !r.MoreFollows {
		response.Add(ber.Bool(0x81, false))
	}
	return response
}

// ParseGetNameListResponse декодирует элемент confirmedServiceResponse
func ParseGetNameListResponse(service ber.TLV) (*GetNameListResponse, error) {
	if service.Tag != serviceGetNameList {
		return nil, fmt.Errorf("%w: expected getNameList response, got 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &GetNameListResponse{MoreFollows: true}
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			ids, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			for _, id := range ids {
				response.Identifiers = append(response.Identifiers, id.String())
			}
		case 0x81:
			response.MoreFollows = field.Bool()
		}
	}
	return response, nil
}

// getNameListOverhead оценка служебных октетов ответа getNameList
const getNameListOverhead = 27

// NameListPage выбирает имена после continueAfter, которые помещаются в PDU
// размера maxPduSize. Возвращает страницу и признак продолжения.
func NameListPage(names []string, continueAfter string, maxPduSize int) ([]string, bool) {
	start := 0
	if continueAfter != "" {
		start = len(names)
		for i, name := range names {
			if name == continueAfter {
				start = i + 1
				break
			}
		}
	}

	size := getNameListOverhead
	var page []string
	for i := start; i < len(names); i++ {
		size += ber.DetermineEncodedStringSize(names[i])
		if size > maxPduSize {
			return page, true
		}
		page = append(page, names[i])
	}
	return page, false
}
