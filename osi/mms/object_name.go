package mms

import (
	"errors"
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

var (
	// ErrInvalidPDU нарушена структура PDU
	ErrInvalidPDU = errors.New("mms: invalid PDU")
	// ErrUnexpectedTag встречен неожиданный тег
	ErrUnexpectedTag = errors.New("mms: unexpected tag")
)

// ObjectScope область видимости имени объекта MMS
type ObjectScope int

const (
	ScopeVMD ObjectScope = iota
	ScopeDomain
	ScopeAssociation
)

func (s ObjectScope) String() string {
	switch s {
	case ScopeVMD:
		return "vmd-specific"
	case ScopeDomain:
		return "domain-specific"
	case ScopeAssociation:
		return "aa-specific"
	}
	return fmt.Sprintf("ObjectScope(%d)", int(s))
}

// ObjectName представляет ObjectName согласно ISO/IEC 9506-2:
//
//	ObjectName ::= CHOICE {
//	  vmd-specific    [0] IMPLICIT Identifier,
//	  domain-specific [1] IMPLICIT SEQUENCE { domainId Identifier, itemId Identifier },
//	  aa-specific     [2] IMPLICIT Identifier
//	}
type ObjectName struct {
	Scope    ObjectScope
	DomainID string
	ItemID   string
}

// VMDName создаёт vmd-specific имя
func VMDName(itemID string) ObjectName {
	return ObjectName{Scope: ScopeVMD, ItemID: itemID}
}

// DomainName создаёт domain-specific имя
func DomainName(domainID, itemID string) ObjectName {
	return ObjectName{Scope: ScopeDomain, DomainID: domainID, ItemID: itemID}
}

// AssociationName создаёт aa-specific имя
func AssociationName(itemID string) ObjectName {
	return ObjectName{Scope: ScopeAssociation, ItemID: itemID}
}

func (n ObjectName) String() string {
	if n.Scope == ScopeDomain {
		return n.DomainID + "/" + n.ItemID
	}
	if n.Scope == ScopeAssociation {
		return "@" + n.ItemID
	}
	return n.ItemID
}

// Node кодирует имя в BER
func (n ObjectName) Node() *ber.Node {
	switch n.Scope {
	case ScopeDomain:
		return ber.Constructed(0xa1,
			ber.String(uint32(ber.VisibleString), n.DomainID),
			ber.String(uint32(ber.VisibleString), n.ItemID),
		)
	case ScopeAssociation:
		return ber.String(0x82, n.ItemID)
	default:
		return ber.String(0x80, n.ItemID)
	}
}

// ParseObjectName декодирует ObjectName из элемента CHOICE
func ParseObjectName(tlv ber.TLV) (ObjectName, error) {
	switch tlv.Tag {
	case 0x80:
		return VMDName(tlv.String()), nil
	case 0x82:
		return AssociationName(tlv.String()), nil
	case 0xa1:
		children, err := tlv.Children()
		if err != nil {
			return ObjectName{}, err
		}
		if len(children) != 2 {
			return ObjectName{}, fmt.Errorf("%w: domain-specific name with %d elements", ErrInvalidPDU, len(children))
		}
		return DomainName(children[0].String(), children[1].String()), nil
	}
	return ObjectName{}, fmt.Errorf("%w: object name 0x%02x", ErrUnexpectedTag, tlv.Tag)
}

// AlternateAccess описывает доступ к части переменной-массива:
// к элементу, к диапазону элементов или к компоненте элемента.
type AlternateAccess struct {
	// Index - номер первого элемента
	Index int
	// Count - количество элементов, 0 для доступа к одному элементу
	Count int
	// Component - имя компоненты элемента-структуры
	Component string
}

// IsRange сообщает, запрошен ли диапазон элементов
func (a *AlternateAccess) IsRange() bool {
	return a != nil && a.Count > 0
}

// AlternateAccessSelection кодируется так (ISO/IEC 9506-2):
//
//	selectAlternateAccess [0] IMPLICIT SEQUENCE { accessSelection, alternateAccess }
//	selectAccess: component [1], index [2], indexRange [3] { lowIndex [0], numberOfElements [1] }
func (a *AlternateAccess) node() *ber.Node {
	if a.Component != "" {
		return ber.Constructed(0xa5,
			ber.Constructed(0xa0,
				ber.Unsigned(0x81, uint64(a.Index)),
				ber.Constructed(uint32(ber.SequenceConstructed), ber.String(0x81, a.Component)),
			),
		)
	}
	if a.Count > 0 {
		return ber.Constructed(0xa5,
			ber.Constructed(0xa3,
				ber.Unsigned(0x80, uint64(a.Index)),
				ber.Unsigned(0x81, uint64(a.Count)),
			),
		)
	}
	return ber.Constructed(0xa5, ber.Unsigned(0x82, uint64(a.Index)))
}

func parseAlternateAccess(tlv ber.TLV) (*AlternateAccess, error) {
	selections, err := tlv.Children()
	if err != nil {
		return nil, err
	}
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: empty alternate access", ErrInvalidPDU)
	}

	access := &AlternateAccess{}
	selection := selections[0]

	switch selection.Tag {
	case 0x82:
		access.Index = int(selection.Uint())

	case 0xa3:
		bounds, err := selection.Children()
		if err != nil {
			return nil, err
		}
		for _, b := range bounds {
			switch b.Tag {
			case 0x80:
				access.Index = int(b.Uint())
			case 0x81:
				access.Count = int(b.Uint())
			}
		}

	case 0xa0:
		parts, err := selection.Children()
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			switch p.Tag {
			case 0x81:
				access.Index = int(p.Uint())
			case uint32(ber.SequenceConstructed):
				nested, err := p.Children()
				if err != nil {
					return nil, err
				}
				if len(nested) > 0 && nested[0].Tag == 0x81 {
					access.Component = nested[0].String()
				}
			default:
				return nil, fmt.Errorf("%w: alternate access selection 0x%02x", ErrUnexpectedTag, p.Tag)
			}
		}

	default:
		return nil, fmt.Errorf("%w: alternate access 0x%02x", ErrUnexpectedTag, selection.Tag)
	}

	return access, nil
}

// VariableSpec элемент listOfVariable: имя переменной и необязательный
// альтернативный доступ
type VariableSpec struct {
	Name   ObjectName
	Access *AlternateAccess
}

func (s VariableSpec) String() string {
	if s.Access == nil {
		return s.Name.String()
	}
	if s.Access.Component != "" {
		return fmt.Sprintf("%s(%d).%s", s.Name, s.Access.Index, s.Access.Component)
	}
	if s.Access.Count > 0 {
		return fmt.Sprintf("%s(%d..%d)", s.Name, s.Access.Index, s.Access.Index+s.Access.Count-1)
	}
	return fmt.Sprintf("%s(%d)", s.Name, s.Access.Index)
}

// node кодирует SEQUENCE { variableSpecification name [0], alternateAccess [5] OPTIONAL }
func (s VariableSpec) node() *ber.Node {
	seq := ber.Constructed(uint32(ber.SequenceConstructed), ber.Constructed(0xa0, s.Name.Node()))
	if s.Access != nil {
		seq.Add(s.Access.node())
	}
	return seq
}

func listOfVariableNode(tag uint32, specs []VariableSpec) *ber.Node {
	list := ber.Constructed(tag)
	for _, spec := range specs {
		list.Add(spec.node())
	}
	return list
}

func parseListOfVariable(tlv ber.TLV) ([]VariableSpec, error) {
	entries, err := tlv.Children()
	if err != nil {
		return nil, err
	}

	specs := make([]VariableSpec, 0, len(entries))
	for _, entry := range entries {
		if entry.Tag != uint32(ber.SequenceConstructed) {
			return nil, fmt.Errorf("%w: list of variable entry 0x%02x", ErrUnexpectedTag, entry.Tag)
		}

		fields, err := entry.Children()
		if err != nil {
			return nil, err
		}

		var spec VariableSpec
		var named bool
		for _, field := range fields {
			switch field.Tag {
			case 0xa0:
				inner, err := field.Children()
				if err != nil {
					return nil, err
				}
				if len(inner) != 1 {
					return nil, fmt.Errorf("%w: variable specification", ErrInvalidPDU)
				}
				if spec.Name, err = ParseObjectName(inner[0]); err != nil {
					return nil, err
				}
				named = true
			case 0xa5:
				if spec.Access, err = parseAlternateAccess(field); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("%w: variable specification 0x%02x", ErrUnexpectedTag, field.Tag)
			}
		}
		if !named {
			return nil, fmt.Errorf("%w: variable specification without name", ErrInvalidPDU)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// VariableAccessSpecification список переменных или имя именованного списка
type VariableAccessSpecification struct {
	Variables []VariableSpec
	ListName  *ObjectName
}

// IsNamedList сообщает, задан ли доступ через именованный список переменных
func (s VariableAccessSpecification) IsNamedList() bool {
	return s.ListName != nil
}

// node кодирует CHOICE { listOfVariable [0], variableListName [1] }
func (s VariableAccessSpecification) node() *ber.Node {
	if s.ListName != nil {
		return ber.Constructed(0xa1, s.ListName.Node())
	}
	return listOfVariableNode(0xa0, s.Variables)
}

func parseVariableAccessSpecification(tlv ber.TLV) (VariableAccessSpecification, error) {
	var spec VariableAccessSpecification

	switch tlv.Tag {
	case 0xa0:
		variables, err := parseListOfVariable(tlv)
		if err != nil {
			return spec, err
		}
		spec.Variables = variables

	case 0xa1:
		inner, err := tlv.Children()
		if err != nil {
			return spec, err
		}
		if len(inner) != 1 {
			return spec, fmt.Errorf("%w: variable list name", ErrInvalidPDU)
		}
		name, err := ParseObjectName(inner[0])
		if err != nil {
			return spec, err
		}
		spec.ListName = &name

	default:
		return spec, fmt.Errorf("%w: variable access specification 0x%02x", ErrUnexpectedTag, tlv.Tag)
	}

	return spec, nil
}
