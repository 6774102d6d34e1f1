package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectReference ссылка на объект модели вида "LD0/GGIO1.Ind1.stVal[ST]".
// Функциональная связь в квадратных скобках необязательна, индекс
// элемента массива задаётся в круглых скобках последнего имени: "arr(3)".
//
// В MMS ссылка отображается на домен LogicalDevice и переменную
// "GGIO1$ST$Ind1$stVal".
type ObjectReference struct {
	LogicalDevice string
	LogicalNode   string
	Path          []string
	FC            FunctionalConstraint

	// Index номер элемента массива или -1
	Index int
}

// ParseObjectReference разбирает ссылку в нотации IEC 61850
func ParseObjectReference(ref string) (ObjectReference, error) {
	r := ObjectReference{FC: FCNone, Index: -1}

	if open := strings.LastIndexByte(ref, '['); open >= 0 && strings.HasSuffix(ref, "]") {
		r.FC = ParseFunctionalConstraint(ref[open+1 : len(ref)-1])
		if r.FC == FCNone {
			return r, fmt.Errorf("%w: unknown functional constraint in %q", ErrInvalidReference, ref)
		}
		ref = ref[:open]
	}

	ld, rest, ok := strings.Cut(ref, "/")
	if !ok || ld == "" || rest == "" {
		return r, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	r.LogicalDevice = ld

	parts := strings.Split(rest, ".")
	for _, part := range parts {
		if part == "" {
			return r, fmt.Errorf("%w: empty name in %q", ErrInvalidReference, ref)
		}
	}
	r.LogicalNode = parts[0]
	r.Path = parts[1:]

	if n := len(r.Path); n > 0 {
		last := r.Path[n-1]
		if open := strings.IndexByte(last, '('); open > 0 && strings.HasSuffix(last, ")") {
			index, err := strconv.Atoi(last[open+1 : len(last)-1])
			if err != nil || index < 0 {
				return r, fmt.Errorf("%w: array index in %q", ErrInvalidReference, ref)
			}
			r.Path[n-1] = last[:open]
			r.Index = index
		}
	}

	return r, nil
}

// MustParseObjectReference паникует при ошибке разбора
func MustParseObjectReference(ref string) ObjectReference {
	r, err := ParseObjectReference(ref)
	if err != nil {
		panic(err)
	}
	return r
}

// FromMms восстанавливает ссылку из имени MMS переменной.
// Второй сегмент itemID считается функциональной связью, если это известное имя FC.
func FromMms(domainID, itemID string) (ObjectReference, error) {
	r := ObjectReference{LogicalDevice: domainID, FC: FCNone, Index: -1}
	if domainID == "" || itemID == "" {
		return r, fmt.Errorf("%w: %s/%s", ErrInvalidReference, domainID, itemID)
	}

	parts := strings.Split(itemID, "$")
	r.LogicalNode = parts[0]
	parts = parts[1:]
	if len(parts) > 0 {
		if fc := ParseFunctionalConstraint(parts[0]); fc != FCNone && fc != FCRP && fc != FCBR {
			r.FC = fc
			parts = parts[1:]
		}
	}
	r.Path = parts
	return r, nil
}

// WithFC возвращает копию ссылки с функциональной связью fc
func (r ObjectReference) WithFC(fc FunctionalConstraint) ObjectReference {
	r.Path = append([]string(nil), r.Path...)
	r.FC = fc
	return r
}

// Child возвращает ссылку на вложенный объект
func (r ObjectReference) Child(names ...string) ObjectReference {
	path := make([]string, 0, len(r.Path)+len(names))
	r.Path = append(append(path, r.Path...), names...)
	r.Index = -1
	return r
}

// DomainID возвращает имя MMS домена
func (r ObjectReference) DomainID() string {
	return r.LogicalDevice
}

// ItemID возвращает имя MMS переменной: "LN$FC$DO$DA"
func (r ObjectReference) ItemID() string {
	var b strings.Builder
	b.WriteString(r.LogicalNode)
	if r.FC != FCNone {
		b.WriteByte('$')
		b.WriteString(r.FC.String())
	}
	for _, name := range r.Path {
		b.WriteByte('$')
		b.WriteString(name)
	}
	return b.String()
}

// HasIndex сообщает, указан ли элемент массива
func (r ObjectReference) HasIndex() bool {
	return r.Index >= 0
}

// LogicalNodeReference возвращает "LD/LN"
func (r ObjectReference) LogicalNodeReference() string {
	return r.LogicalDevice + "/" + r.LogicalNode
}

func (r ObjectReference) String() string {
	var b strings.Builder
	b.WriteString(r.LogicalDevice)
	b.WriteByte('/')
	b.WriteString(r.LogicalNode)
	for _, name := range r.Path {
		b.WriteByte('.')
		b.WriteString(name)
	}
	if r.Index >= 0 {
		fmt.Fprintf(&b, "(%d)", r.Index)
	}
	if r.FC != FCNone {
		b.WriteByte('[')
		b.WriteString(r.FC.String())
		b.WriteByte(']')
	}
	return b.String()
}

// DataSetReferenceFromMms переводит "LD0/LLN0$ds1" в "LD0/LLN0.ds1"
func DataSetReferenceFromMms(ref string) string {
	return strings.ReplaceAll(ref, "$", ".")
}

// DataSetReferenceToMms переводит "LD0/LLN0.ds1" в "LD0/LLN0$ds1"
func DataSetReferenceToMms(ref string) string {
	return strings.ReplaceAll(ref, ".", "$")
}
