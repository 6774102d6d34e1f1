package ber

// TagClass represents the class of a BER tag
type TagClass byte

// Tag classes as defined in X.690
const (
	ClassUniversal       TagClass = 0x00
	ClassApplication     TagClass = 0x40
	ClassContextSpecific TagClass = 0x80
	ClassPrivate         TagClass = 0xC0
)

// TagForm is bit 6 of the first identifier octet
type TagForm byte

const (
	FormPrimitive   TagForm = 0x00
	FormConstructed TagForm = 0x20
)

// Tag represents a single-octet BER tag
type Tag byte

// Universal tags used by the stack
const (
	Boolean          Tag = 0x01
	Integer          Tag = 0x02
	BitString        Tag = 0x03
	OctetString      Tag = 0x04
	Null             Tag = 0x05
	ObjectIdentifier Tag = 0x06
	External         Tag = 0x08
	Sequence         Tag = 0x10
	Set              Tag = 0x11
	GeneralizedTime  Tag = 0x18
	VisibleString    Tag = 0x1A
)

const (
	SequenceConstructed Tag = Sequence | Tag(FormConstructed) // 0x30
	SetConstructed      Tag = Set | Tag(FormConstructed)      // 0x31
	ExternalConstructed Tag = External | Tag(FormConstructed) // 0x28
)

// MakeTag creates a single-octet tag. Numbers from 31 upwards need the
// multi-octet form, see MakeLongTag.
func MakeTag(class TagClass, form TagForm, tagNumber byte) Tag {
	return Tag(byte(class) | byte(form) | (tagNumber & 0x1f))
}

// MakeLongTag creates a tag in the raw form returned by DecodeTag.
// Tag numbers below 31 produce a single octet.
func MakeLongTag(class TagClass, form TagForm, tagNumber uint32) uint32 {
	if tagNumber < 0x1f {
		return uint32(MakeTag(class, form, byte(tagNumber)))
	}

	tag := uint32(byte(class) | byte(form) | 0x1f)

	var groups []byte
	groups = append(groups, byte(tagNumber&0x7f))
	for n := tagNumber >> 7; n > 0; n >>= 7 {
		groups = append(groups, byte(n&0x7f)|0x80)
	}
	for i := len(groups) - 1; i >= 0; i-- {
		tag = tag<<8 | uint32(groups[i])
	}

	return tag
}

// MakeContextSpecificTag creates a context-specific tag
func MakeContextSpecificTag(tagNumber byte, constructed bool) Tag {
	form := FormPrimitive
	if constructed {
		form = FormConstructed
	}
	return MakeTag(ClassContextSpecific, form, tagNumber)
}

// MakeApplicationTag creates an application-specific tag
func MakeApplicationTag(tagNumber byte, constructed bool) Tag {
	form := FormPrimitive
	if constructed {
		form = FormConstructed
	}
	return MakeTag(ClassApplication, form, tagNumber)
}

// Common BER tags used in the project
const (
	Application0Constructed Tag = 0x60
	Application1Constructed Tag = 0x61
	Application2Constructed Tag = 0x62
	Application3Constructed Tag = 0x63
	Application4Constructed Tag = 0x64

	ContextSpecific0Constructed  Tag = 0xA0
	ContextSpecific1Constructed  Tag = 0xA1
	ContextSpecific2Constructed  Tag = 0xA2
	ContextSpecific3Constructed  Tag = 0xA3
	ContextSpecific4Constructed  Tag = 0xA4
	ContextSpecific5Constructed  Tag = 0xA5
	ContextSpecific6Constructed  Tag = 0xA6
	ContextSpecific7Constructed  Tag = 0xA7
	ContextSpecific12Constructed Tag = 0xAC
	ContextSpecific30Constructed Tag = 0xBE

	ContextSpecific0Primitive  Tag = 0x80
	ContextSpecific1Primitive  Tag = 0x81
	ContextSpecific2Primitive  Tag = 0x82
	ContextSpecific3Primitive  Tag = 0x83
	ContextSpecific10Primitive Tag = 0x8A
	ContextSpecific11Primitive Tag = 0x8B
)
