package mms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// analogValue описание AnalogueValue с качеством и меткой времени, как в GGIO1$MX
func analogValue(name string) *TypeSpecification {
	return &TypeSpecification{
		Name: name,
		Type: TypeSpecStructure,
		Components: []*TypeSpecification{
			{
				Name: "mag",
				Type: TypeSpecStructure,
				Components: []*TypeSpecification{{
					Name:          "f",
					Type:          TypeSpecFloatingPoint,
					FloatingPoint: &FloatingPointTypeSpec{FormatWidth: 32, ExponentWidth: 8},
				}},
			},
			{Name: "q", Type: TypeSpecBitString, Size: -13},
			{Name: "t", Type: TypeSpecUTCTime},
		},
	}
}

func TestParseGetVariableAccessAttributesResponse(t *testing.T) {
	// Ответ на запрос атрибутов simpleIOGenericIO/GGIO1$MX:
	// a1 82 01 0b confirmed-ResponsePDU
	//   02 01 02 invokeID = 2
	//   a6 82 01 04 getVariableAccessAttributes
	//      80 01 00 mmsDeletable = false
	//      a2 81 fe typeSpecification: структура AnIn1..AnIn4
	buffer := "a182010b020102a6820104800100a281fea281fba181f8" +
		"303c8005416e496e31a133a231a12f301a80036d6167a113a211a10f300d800166a108a7060201200201083008800171a1038401f33007800174a1029100" +
		"303c8005416e496e32a133a231a12f301a80036d6167a113a211a10f300d800166a108a7060201200201083008800171a1038401f33007800174a1029100" +
		"303c8005416e496e33a133a231a12f301a80036d6167a113a211a10f300d800166a108a7060201200201083008800171a1038401f33007800174a1029100" +
		"303c8005416e496e34a133a231a12f301a80036d6167a113a211a10f300d800166a108a7060201200201083008800171a1038401f33007800174a1029100"

	pdu, err := ParsePDU(parseHexStringForTest(t, buffer))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pdu.InvokeID)

	got, err := ParseGetVariableAccessAttributesResponse(pdu.Service)
	require.NoError(t, err)

	want := &VariableAccessAttributesResponse{
		MmsDeletable: false,
		TypeSpecification: NewStructureSpec("",
			analogValue("AnIn1"),
			analogValue("AnIn2"),
			analogValue("AnIn3"),
			analogValue("AnIn4"),
		),
	}
	assert.Equal(t, want, got)
}

func TestTypeSpecificationNode(t *testing.T) {
	tests := []struct {
		name string
		spec *TypeSpecification
	}{
		{
			name: "структура аналогового значения",
			spec: analogValue("AnIn1"),
		},
		{
			name: "массив структур",
			spec: NewArraySpec("arr", 4, NewStructureSpec("",
				NewBasicSpec("stVal", TypeSpecBoolean, 0),
				NewBasicSpec("ctlNum", TypeSpecUnsigned, 8),
			)),
		},
		{
			name: "строки",
			spec: NewStructureSpec("",
				NewBasicSpec("d", TypeSpecVisibleString, -255),
				NewBasicSpec("dU", TypeSpecMMSString, -255),
				NewBasicSpec("origin", TypeSpecOctetString, -64),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTypeSpecification(parseTLVForTest(t, tt.spec.Node().Encode()))
			require.NoError(t, err)

			tt.spec.Name = ""
			assert.Equal(t, tt.spec, got)
		})
	}
}

func TestTypeSpecificationLookup(t *testing.T) {
	spec := NewStructureSpec("GGIO1",
		NewStructureSpec("MX", analogValue("AnIn1"), analogValue("AnIn2")),
		NewStructureSpec("ST", NewBasicSpec("Ind1", TypeSpecBoolean, 0)),
	)

	tests := []struct {
		name     string
		item     string
		wantType TypeSpecType
		wantNil  bool
	}{
		{name: "корень", item: "", wantType: TypeSpecStructure},
		{name: "функциональная связка", item: "MX", wantType: TypeSpecStructure},
		{name: "атрибут", item: "MX$AnIn2$mag$f", wantType: TypeSpecFloatingPoint},
		{name: "качество", item: "MX$AnIn1$q", wantType: TypeSpecBitString},
		{name: "нет компоненты", item: "MX$AnIn3", wantNil: true},
		{name: "путь через простой тип", item: "ST$Ind1$stVal", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := spec.LookupItem(tt.item)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
		})
	}

	assert.Equal(t, 1, spec.ComponentIndex("ST"))
	assert.Equal(t, -1, spec.ComponentIndex("CO"))
}

func TestTypeSpecificationDefaultMatches(t *testing.T) {
	spec := NewStructureSpec("",
		analogValue("AnIn1"),
		NewArraySpec("arr", 3, NewBasicSpec("", TypeSpecInteger, 32)),
		NewBasicSpec("binary", TypeSpecBinaryTime, 6),
		NewBasicSpec("d", TypeSpecVisibleString, -16),
	)

	value := spec.Default()
	require.NotNil(t, value)
	assert.True(t, spec.Matches(value))
	assert.Equal(t, 4, value.Len())
	assert.Equal(t, 3, value.Element(1).Len())
	assert.Equal(t, 13, value.Element(0).Element(1).BitSize())

	tests := []struct {
		name  string
		spec  *TypeSpecification
		value *variant.Variant
		want  bool
	}{
		{
			name:  "bool",
			spec:  NewBasicSpec("", TypeSpecBoolean, 0),
			value: variant.NewBoolVariant(true),
			want:  true,
		},
		{
			name:  "integer вместо bool",
			spec:  NewBasicSpec("", TypeSpecBoolean, 0),
			value: variant.NewIntegerVariant(1),
		},
		{
			name:  "строка длиннее максимума",
			spec:  NewBasicSpec("", TypeSpecVisibleString, -4),
			value: variant.NewVisibleStringVariant("too long"),
		},
		{
			name:  "битовая строка переменной длины",
			spec:  NewBasicSpec("", TypeSpecBitString, -13),
			value: variant.NewBitStringVariant(2, nil),
			want:  true,
		},
		{
			name:  "массив другой длины",
			spec:  NewArraySpec("", 2, NewBasicSpec("", TypeSpecInteger, 8)),
			value: variant.NewArrayVariant(variant.NewIntegerVariant(1)),
		},
		{
			name:  "nil",
			spec:  NewBasicSpec("", TypeSpecUnsigned, 32),
			value: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Matches(tt.value))
		})
	}
}
