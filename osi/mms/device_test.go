package mms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func TestDevice(t *testing.T) {
	device := testDevice()
	assert.Same(t, device.Domain("LD0"), device.AddDomain("LD0"))
	device.AddDomain("LD1")
	assert.Equal(t, []string{"LD0", "LD1"}, device.DomainNames())
	assert.Nil(t, device.Domain("LD2"))

	domain := device.Domain("LD0")
	tests := []struct {
		name     string
		itemID   string
		wantType TypeSpecType
		wantNil  bool
	}{
		{name: "логический узел", itemID: "GGIO1", wantType: TypeSpecStructure},
		{name: "атрибут", itemID: "GGIO1$ST$Ind1$stVal", wantType: TypeSpecBoolean},
		{name: "массив", itemID: "GGIO1$SP$arr", wantType: TypeSpecArray},
		{name: "нет узла", itemID: "GGIO2", wantNil: true},
		{name: "нет компоненты", itemID: "GGIO1$CO", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := domain.Variable(tt.itemID)
			if tt.wantNil {
				assert.Nil(t, spec)
				return
			}
			require.NotNil(t, spec)
			assert.Equal(t, tt.wantType, spec.Type)
		})
	}

	names := domain.VariableNames()
	assert.Equal(t, "GGIO1", names[0])
	assert.Equal(t, []string{"GGIO1$ST", "GGIO1$ST$Ind1", "GGIO1$ST$Ind1$stVal"}, names[1:4])
	assert.Contains(t, names, "GGIO1$SP$arr")
	assert.NotContains(t, names, "GGIO1$SP$arr$")
}

func TestNamedVariableLists(t *testing.T) {
	var lists NamedVariableLists

	require.NoError(t, lists.Add(&NamedVariableList{Name: "ds1"}))
	require.NoError(t, lists.Add(&NamedVariableList{Name: "ds2", Deletable: true}))
	assert.Equal(t, ErrorDefinitionObjectExists, lists.Add(&NamedVariableList{Name: "ds1"}))

	assert.Equal(t, []string{"ds1", "ds2"}, lists.Names())
	assert.True(t, lists.Get("ds2").Deletable)
	assert.Nil(t, lists.Get("ds3"))

	assert.True(t, lists.Delete("ds1"))
	assert.False(t, lists.Delete("ds1"))
	assert.Len(t, lists.All(), 1)
}

func TestValueCache(t *testing.T) {
	domain := testDevice().Domain("LD0")
	cache := NewValueCache(domain)

	assert.Nil(t, cache.Lookup("GGIO1"))

	cache.InitializeDefaults()
	root := cache.Lookup("GGIO1")
	require.NotNil(t, root)
	assert.True(t, domain.Variable("GGIO1").Matches(root))

	// компонента возвращается без копирования
	stVal := cache.Lookup("GGIO1$ST$Ind1$stVal")
	require.NotNil(t, stVal)
	stVal.SetBool(true)
	assert.True(t, root.Element(0).Element(0).Element(0).Bool())

	// точное имя имеет приоритет над предком
	cache.Insert("GGIO1$SP$d", variant.NewVisibleStringVariant("own"))
	assert.Equal(t, "own", cache.Lookup("GGIO1$SP$d").Text())
	assert.Equal(t, "", root.Element(2).Element(1).Text())

	assert.Nil(t, cache.Lookup("GGIO1$ST$Ind2"))
	assert.Nil(t, cache.Lookup("GGIO1$ST$Ind1$stVal$x"))
	assert.Nil(t, cache.Lookup("GGIO2$ST"))
}
