package model

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func loadSimple(t *testing.T) *Model {
	t.Helper()
	m, err := LoadFile(afero.NewOsFs(), "testdata/simple.yaml")
	require.NoError(t, err)
	return m
}

func componentNames(spec *mms.TypeSpecification) []string {
	names := make([]string, len(spec.Components))
	for i, c := range spec.Components {
		names[i] = c.Name
	}
	return names
}

func TestLoadYAML(t *testing.T) {
	m := loadSimple(t)

	ld := m.LogicalDevice("GenericIO")
	require.NotNil(t, ld)
	lln0 := ld.LogicalNode("LLN0")
	ggio := ld.LogicalNode("GGIO1")
	require.NotNil(t, lln0)
	require.NotNil(t, ggio)

	assert.Equal(t, []string{"ST", "CF", "DC", "RP", "BR"}, componentNames(lln0.TypeSpecification()))
	assert.Equal(t, []string{"MX", "ST", "CO", "CF", "DC", "SP"}, componentNames(ggio.TypeSpecification()))

	// экземпляры RCB
	assert.Nil(t, lln0.ReportControlBlock("MeasurementsRCB"))
	require.NotNil(t, lln0.ReportControlBlock("MeasurementsRCB01"))
	require.NotNil(t, lln0.ReportControlBlock("MeasurementsRCB02"))

	brcb := lln0.ReportControlBlock("EventsBRCB")
	require.NotNil(t, brcb)
	assert.Equal(t, "LLN0$BR$EventsBRCB", brcb.ItemID())
	assert.Equal(t, "GenericIO/LLN0.BR.EventsBRCB", brcb.Reference())
	assert.Equal(t, "GenericIO/LLN0$BR$EventsBRCB", brcb.RptID)
	assert.Equal(t, "GenericIO/LLN0$Events", brcb.DataSetReference())
	assert.Equal(t, 8192, brcb.BufferSize)
	assert.Equal(t, TriggerDataChanged|TriggerQualityChanged|TriggerGI, brcb.TrgOps)
	assert.Zero(t, lln0.ReportControlBlock("EventsRCB").BufferSize)

	events := lln0.DataSet("Events")
	require.NotNil(t, events)
	require.Len(t, events.Entries(), 3)
	assert.Equal(t, "GenericIO/GGIO1.Ind1[ST]", events.Entries()[2].Reference.String())
	assert.Equal(t, "GenericIO/LLN0.Events", events.Reference())
	assert.Equal(t, "GenericIO/LLN0$Events", events.MmsReference())
}

func TestControlTemplates(t *testing.T) {
	m := loadSimple(t)
	ggio := m.LogicalDevice("GenericIO").LogicalNode("GGIO1")
	spec := ggio.TypeSpecification()

	tests := []struct {
		name   string
		itemID string
		want   []string
	}{
		{
			name:   "прямое управление",
			itemID: "GGIO1$CO$SPCSO1",
			want:   []string{"Oper"},
		},
		{
			name:   "SBO",
			itemID: "GGIO1$CO$SPCSO2",
			want:   []string{"SBO", "Oper"},
		},
		{
			name:   "SBO с усиленной защитой",
			itemID: "GGIO1$CO$SPCSO4",
			want:   []string{"SBOw", "Oper", "Cancel"},
		},
		{
			name:   "Oper с operTm",
			itemID: "GGIO1$CO$SPCSO4$Oper",
			want:   []string{"ctlVal", "operTm", "origin", "ctlNum", "T", "Test", "Check"},
		},
		{
			name:   "Cancel без Check",
			itemID: "GGIO1$CO$SPCSO4$Cancel",
			want:   []string{"ctlVal", "operTm", "origin", "ctlNum", "T", "Test"},
		},
		{
			name:   "Oper без operTm",
			itemID: "GGIO1$CO$SPCSO1$Oper",
			want:   []string{"ctlVal", "origin", "ctlNum", "T", "Test", "Check"},
		},
		{
			name:   "состояние с origin",
			itemID: "GGIO1$ST$SPCSO1",
			want:   []string{"origin", "ctlNum", "stVal", "q", "t"},
		},
		{
			name:   "конфигурация SBO",
			itemID: "GGIO1$CF$SPCSO2",
			want:   []string{"ctlModel", "sboTimeout", "sboClass"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := spec.LookupItem(strings.TrimPrefix(tt.itemID, "GGIO1$"))
			require.NotNil(t, sub)
			assert.Equal(t, tt.want, componentNames(sub))
		})
	}

	assert.True(t, ggio.DataObject("SPCSO1").IsControllable())
	assert.False(t, ggio.DataObject("Ind1").IsControllable())
	assert.False(t, m.LogicalDevice("GenericIO").LogicalNode("LLN0").DataObject("Mod").IsControllable())
}

func TestDevice(t *testing.T) {
	m := loadSimple(t)
	device, err := m.Device()
	require.NoError(t, err)

	domain := device.Domain("GenericIO")
	require.NotNil(t, domain)

	tests := []struct {
		name     string
		itemID   string
		wantType mms.TypeSpecType
		wantSize int
	}{
		{name: "stVal", itemID: "GGIO1$ST$Ind1$stVal", wantType: mms.TypeSpecBoolean},
		{name: "качество", itemID: "GGIO1$ST$Ind1$q", wantType: mms.TypeSpecBitString, wantSize: -13},
		{name: "метка времени", itemID: "GGIO1$ST$Ind1$t", wantType: mms.TypeSpecUTCTime},
		{name: "SBO", itemID: "GGIO1$CO$SPCSO2$SBO", wantType: mms.TypeSpecVisibleString, wantSize: -129},
		{name: "Check", itemID: "GGIO1$CO$SPCSO1$Oper$Check", wantType: mms.TypeSpecBitString, wantSize: -2},
		{name: "ctlModel", itemID: "GGIO1$CF$SPCSO1$ctlModel", wantType: mms.TypeSpecInteger, wantSize: 8},
		{name: "массив", itemID: "GGIO1$SP$Setting$weights", wantType: mms.TypeSpecArray},
		{name: "URCB", itemID: "LLN0$RP$EventsRCB$SqNum", wantType: mms.TypeSpecUnsigned, wantSize: 8},
		{name: "BRCB", itemID: "LLN0$BR$EventsBRCB$EntryID", wantType: mms.TypeSpecOctetString, wantSize: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := domain.Variable(tt.itemID)
			require.NotNil(t, spec)
			assert.Equal(t, tt.wantType, spec.Type)
			assert.Equal(t, tt.wantSize, spec.Size)
		})
	}

	assert.Len(t, domain.Variable("LLN0$RP$EventsRCB").Components, 12)
	assert.Len(t, domain.Variable("LLN0$BR$EventsBRCB").Components, 15)

	list := domain.NamedVariableLists().Get("LLN0$Events")
	require.NotNil(t, list)
	assert.False(t, list.Deletable)
	require.Len(t, list.Variables, 3)
	assert.Equal(t, mms.DomainName("GenericIO", "GGIO1$ST$SPCSO1$stVal"), list.Variables[0].Name)
	assert.Equal(t, []string{"LLN0$Events", "LLN0$Measurements"}, domain.NamedVariableLists().Names())
}

func TestInitialValues(t *testing.T) {
	m := loadSimple(t)

	values := make(map[string]*variant.Variant)
	require.NoError(t, m.InitialValues(func(ref ObjectReference, value *variant.Variant) {
		values[ref.DomainID()+"/"+ref.ItemID()] = value
	}))

	assert.Equal(t, int64(1), values["GenericIO/LLN0$ST$Mod$stVal"].Int64())
	assert.Equal(t, "libiec61850.com", values["GenericIO/LLN0$DC$NamPlt$vendor"].Text())
	assert.Equal(t, float32(1.5), values["GenericIO/GGIO1$MX$AnIn2$mag$f"].Float32())
	assert.Equal(t, int64(10), values["GenericIO/GGIO1$SP$Setting$setVal"].Int64())
	assert.Equal(t, uint64(2000), values["GenericIO/GGIO1$CF$SPCSO2$sboTimeout"].Uint64())
	assert.Equal(t, int64(SboEnhanced), values["GenericIO/GGIO1$CF$SPCSO4$ctlModel"].Int64())

	weights := values["GenericIO/GGIO1$SP$Setting$weights"]
	require.Equal(t, 3, weights.Len())
	assert.Equal(t, float32(2), weights.Element(2).Float32())

	rcb := values["GenericIO/LLN0$RP$EventsRCB"]
	require.NotNil(t, rcb)
	assert.Equal(t, "GenericIO/LLN0$RP$EventsRCB", rcb.Element(0).Text())
	assert.Equal(t, "GenericIO/LLN0$Events", rcb.Element(3).Text())
	assert.Equal(t, uint64(1), rcb.Element(4).Uint64())
	optFlds := rcb.Element(5)
	assert.True(t, optFlds.Bit(1), "seqNum")
	assert.True(t, optFlds.Bit(4), "dataSet")
	assert.False(t, optFlds.Bit(5), "dataRef")
	assert.Equal(t, OptionFields(OptSequenceNumber|OptReportTimestamp|OptReasonForInclusion|OptDataSet|OptConfRevision),
		OptionFieldsFromBits(optFlds.BitStringUint()))
	trgOps := rcb.Element(8)
	assert.True(t, trgOps.Bit(1), "dchg")
	assert.True(t, trgOps.Bit(5), "gi")
	assert.False(t, trgOps.Bit(4), "period")
}

func TestLoadTOML(t *testing.T) {
	m, err := LoadFile(afero.NewOsFs(), "testdata/minimal.toml")
	require.NoError(t, err)

	ln := m.LogicalDevice("LD0").LogicalNode("MMXU1")
	require.NotNil(t, ln)
	spec := ln.TypeSpecification().LookupItem("MX$TotW$mag$i")
	require.NotNil(t, spec)
	assert.Equal(t, mms.TypeSpecInteger, spec.Type)

	rcb := m.LogicalDevice("LD0").LogicalNode("LLN0").ReportControlBlock("rcb1")
	require.NotNil(t, rcb)
	assert.Equal(t, TriggerDataChanged|TriggerGI, rcb.TrgOps)
	assert.Equal(t, OptSequenceNumber|OptDataSet, rcb.OptFlds)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		model string
	}{
		{
			name:  "нет логических устройств",
			model: `name: x`,
		},
		{
			name: "повтор имени узла",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
      - name: LLN0`,
		},
		{
			name: "неизвестный CDC",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: GGIO1
        dataObjects:
          - name: Ind1
            cdc: XYZ`,
		},
		{
			name: "элемент набора без FC",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: GGIO1
        dataObjects:
          - name: Ind1
            cdc: SPS
        dataSets:
          - name: ds
            members: [GGIO1.Ind1.stVal]`,
		},
		{
			name: "несуществующий элемент набора",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: GGIO1
        dataObjects:
          - name: Ind1
            cdc: SPS
        dataSets:
          - name: ds
            members: [GGIO1.Ind1.stVal[MX]]`,
		},
		{
			name: "неизвестный набор RCB",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: LLN0
        reportControls:
          - name: rcb
            dataSet: missing`,
		},
		{
			name: "значение не того типа",
			model: `
logicalDevices:
  - name: LD0
    logicalNodes:
      - name: GGIO1
        dataObjects:
          - name: Ind1
            cdc: SPS
            values:
              stVal: 3`,
		},
		{
			name: "неизвестное поле",
			model: `
logicalDevices:
  - name: LD0
    color: red`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.model), FormatYAML)
			assert.ErrorIs(t, err, ErrInvalidModel)
		})
	}
}

func TestFlagsText(t *testing.T) {
	var trg TriggerOptions
	require.NoError(t, trg.UnmarshalText([]byte("dchg|dupd")))
	assert.Equal(t, TriggerDataChanged|TriggerDataUpdate, trg)
	assert.Equal(t, "dchg|dupd", trg.String())

	require.NoError(t, trg.UnmarshalText([]byte("24")))
	assert.Equal(t, TriggerIntegrity|TriggerGI, trg)

	assert.ErrorIs(t, trg.UnmarshalText([]byte("dchg|never")), ErrInvalidModel)

	var model ControlModel
	for text, want := range map[string]ControlModel{
		"sbo-with-enhanced-security": SboEnhanced,
		"direct-normal":              DirectNormal,
		"status-only":                StatusOnly,
		"2":                          SboNormal,
	} {
		require.NoError(t, model.UnmarshalText([]byte(text)), text)
		assert.Equal(t, want, model, text)
	}
	assert.Error(t, model.UnmarshalText([]byte("7")))
}
