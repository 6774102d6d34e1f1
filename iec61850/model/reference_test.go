package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectReference(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		wantDomain string
		wantItem   string
		wantIndex  int
		wantString string
		wantErr    bool
	}{
		{
			name:       "атрибут с FC",
			ref:        "simpleIOGenericIO/GGIO1.AnIn1.mag.f[MX]",
			wantDomain: "simpleIOGenericIO",
			wantItem:   "GGIO1$MX$AnIn1$mag$f",
			wantIndex:  -1,
		},
		{
			name:       "без FC",
			ref:        "LD0/LLN0.RP.EventsRCB",
			wantDomain: "LD0",
			wantItem:   "LLN0$RP$EventsRCB",
			wantIndex:  -1,
		},
		{
			name:       "логический узел",
			ref:        "LD0/LLN0",
			wantDomain: "LD0",
			wantItem:   "LLN0",
			wantIndex:  -1,
		},
		{
			name:       "элемент массива",
			ref:        "LD0/GGIO1.Setting.weights(2)[SP]",
			wantDomain: "LD0",
			wantItem:   "GGIO1$SP$Setting$weights",
			wantIndex:  2,
		},
		{name: "нет логического устройства", ref: "GGIO1.Ind1", wantErr: true},
		{name: "пустое имя", ref: "LD0/GGIO1..stVal", wantErr: true},
		{name: "неизвестная FC", ref: "LD0/GGIO1.Ind1[XX]", wantErr: true},
		{name: "неверный индекс", ref: "LD0/GGIO1.arr(x)", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseObjectReference(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDomain, ref.DomainID())
			assert.Equal(t, tt.wantItem, ref.ItemID())
			assert.Equal(t, tt.wantIndex, ref.Index)
			assert.Equal(t, tt.ref, ref.String())
		})
	}
}

func TestFromMms(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		item   string
		want   string
	}{
		{name: "атрибут", domain: "LD0", item: "GGIO1$ST$Ind1$stVal", want: "LD0/GGIO1.Ind1.stVal[ST]"},
		{name: "компонента FC", domain: "LD0", item: "GGIO1$MX", want: "LD0/GGIO1[MX]"},
		{name: "RCB", domain: "LD0", item: "LLN0$BR$brcb1", want: "LD0/LLN0.BR.brcb1"},
		{name: "набор данных", domain: "LD0", item: "LLN0$Events", want: "LD0/LLN0.Events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := FromMms(tt.domain, tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref.String())
			assert.Equal(t, tt.item, ref.ItemID())
		})
	}

	_, err := FromMms("", "GGIO1")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestReferenceChild(t *testing.T) {
	ln := MustParseObjectReference("LD0/GGIO1")
	a := ln.Child("SPCSO1").WithFC(FCCO)
	b := a.Child("Oper", "ctlVal")
	c := a.Child("SBOw")

	assert.Equal(t, "GGIO1$CO$SPCSO1$Oper$ctlVal", b.ItemID())
	assert.Equal(t, "GGIO1$CO$SPCSO1$SBOw", c.ItemID())
	assert.Equal(t, "LD0/GGIO1", b.LogicalNodeReference())

	assert.Equal(t, "LD0/LLN0$ds1", DataSetReferenceToMms("LD0/LLN0.ds1"))
	assert.Equal(t, "LD0/LLN0.ds1", DataSetReferenceFromMms("LD0/LLN0$ds1"))
}
