package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		text    string
		want    *variant.Variant
		wantErr bool
	}{
		{name: "логическое", typ: "bool", text: "true", want: variant.NewBoolVariant(true)},
		{name: "целое", typ: "int", text: "-42", want: variant.NewIntegerVariant(-42)},
		{name: "целое hex", typ: "int32", text: "0x10", want: variant.NewInt32Variant(16)},
		{name: "беззнаковое", typ: "uint", text: "7", want: variant.NewUnsignedVariant(7)},
		{name: "float", typ: "float", text: "1.5", want: variant.NewFloat32Variant(1.5)},
		{name: "double", typ: "double", text: "2.25", want: variant.NewFloat64Variant(2.25)},
		{name: "строка", typ: "string", text: "feeder 1", want: variant.NewVisibleStringVariant("feeder 1")},
		{name: "октеты", typ: "octets", text: "01 02 ff", want: variant.NewOctetStringVariant([]byte{1, 2, 0xff})},
		{
			name: "время",
			typ:  "time",
			text: "2024-03-01T10:00:00Z",
			want: variant.NewUTCTimeVariant(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		},
		{name: "неверное логическое", typ: "bool", text: "maybe", wantErr: true},
		{name: "переполнение int32", typ: "int32", text: "4294967296", wantErr: true},
		{name: "отрицательное беззнаковое", typ: "uint", text: "-1", wantErr: true},
		{name: "неверный hex", typ: "octets", text: "zz", wantErr: true},
		{name: "неизвестный тип", typ: "struct", text: "1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseValue(tt.typ, tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestFunctionalConstraint(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    model.FunctionalConstraint
		wantErr bool
	}{
		{name: "пусто", text: "", want: model.FCNone},
		{name: "ST", text: "ST", want: model.FCST},
		{name: "нижний регистр", text: "mx", want: model.FCMX},
		{name: "неизвестная", text: "XX", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := functionalConstraint(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOriginator(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    model.Originator
		wantErr bool
	}{
		{name: "по имени", text: "station", want: model.OriginatorStationControl},
		{name: "регистр", text: "Remote", want: model.OriginatorRemoteControl},
		{name: "по номеру", text: "8", want: model.OriginatorProcess},
		{name: "вне диапазона", text: "9", wantErr: true},
		{name: "неизвестное имя", text: "operator", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOriginator(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCtlValType(t *testing.T) {
	assert.Equal(t, "bool", ctlValType(variant.Boolean))
	assert.Equal(t, "int32", ctlValType(variant.Integer))
	assert.Equal(t, "float", ctlValType(variant.Float32))
	assert.Equal(t, "", ctlValType(variant.BitString))
}
