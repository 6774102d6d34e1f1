package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// Типы значений флага --type
var valueTypes = []string{"bool", "int", "int32", "uint", "float", "double", "string", "octets", "time"}

// parseValue переводит текстовое значение командной строки в Variant
func parseValue(typ, text string) (*variant.Variant, error) {
	switch typ {
	case "bool":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, err
		}
		return variant.NewBoolVariant(b), nil
	case "int":
		i, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, err
		}
		return variant.NewIntegerVariant(i), nil
	case "int32":
		i, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return nil, err
		}
		return variant.NewInt32Variant(int32(i)), nil
	case "uint":
		u, err := strconv.ParseUint(text, 0, 32)
		if err != nil {
			return nil, err
		}
		return variant.NewUnsignedVariant(u), nil
	case "float":
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, err
		}
		return variant.NewFloat32Variant(float32(f)), nil
	case "double":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, err
		}
		return variant.NewFloat64Variant(f), nil
	case "string":
		return variant.NewVisibleStringVariant(text), nil
	case "octets":
		b, err := hex.DecodeString(strings.ReplaceAll(text, " ", ""))
		if err != nil {
			return nil, err
		}
		return variant.NewOctetStringVariant(b), nil
	case "time":
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return nil, err
		}
		return variant.NewUTCTimeVariant(t), nil
	}
	return nil, fmt.Errorf("unknown value type %q (one of %s)", typ, strings.Join(valueTypes, ", "))
}

// functionalConstraint разбирает флаг --fc. Пустое значение означает FC
// из ссылки в квадратных скобках.
func functionalConstraint(name string) (model.FunctionalConstraint, error) {
	if name == "" {
		return model.FCNone, nil
	}
	fc := model.ParseFunctionalConstraint(strings.ToUpper(name))
	if fc == model.FCNone {
		return model.FCNone, fmt.Errorf("unknown functional constraint %q", name)
	}
	return fc, nil
}

// parseOriginator разбирает orCat по имени или номеру
func parseOriginator(text string) (model.Originator, error) {
	names := map[string]model.Originator{
		"not-supported":     model.OriginatorNotSupported,
		"bay":               model.OriginatorBayControl,
		"station":           model.OriginatorStationControl,
		"remote":            model.OriginatorRemoteControl,
		"automatic-bay":     model.OriginatorAutomaticBay,
		"automatic-station": model.OriginatorAutomaticStation,
		"automatic-remote":  model.OriginatorAutomaticRemote,
		"maintenance":       model.OriginatorMaintenance,
		"process":           model.OriginatorProcess,
	}
	if or, ok := names[strings.ToLower(text)]; ok {
		return or, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < int(model.OriginatorNotSupported) || n > int(model.OriginatorProcess) {
		return 0, fmt.Errorf("unknown originator category %q", text)
	}
	return model.Originator(n), nil
}
