package model

import (
	"fmt"
	"strings"
)

// Шаблоны общих классов данных (IEC 61850-7-3). Шаблон задаёт атрибуты
// объекта в порядке стандарта, необязательные атрибуты включаются через
// CDCOptions, модель управления - через DataObject.ControlModel.

func newAttribute(name string, fc FunctionalConstraint, typ AttributeType, trg TriggerOptions, children ...*DataAttribute) *DataAttribute {
	return &DataAttribute{Name: name, FC: fc, Type: typ, TriggerOptions: trg, Attributes: children}
}

func expandCDC(do *DataObject) error {
	cdc := strings.ToUpper(do.CDC)
	var attributes []*DataAttribute

	switch cdc {
	case "SPS", "DPS", "INS", "ENS", "ACT":
		attributes = statusAttributes(do, statusType(cdc))

	case "MV":
		attributes = measuredValueAttributes(do)

	case "SPC", "DPC", "INC", "ENC":
		if do.Options&CDCOptionOrigin != 0 {
			attributes = append(attributes,
				originAttribute(FCST),
				newAttribute("ctlNum", FCST, Int8U, TriggerNone),
			)
		}
		attributes = append(attributes, statusAttributes(do, statusType(cdc))...)
		attributes = append(attributes, controlAttributes(do, controlType(cdc))...)

	case "LPL":
		attributes = []*DataAttribute{
			newAttribute("vendor", FCDC, VisibleString255, TriggerNone),
			newAttribute("swRev", FCDC, VisibleString255, TriggerNone),
		}
		if do.Options&CDCOptionDescription != 0 {
			attributes = append(attributes, newAttribute("d", FCDC, VisibleString255, TriggerNone))
		}
		attributes = append(attributes, newAttribute("configRev", FCDC, VisibleString255, TriggerNone))

	default:
		return fmt.Errorf("%w: unknown CDC %q", ErrInvalidModel, do.CDC)
	}

	if do.ControlModel != StatusOnly && !isControllableCDC(cdc) {
		return fmt.Errorf("%w: CDC %s has no control model", ErrInvalidModel, cdc)
	}

	do.Attributes = append(attributes, do.Attributes...)
	do.CDC = ""

	for path, value := range do.Values {
		da := do.lookupAttribute(strings.Split(path, "."))
		if da == nil {
			return fmt.Errorf("%w: value for unknown attribute %q", ErrInvalidModel, path)
		}
		da.Value = value
	}
	return nil
}

func isControllableCDC(cdc string) bool {
	switch cdc {
	case "SPC", "DPC", "INC", "ENC":
		return true
	}
	return false
}

func statusType(cdc string) AttributeType {
	switch cdc {
	case "DPS", "DPC":
		return CodedEnum
	case "INS", "INC":
		return Int32
	case "ENS", "ENC":
		return Enumerated
	}
	return Boolean
}

func controlType(cdc string) AttributeType {
	switch cdc {
	case "INC":
		return Int32
	case "ENC":
		return Enumerated
	}
	return Boolean
}

func statusAttributes(do *DataObject, typ AttributeType) []*DataAttribute {
	value := "stVal"
	if strings.EqualFold(do.CDC, "ACT") {
		value = "general"
	}

	attributes := []*DataAttribute{
		newAttribute(value, FCST, typ, TriggerDataChanged|TriggerDataUpdate),
		newAttribute("q", FCST, QualityType, TriggerQualityChanged),
		newAttribute("t", FCST, Timestamp, TriggerNone),
	}
	if do.Options&CDCOptionSubstitution != 0 {
		attributes = append(attributes,
			newAttribute("subEna", FCSV, Boolean, TriggerNone),
			newAttribute("subVal", FCSV, typ, TriggerNone),
			newAttribute("subQ", FCSV, QualityType, TriggerNone),
			newAttribute("subID", FCSV, VisibleString64, TriggerNone),
		)
	}
	if do.Options&CDCOptionBlocking != 0 {
		attributes = append(attributes, newAttribute("blkEna", FCBL, Boolean, TriggerNone))
	}
	if do.Options&CDCOptionDescription != 0 && !isControllableCDC(strings.ToUpper(do.CDC)) {
		attributes = append(attributes, newAttribute("d", FCDC, VisibleString255, TriggerNone))
	}
	return attributes
}

func analogueValue(name string, fc FunctionalConstraint, trg TriggerOptions, integer bool) *DataAttribute {
	if integer {
		return newAttribute(name, fc, Constructed, trg, newAttribute("i", fc, Int32, trg))
	}
	return newAttribute(name, fc, Constructed, trg, newAttribute("f", fc, Float32, trg))
}

func measuredValueAttributes(do *DataObject) []*DataAttribute {
	integer := do.Options&CDCOptionIntegerMagnitude != 0
	attributes := []*DataAttribute{
		analogueValue("mag", FCMX, TriggerDataChanged|TriggerDataUpdate, integer),
		newAttribute("q", FCMX, QualityType, TriggerQualityChanged),
		newAttribute("t", FCMX, Timestamp, TriggerNone),
	}
	if do.Options&CDCOptionSubstitution != 0 {
		attributes = append(attributes,
			newAttribute("subEna", FCSV, Boolean, TriggerNone),
			analogueValue("subMag", FCSV, TriggerNone, integer),
			newAttribute("subQ", FCSV, QualityType, TriggerNone),
			newAttribute("subID", FCSV, VisibleString64, TriggerNone),
		)
	}
	if do.Options&CDCOptionDescription != 0 {
		attributes = append(attributes, newAttribute("d", FCDC, VisibleString255, TriggerNone))
	}
	return attributes
}

func originAttribute(fc FunctionalConstraint) *DataAttribute {
	return newAttribute("origin", fc, Constructed, TriggerNone,
		newAttribute("orCat", fc, Enumerated, TriggerNone),
		newAttribute("orIdent", fc, OctetString64, TriggerNone),
	)
}

// operateAttribute структура Oper, SBOw или Cancel
func operateAttribute(name string, ctlVal AttributeType, timeActivated, check bool) *DataAttribute {
	da := newAttribute(name, FCCO, Constructed, TriggerNone, newAttribute("ctlVal", FCCO, ctlVal, TriggerNone))
	if timeActivated {
		da.Attributes = append(da.Attributes, newAttribute("operTm", FCCO, Timestamp, TriggerNone))
	}
	da.Attributes = append(da.Attributes,
		originAttribute(FCCO),
		newAttribute("ctlNum", FCCO, Int8U, TriggerNone),
		newAttribute("T", FCCO, Timestamp, TriggerNone),
		newAttribute("Test", FCCO, Boolean, TriggerNone),
	)
	if check {
		da.Attributes = append(da.Attributes, newAttribute("Check", FCCO, Check, TriggerNone))
	}
	return da
}

func controlAttributes(do *DataObject, ctlVal AttributeType) []*DataAttribute {
	timeActivated := do.Options&CDCOptionTimeActivated != 0

	ctlModel := newAttribute("ctlModel", FCCF, Enumerated, TriggerDataChanged)
	ctlModel.Value = int(do.ControlModel)
	attributes := []*DataAttribute{ctlModel}

	if do.Options&CDCOptionSboTimeout != 0 {
		attributes = append(attributes,
			newAttribute("sboTimeout", FCCF, Int32U, TriggerDataChanged),
			newAttribute("sboClass", FCCF, Enumerated, TriggerDataChanged),
		)
	}
	if do.Options&CDCOptionDescription != 0 {
		attributes = append(attributes, newAttribute("d", FCDC, VisibleString255, TriggerNone))
	}

	switch do.ControlModel {
	case StatusOnly:
		return attributes
	case SboNormal:
		attributes = append(attributes, newAttribute("SBO", FCCO, VisibleString129, TriggerNone))
	case SboEnhanced:
		attributes = append(attributes, operateAttribute("SBOw", ctlVal, timeActivated, true))
	}

	attributes = append(attributes, operateAttribute("Oper", ctlVal, timeActivated, true))
	if do.Options&CDCOptionCancel != 0 {
		attributes = append(attributes, operateAttribute("Cancel", ctlVal, timeActivated, false))
	}
	return attributes
}

func (do *DataObject) lookupAttribute(path []string) *DataAttribute {
	if len(path) == 0 {
		return nil
	}
	da := do.Attribute(path[0])
	for _, name := range path[1:] {
		if da == nil {
			return nil
		}
		da = da.Attribute(name)
	}
	return da
}
