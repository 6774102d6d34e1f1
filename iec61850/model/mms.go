package model

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// Отображение модели на MMS (IEC 61850-8-1): логическое устройство -
// домен, логический узел - структура с компонентами по функциональным
// связям, набор данных - неудаляемый список переменных "LN$имя".

// TypeSpecification возвращает MMS спецификацию атрибута
func (da *DataAttribute) TypeSpecification() *mms.TypeSpecification {
	spec := da.elementSpecification()
	if da.Count > 0 {
		spec.Name = ""
		return mms.NewArraySpec(da.Name, da.Count, spec)
	}
	return spec
}

func (da *DataAttribute) elementSpecification() *mms.TypeSpecification {
	name := da.Name
	switch da.Type {
	case Boolean:
		return mms.NewBasicSpec(name, mms.TypeSpecBoolean, 0)
	case Int8, Enumerated:
		return mms.NewBasicSpec(name, mms.TypeSpecInteger, 8)
	case Int16:
		return mms.NewBasicSpec(name, mms.TypeSpecInteger, 16)
	case Int32:
		return mms.NewBasicSpec(name, mms.TypeSpecInteger, 32)
	case Int64:
		return mms.NewBasicSpec(name, mms.TypeSpecInteger, 64)
	case Int128:
		return mms.NewBasicSpec(name, mms.TypeSpecInteger, 128)
	case Int8U:
		return mms.NewBasicSpec(name, mms.TypeSpecUnsigned, 8)
	case Int16U:
		return mms.NewBasicSpec(name, mms.TypeSpecUnsigned, 16)
	case Int24U:
		return mms.NewBasicSpec(name, mms.TypeSpecUnsigned, 24)
	case Int32U:
		return mms.NewBasicSpec(name, mms.TypeSpecUnsigned, 32)
	case Float32:
		return mms.NewBasicSpec(name, mms.TypeSpecFloatingPoint, 32)
	case Float64:
		return mms.NewBasicSpec(name, mms.TypeSpecFloatingPoint, 64)
	case OctetString64:
		return mms.NewBasicSpec(name, mms.TypeSpecOctetString, -64)
	case OctetString6:
		return mms.NewBasicSpec(name, mms.TypeSpecOctetString, -6)
	case OctetString8:
		return mms.NewBasicSpec(name, mms.TypeSpecOctetString, 8)
	case VisibleString32:
		return mms.NewBasicSpec(name, mms.TypeSpecVisibleString, -32)
	case VisibleString64:
		return mms.NewBasicSpec(name, mms.TypeSpecVisibleString, -64)
	case VisibleString65:
		return mms.NewBasicSpec(name, mms.TypeSpecVisibleString, -65)
	case VisibleString129:
		return mms.NewBasicSpec(name, mms.TypeSpecVisibleString, -129)
	case VisibleString255:
		return mms.NewBasicSpec(name, mms.TypeSpecVisibleString, -255)
	case UnicodeString255:
		return mms.NewBasicSpec(name, mms.TypeSpecMMSString, -255)
	case Timestamp:
		return mms.NewBasicSpec(name, mms.TypeSpecUTCTime, 0)
	case QualityType:
		return mms.NewBasicSpec(name, mms.TypeSpecBitString, -13)
	case Check:
		return mms.NewBasicSpec(name, mms.TypeSpecBitString, -2)
	case CodedEnum:
		return mms.NewBasicSpec(name, mms.TypeSpecBitString, 2)
	case GenericBitString:
		return mms.NewBasicSpec(name, mms.TypeSpecBitString, da.Size)
	case EntryTime:
		return mms.NewBasicSpec(name, mms.TypeSpecBinaryTime, 6)
	case PhyComAddr:
		return mms.NewStructureSpec(name,
			mms.NewBasicSpec("Addr", mms.TypeSpecOctetString, 6),
			mms.NewBasicSpec("PRIORITY", mms.TypeSpecUnsigned, 8),
			mms.NewBasicSpec("VID", mms.TypeSpecUnsigned, 16),
			mms.NewBasicSpec("APPID", mms.TypeSpecUnsigned, 16),
		)
	}

	components := make([]*mms.TypeSpecification, len(da.Attributes))
	for i, child := range da.Attributes {
		components[i] = child.TypeSpecification()
	}
	return mms.NewStructureSpec(name, components...)
}

// typeSpecification возвращает структуру объекта с атрибутами fc или nil
func (do *DataObject) typeSpecification(fc FunctionalConstraint) *mms.TypeSpecification {
	var components []*mms.TypeSpecification
	for _, da := range do.Attributes {
		if da.FC == fc {
			components = append(components, da.TypeSpecification())
		}
	}
	for _, sub := range do.DataObjects {
		if spec := sub.typeSpecification(fc); spec != nil {
			components = append(components, spec)
		}
	}
	if len(components) == 0 {
		return nil
	}
	return mms.NewStructureSpec(do.Name, components...)
}

// TypeSpecification возвращает MMS структуру логического узла
func (ln *LogicalNode) TypeSpecification() *mms.TypeSpecification {
	var components []*mms.TypeSpecification
	for _, fc := range lnComponentOrder {
		var objects []*mms.TypeSpecification
		switch fc {
		case FCRP, FCBR:
			for _, rcb := range ln.ReportControlBlocks {
				if rcb.fc() == fc {
					objects = append(objects, rcb.TypeSpecification())
				}
			}
		default:
			for _, do := range ln.DataObjects {
				if spec := do.typeSpecification(fc); spec != nil {
					objects = append(objects, spec)
				}
			}
		}
		if len(objects) > 0 {
			components = append(components, mms.NewStructureSpec(fc.String(), objects...))
		}
	}
	return mms.NewStructureSpec(ln.Name, components...)
}

// TypeSpecification возвращает MMS структуру RCB: 12 элементов URCB или 15 элементов BRCB
func (rcb *ReportControlBlock) TypeSpecification() *mms.TypeSpecification {
	if !rcb.Buffered {
		return mms.NewStructureSpec(rcb.Name,
			mms.NewBasicSpec("RptID", mms.TypeSpecVisibleString, -129),
			mms.NewBasicSpec("RptEna", mms.TypeSpecBoolean, 0),
			mms.NewBasicSpec("Resv", mms.TypeSpecBoolean, 0),
			mms.NewBasicSpec("DatSet", mms.TypeSpecVisibleString, -129),
			mms.NewBasicSpec("ConfRev", mms.TypeSpecUnsigned, 32),
			mms.NewBasicSpec("OptFlds", mms.TypeSpecBitString, 10),
			mms.NewBasicSpec("BufTm", mms.TypeSpecUnsigned, 32),
			mms.NewBasicSpec("SqNum", mms.TypeSpecUnsigned, 8),
			mms.NewBasicSpec("TrgOps", mms.TypeSpecBitString, 6),
			mms.NewBasicSpec("IntgPd", mms.TypeSpecUnsigned, 32),
			mms.NewBasicSpec("GI", mms.TypeSpecBoolean, 0),
			mms.NewBasicSpec("Owner", mms.TypeSpecOctetString, -128),
		)
	}
	return mms.NewStructureSpec(rcb.Name,
		mms.NewBasicSpec("RptID", mms.TypeSpecVisibleString, -129),
		mms.NewBasicSpec("RptEna", mms.TypeSpecBoolean, 0),
		mms.NewBasicSpec("DatSet", mms.TypeSpecVisibleString, -129),
		mms.NewBasicSpec("ConfRev", mms.TypeSpecUnsigned, 32),
		mms.NewBasicSpec("OptFlds", mms.TypeSpecBitString, 10),
		mms.NewBasicSpec("BufTm", mms.TypeSpecUnsigned, 32),
		mms.NewBasicSpec("SqNum", mms.TypeSpecUnsigned, 16),
		mms.NewBasicSpec("TrgOps", mms.TypeSpecBitString, 6),
		mms.NewBasicSpec("IntgPd", mms.TypeSpecUnsigned, 32),
		mms.NewBasicSpec("GI", mms.TypeSpecBoolean, 0),
		mms.NewBasicSpec("PurgeBuf", mms.TypeSpecBoolean, 0),
		mms.NewBasicSpec("EntryID", mms.TypeSpecOctetString, 8),
		mms.NewBasicSpec("TimeOfEntry", mms.TypeSpecBinaryTime, 6),
		mms.NewBasicSpec("ResvTms", mms.TypeSpecInteger, 16),
		mms.NewBasicSpec("Owner", mms.TypeSpecOctetString, -128),
	)
}

// InitialValue возвращает значение RCB после запуска сервера
func (rcb *ReportControlBlock) InitialValue() *variant.Variant {
	spec := rcb.TypeSpecification()
	value := spec.Default()

	set := func(name string, fn func(v *variant.Variant)) {
		fn(value.Element(spec.ComponentIndex(name)))
	}
	set("RptID", func(v *variant.Variant) { v.SetText(rcb.RptID) })
	set("DatSet", func(v *variant.Variant) { v.SetText(rcb.DataSetReference()) })
	set("ConfRev", func(v *variant.Variant) { v.SetInt(int64(rcb.ConfRev)) })
	set("OptFlds", func(v *variant.Variant) { v.SetBitStringUint(rcb.OptFlds.Bits()) })
	set("BufTm", func(v *variant.Variant) { v.SetInt(int64(rcb.BufTime)) })
	set("TrgOps", func(v *variant.Variant) { v.SetBitStringUint(rcb.TrgOps.Bits()) })
	set("IntgPd", func(v *variant.Variant) { v.SetInt(int64(rcb.IntgPd)) })
	return value
}

// Bits возвращает значение bit-string OptFlds: бит 0 зарезервирован
func (o OptionFields) Bits() uint32 {
	return uint32(o) << 1
}

// OptionFieldsFromBits обратна OptionFields.Bits
func OptionFieldsFromBits(bits uint32) OptionFields {
	return OptionFields(bits >> 1)
}

// Bits возвращает значение bit-string TrgOps: бит 0 зарезервирован
func (t TriggerOptions) Bits() uint32 {
	return uint32(t) << 1
}

// TriggerOptionsFromBits обратна TriggerOptions.Bits
func TriggerOptionsFromBits(bits uint32) TriggerOptions {
	return TriggerOptions(bits >> 1)
}

// VariableSpec возвращает MMS имя элемента набора данных
func (e DataSetEntry) VariableSpec() mms.VariableSpec {
	spec := mms.VariableSpec{Name: mms.DomainName(e.Reference.DomainID(), e.Reference.ItemID())}
	if e.Reference.HasIndex() {
		spec.Access = &mms.AlternateAccess{Index: e.Reference.Index}
	}
	return spec
}

// Device строит MMS устройство. Модель должна быть собрана Build.
func (m *Model) Device() (*mms.Device, error) {
	if err := m.Build(); err != nil {
		return nil, err
	}

	device := mms.NewDevice(m.Name)
	for _, ld := range m.LogicalDevices {
		domain := device.AddDomain(ld.Name)
		for _, ln := range ld.LogicalNodes {
			domain.AddVariable(ln.TypeSpecification())
		}
		for _, ln := range ld.LogicalNodes {
			for _, ds := range ln.DataSets {
				list := &mms.NamedVariableList{Name: ln.Name + "$" + ds.Name}
				for _, entry := range ds.Entries() {
					list.Variables = append(list.Variables, entry.VariableSpec())
				}
				if err := domain.NamedVariableLists().Add(list); err != nil {
					return nil, fmt.Errorf("%s/%s: %w", ld.Name, list.Name, err)
				}
			}
		}
	}
	return device, nil
}

// InitialValues вызывает fn для каждого атрибута с начальным значением
// и для каждого RCB
func (m *Model) InitialValues(fn func(ref ObjectReference, value *variant.Variant)) error {
	err := m.WalkAttributes(func(ref ObjectReference, da *DataAttribute) error {
		if da.Value == nil {
			return nil
		}
		value, err := da.InitialValue()
		if err != nil {
			return fmt.Errorf("%s: %w", ref, err)
		}
		fn(ref, value)
		return nil
	})
	if err != nil {
		return err
	}

	for _, ld := range m.LogicalDevices {
		for _, ln := range ld.LogicalNodes {
			for _, rcb := range ln.ReportControlBlocks {
				fn(rcb.ObjectReference(), rcb.InitialValue())
			}
		}
	}
	return nil
}
