package model

// WalkAttributes обходит атрибуты модели, включая компоненты составных
// атрибутов и атрибуты вложенных объектов. ref содержит FC атрибута.
// Обход прекращается на первой ошибке fn.
func (m *Model) WalkAttributes(fn func(ref ObjectReference, da *DataAttribute) error) error {
	for _, ld := range m.LogicalDevices {
		for _, ln := range ld.LogicalNodes {
			for _, do := range ln.DataObjects {
				if err := do.walkAttributes(ln.Reference().Child(do.Name), fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (do *DataObject) walkAttributes(ref ObjectReference, fn func(ObjectReference, *DataAttribute) error) error {
	for _, da := range do.Attributes {
		if err := da.walk(ref.WithFC(da.FC).Child(da.Name), fn); err != nil {
			return err
		}
	}
	for _, sub := range do.DataObjects {
		if err := sub.walkAttributes(ref.Child(sub.Name), fn); err != nil {
			return err
		}
	}
	return nil
}

func (da *DataAttribute) walk(ref ObjectReference, fn func(ObjectReference, *DataAttribute) error) error {
	if err := fn(ref, da); err != nil {
		return err
	}
	for _, child := range da.Attributes {
		if err := child.walk(ref.Child(child.Name), fn); err != nil {
			return err
		}
	}
	return nil
}

// WalkControllable обходит управляемые объекты данных. ref не содержит FC.
func (m *Model) WalkControllable(fn func(ref ObjectReference, do *DataObject)) {
	var walk func(ref ObjectReference, do *DataObject)
	walk = func(ref ObjectReference, do *DataObject) {
		if do.IsControllable() {
			fn(ref, do)
		}
		for _, sub := range do.DataObjects {
			walk(ref.Child(sub.Name), sub)
		}
	}

	for _, ld := range m.LogicalDevices {
		for _, ln := range ld.LogicalNodes {
			for _, do := range ln.DataObjects {
				walk(ln.Reference().Child(do.Name), do)
			}
		}
	}
}

// ReportControlBlocks возвращает все RCB модели
func (m *Model) ReportControlBlocks() []*ReportControlBlock {
	var rcbs []*ReportControlBlock
	for _, ld := range m.LogicalDevices {
		for _, ln := range ld.LogicalNodes {
			rcbs = append(rcbs, ln.ReportControlBlocks...)
		}
	}
	return rcbs
}
