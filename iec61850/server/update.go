package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// observer элемент набора данных включённого RCB
type observer struct {
	rc    *ReportControl
	index int
}

// UpdateAttributeValue записывает значение атрибута ref и уведомляет
// RCB, наборы данных которых содержат атрибут
func (s *Server) UpdateAttributeValue(ref model.ObjectReference, value *variant.Variant) error {
	return s.update(ref, func(v *variant.Variant) error {
		return v.Update(value)
	})
}

// UpdateBoolean записывает значение атрибута BOOLEAN
func (s *Server) UpdateBoolean(ref model.ObjectReference, value bool) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.Boolean {
			return typeError(v, variant.Boolean)
		}
		v.SetBool(value)
		return nil
	})
}

// UpdateInt записывает значение целочисленного атрибута
func (s *Server) UpdateInt(ref model.ObjectReference, value int64) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.Integer && v.Type() != variant.Unsigned {
			return typeError(v, variant.Integer)
		}
		v.SetInt(value)
		return nil
	})
}

// UpdateFloat записывает значение атрибута FLOAT32 или FLOAT64
func (s *Server) UpdateFloat(ref model.ObjectReference, value float64) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.Float32 && v.Type() != variant.Float64 {
			return typeError(v, variant.Float32)
		}
		v.SetFloat(value)
		return nil
	})
}

// UpdateString записывает значение строкового атрибута
func (s *Server) UpdateString(ref model.ObjectReference, value string) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.VisibleString && v.Type() != variant.MMSString {
			return typeError(v, variant.VisibleString)
		}
		v.SetText(value)
		return nil
	})
}

// UpdateUTCTime записывает значение атрибута TIMESTAMP
func (s *Server) UpdateUTCTime(ref model.ObjectReference, value time.Time) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.UTCTime {
			return typeError(v, variant.UTCTime)
		}
		v.SetTime(value)
		return nil
	})
}

// UpdateBitString записывает биты атрибута bit-string, бит 0 - младший
func (s *Server) UpdateBitString(ref model.ObjectReference, value uint32) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.BitString {
			return typeError(v, variant.BitString)
		}
		v.SetBitStringUint(value)
		return nil
	})
}

// UpdateQuality записывает атрибут качества q
func (s *Server) UpdateQuality(ref model.ObjectReference, q model.Quality) error {
	return s.update(ref, func(v *variant.Variant) error {
		if v.Type() != variant.BitString || v.BitSize() != model.QualityBitSize {
			return fmt.Errorf("%s is not a quality", v.Type())
		}
		v.SetBitStringUint(uint32(q))
		return nil
	})
}

// GetAttributeValue возвращает копию значения атрибута или объекта
func (s *Server) GetAttributeValue(ref model.ObjectReference) (*variant.Variant, error) {
	s.mms.LockModel()
	defer s.mms.UnlockModel()

	value := s.lookup(ref.DomainID(), ref.ItemID(), ref.Index)
	if value == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}
	return value.Clone(), nil
}

func typeError(v *variant.Variant, want variant.Type) error {
	return fmt.Errorf("%s instead of %s", v.Type(), want)
}

func (s *Server) lookup(domainID, itemID string, index int) *variant.Variant {
	value := s.mms.GetValueFromCache(domainID, itemID)
	if value != nil && index >= 0 {
		value = value.Element(index)
	}
	return value
}

func (s *Server) update(ref model.ObjectReference, apply func(*variant.Variant) error) error {
	s.mms.LockModel()
	defer s.mms.UnlockModel()

	return s.updateLocked(ref.DomainID(), ref.ItemID(), ref.Index, apply)
}

// updateLocked изменяет значение в кэше и определяет причину включения
// в отчёт по опциям запуска атрибута
func (s *Server) updateLocked(domainID, itemID string, index int, apply func(*variant.Variant) error) error {
	current := s.lookup(domainID, itemID, index)
	if current == nil {
		return fmt.Errorf("%w: %s/%s", ErrUnknownReference, domainID, itemID)
	}

	old := current.Clone()
	if err := apply(current); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrTypeMismatch, domainID, itemID, err)
	}

	trgOps := model.TriggerDataChanged | model.TriggerDataUpdate
	if attr := s.attributes[key(domainID, itemID)]; attr != nil {
		trgOps = attr.da.TriggerOptions
	}

	if reason := triggerReason(trgOps, !old.Equal(current)); reason != model.TriggerNone {
		s.notify(domainID, itemID, reason, time.Now())
	}
	return nil
}

func triggerReason(trgOps model.TriggerOptions, changed bool) model.TriggerOptions {
	switch {
	case changed && trgOps&model.TriggerDataChanged != 0:
		return model.TriggerDataChanged
	case changed && trgOps&model.TriggerQualityChanged != 0:
		return model.TriggerQualityChanged
	case trgOps&model.TriggerDataUpdate != 0:
		return model.TriggerDataUpdate
	}
	return model.TriggerNone
}

// notify уведомляет наблюдателей itemID и всех его предков
func (s *Server) notify(domainID, itemID string, reason model.TriggerOptions, now time.Time) {
	for p := itemID; ; {
		for _, o := range s.observers[key(domainID, p)] {
			o.rc.valueUpdated(o.index, reason, now)
		}

		i := strings.LastIndexByte(p, '$')
		if i < 0 {
			return
		}
		p = p[:i]
	}
}

func (s *Server) observe(rc *ReportControl, members []dataSetMember) {
	for i, m := range members {
		k := key(m.domainID, m.itemID)
		s.observers[k] = append(s.observers[k], observer{rc: rc, index: i})
	}
}

func (s *Server) unobserve(rc *ReportControl, members []dataSetMember) {
	for _, m := range members {
		k := key(m.domainID, m.itemID)
		list := s.observers[k][:0]
		for _, o := range s.observers[k] {
			if o.rc != rc {
				list = append(list, o)
			}
		}
		if len(list) == 0 {
			delete(s.observers, k)
		} else {
			s.observers[k] = list
		}
	}
}
