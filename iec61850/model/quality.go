package model

import "strings"

// Quality качество значения (атрибут q). Биты совпадают с битами
// MMS bit-string длиной 13: бит 0 строки - младший бит Quality.
type Quality uint16

const (
	QualityValidityGood         Quality = 0
	QualityValidityReserved     Quality = 1
	QualityValidityInvalid      Quality = 2
	QualityValidityQuestionable Quality = 3

	QualityOverflow          Quality = 1 << 2
	QualityOutOfRange        Quality = 1 << 3
	QualityBadReference      Quality = 1 << 4
	QualityOscillatory       Quality = 1 << 5
	QualityFailure           Quality = 1 << 6
	QualityOldData           Quality = 1 << 7
	QualityInconsistent      Quality = 1 << 8
	QualityInaccurate        Quality = 1 << 9
	QualitySourceSubstituted Quality = 1 << 10
	QualityTest              Quality = 1 << 11
	QualityOperatorBlocked   Quality = 1 << 12
)

// QualityBitSize размер MMS bit-string качества
const QualityBitSize = 13

const qualityValidityMask Quality = 3

// Validity возвращает биты достоверности
func (q Quality) Validity() Quality {
	return q & qualityValidityMask
}

// WithValidity возвращает качество с заменёнными битами достоверности
func (q Quality) WithValidity(validity Quality) Quality {
	return q&^qualityValidityMask | validity&qualityValidityMask
}

var qualityDetailNames = []string{
	"overflow", "outOfRange", "badReference", "oscillatory", "failure", "oldData",
	"inconsistent", "inaccurate", "substituted", "test", "operatorBlocked",
}

func (q Quality) String() string {
	var parts []string
	switch q.Validity() {
	case QualityValidityGood:
		parts = append(parts, "good")
	case QualityValidityInvalid:
		parts = append(parts, "invalid")
	case QualityValidityQuestionable:
		parts = append(parts, "questionable")
	default:
		parts = append(parts, "reserved")
	}
	for i, name := range qualityDetailNames {
		if q&(1<<(i+2)) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}
