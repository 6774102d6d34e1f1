package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// tagInformationReport тег unconfirmedService informationReport
const tagInformationReport = 0xa0

// InformationReport представляет unconfirmed-PDU informationReport:
//
//	InformationReport ::= SEQUENCE {
//	  variableAccessSpecification VariableAccessSpecification,
//	  listOfAccessResult          [0] IMPLICIT SEQUENCE OF AccessResult
//	}
//
// Отчёты IEC 61850 передаются как vmd-specific список "RPT".
type InformationReport struct {
	Specification VariableAccessSpecification
	Results       []AccessResult
}

// NewInformationReportVMDSpecific создаёт отчёт о vmd-specific переменной
func NewInformationReportVMDSpecific(itemID string, values ...*variant.Variant) *InformationReport {
	report := &InformationReport{}
	for range values {
		report.Specification.Variables = append(report.Specification.Variables, VariableSpec{Name: VMDName(itemID)})
	}
	for _, value := range values {
		report.Results = append(report.Results, ResultFromValue(value))
	}
	return report
}

// NewInformationReportNamedList создаёт отчёт по именованному списку переменных
func NewInformationReportNamedList(listName ObjectName, values []*variant.Variant) *InformationReport {
	report := &InformationReport{Specification: VariableAccessSpecification{ListName: &listName}}
	for _, value := range values {
		report.Results = append(report.Results, ResultFromValue(value))
	}
	return report
}

func (r *InformationReport) String() string {
	if r.Specification.IsNamedList() {
		return fmt.Sprintf("InformationReport{List: %s, Results: %d}", r.Specification.ListName, len(r.Results))
	}
	return fmt.Sprintf("InformationReport{Variables: %v, Results: %d}", r.Specification.Variables, len(r.Results))
}

// Node кодирует элемент unconfirmedService
func (r *InformationReport) Node() *ber.Node {
	return ber.Constructed(tagInformationReport, r.Specification.node(), listOfAccessResultNode(0xa0, r.Results))
}

// Values возвращает значения отчёта. Ошибки доступа представлены значениями
// DataAccessError.
func (r *InformationReport) Values() []*variant.Variant {
	values := make([]*variant.Variant, len(r.Results))
	for i, result := range r.Results {
		if result.Success {
			values[i] = result.Value
			continue
		}
		values[i] = variant.NewDataAccessErrorVariant(uint32(result.Error))
	}
	return values
}

// ParseInformationReport декодирует элемент unconfirmedService
func ParseInformationReport(service ber.TLV) (*InformationReport, error) {
	if service.Tag != tagInformationReport {
		return nil, fmt.Errorf("%w: unconfirmed service 0x%02x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: information report with %d fields", ErrInvalidPDU, len(fields))
	}

	report := &InformationReport{}
	if report.Specification, err = parseVariableAccessSpecification(fields[0]); err != nil {
		return nil, err
	}
	if report.Results, err = decodeListOfAccessResult(fields[1]); err != nil {
		return nil, err
	}
	return report, nil
}
