package model

import "fmt"

// FunctionalConstraint функциональная связь атрибута (IEC 61850-7-2)
type FunctionalConstraint int

const (
	FCST FunctionalConstraint = iota // status information
	FCMX                             // measurands
	FCSP                             // setpoint
	FCSV                             // substitution
	FCCF                             // configuration
	FCDC                             // description
	FCSG                             // setting group
	FCSE                             // setting group editable
	FCSR                             // service response
	FCOR                             // operate received
	FCBL                             // blocking
	FCEX                             // extended definition
	FCCO                             // control
	FCRP                             // unbuffered report control block
	FCBR                             // buffered report control block

	// FCNone ссылка без функциональной связи
	FCNone FunctionalConstraint = -1
)

var fcNames = [...]string{
	FCST: "ST",
	FCMX: "MX",
	FCSP: "SP",
	FCSV: "SV",
	FCCF: "CF",
	FCDC: "DC",
	FCSG: "SG",
	FCSE: "SE",
	FCSR: "SR",
	FCOR: "OR",
	FCBL: "BL",
	FCEX: "EX",
	FCCO: "CO",
	FCRP: "RP",
	FCBR: "BR",
}

func (fc FunctionalConstraint) String() string {
	if fc >= 0 && int(fc) < len(fcNames) {
		return fcNames[fc]
	}
	if fc == FCNone {
		return ""
	}
	return fmt.Sprintf("FC(%d)", int(fc))
}

// ParseFunctionalConstraint возвращает FCNone для неизвестного имени
func ParseFunctionalConstraint(s string) FunctionalConstraint {
	for fc, name := range fcNames {
		if name == s {
			return FunctionalConstraint(fc)
		}
	}
	return FCNone
}

// MarshalText для yaml и toml
func (fc FunctionalConstraint) MarshalText() ([]byte, error) {
	return []byte(fc.String()), nil
}

// UnmarshalText для yaml и toml
func (fc *FunctionalConstraint) UnmarshalText(text []byte) error {
	parsed := ParseFunctionalConstraint(string(text))
	if parsed == FCNone {
		return fmt.Errorf("%w: functional constraint %q", ErrInvalidModel, text)
	}
	*fc = parsed
	return nil
}

// lnComponentOrder порядок компонент структуры логического узла в MMS
var lnComponentOrder = []FunctionalConstraint{
	FCMX, FCST, FCCO, FCCF, FCDC, FCSP, FCSG, FCRP, FCBR, FCSV, FCSE, FCEX, FCSR, FCOR, FCBL,
}
