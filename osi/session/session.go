package session

import (
	"errors"
	"fmt"
)

// SPDUType тип SPDU (ISO 8327)
type SPDUType byte

const (
	SessionSPDUTypeData        SPDUType = 1  // GIVE TOKEN / DATA
	SessionSPDUTypeFinish      SPDUType = 9  // FINISH
	SessionSPDUTypeDisconnect  SPDUType = 10 // DISCONNECT
	SessionSPDUTypeConnect     SPDUType = 13 // CONNECT
	SessionSPDUTypeAccept      SPDUType = 14 // ACCEPT
	SessionSPDUTypeAbort       SPDUType = 25 // ABORT
	SessionSPDUTypeAbortAccept SPDUType = 26 // ABORT ACCEPT
)

func (t SPDUType) String() string {
	switch t {
	case SessionSPDUTypeData:
		return "DATA"
	case SessionSPDUTypeFinish:
		return "FINISH"
	case SessionSPDUTypeDisconnect:
		return "DISCONNECT"
	case SessionSPDUTypeConnect:
		return "CONNECT"
	case SessionSPDUTypeAccept:
		return "ACCEPT"
	case SessionSPDUTypeAbort:
		return "ABORT"
	case SessionSPDUTypeAbortAccept:
		return "ABORT-ACCEPT"
	}
	return fmt.Sprintf("SPDU(%d)", byte(t))
}

// Коды параметров (PI/PGI)
const (
	pgiConnectAcceptItem     = 5
	piTransportDisconnect    = 17
	piProtocolOptions        = 19
	piVersionNumber          = 22
	piSessionRequirement     = 20
	piCallingSessionSelector = 51
	piCalledSessionSelector  = 52
	pgiUserData              = 193
)

// Errors
var (
	ErrShortMessage      = errors.New("session: message too short")
	ErrInvalidLength     = errors.New("session: invalid length")
	ErrMissingParameter  = errors.New("session: missing mandatory parameter")
	ErrInvalidVersion    = errors.New("session: unsupported protocol version")
	ErrUnexpectedMessage = errors.New("session: unexpected SPDU")
)

// Indication результат разбора SPDU
type Indication int

const (
	IndicationError      Indication = iota // Ошибка разбора
	IndicationConnect                      // CONNECT или ACCEPT
	IndicationData                         // Данные
	IndicationFinish                       // Запрос завершения (FINISH)
	IndicationDisconnect                   // Подтверждение завершения (DISCONNECT)
	IndicationAbort                        // Разрыв (ABORT)
)

// SPDU разобранный Session Protocol Data Unit
type SPDU struct {
	Type                   SPDUType
	Length                 int
	ProtocolOptions        byte
	ProtocolVersion        byte
	SessionRequirement     uint16
	CallingSessionSelector []byte
	CalledSessionSelector  []byte
	Data                   []byte
}

// Session параметры сеансового уровня одной ассоциации
type Session struct {
	SessionRequirement     uint16
	CallingSessionSelector []byte
	CalledSessionSelector  []byte
	ProtocolOptions        byte

	userData []byte
}

// NewSession создаёт сеанс с параметрами по умолчанию
// (дуплексный функциональный блок, селекторы 0001)
func NewSession() *Session {
	return &Session{
		SessionRequirement:     0x0002,
		CallingSessionSelector: []byte{0x00, 0x01},
		CalledSessionSelector:  []byte{0x00, 0x01},
	}
}

// UserData возвращает данные пользователя последнего разобранного SPDU
func (s *Session) UserData() []byte {
	return s.userData
}

// appendLength кодирует длину: один байт до 254, иначе 0xFF и два байта
func appendLength(buf []byte, length int) []byte {
	if length <= 254 {
		return append(buf, byte(length))
	}
	return append(buf, 0xff, byte(length>>8), byte(length))
}

func lengthSize(length int) int {
	if length <= 254 {
		return 1
	}
	return 3
}

func appendParameter(buf []byte, pi byte, value []byte) []byte {
	buf = append(buf, pi)
	buf = appendLength(buf, len(value))
	return append(buf, value...)
}

func (s *Session) buildSPDU(spduType SPDUType, params []byte, userData []byte) []byte {
	contentLength := len(params) + 1 + lengthSize(len(userData)) + len(userData)

	spdu := make([]byte, 0, 1+lengthSize(contentLength)+contentLength)
	spdu = append(spdu, byte(spduType))
	spdu = appendLength(spdu, contentLength)
	spdu = append(spdu, params...)
	spdu = append(spdu, pgiUserData)
	spdu = appendLength(spdu, len(userData))
	return append(spdu, userData...)
}

func (s *Session) connectAcceptItem(options byte) []byte {
	return []byte{pgiConnectAcceptItem, 6, piProtocolOptions, 1, options, piVersionNumber, 1, 2}
}

func (s *Session) sessionRequirement() []byte {
	return []byte{piSessionRequirement, 2, byte(s.SessionRequirement >> 8), byte(s.SessionRequirement)}
}

// BuildConnectSPDU создаёт CONNECT SPDU с данными уровня представления
func (s *Session) BuildConnectSPDU(userData []byte) []byte {
	params := s.connectAcceptItem(0)
	params = append(params, s.sessionRequirement()...)
	params = appendParameter(params, piCallingSessionSelector, s.CallingSessionSelector)
	params = appendParameter(params, piCalledSessionSelector, s.CalledSessionSelector)

	return s.buildSPDU(SessionSPDUTypeConnect, params, userData)
}

// BuildAcceptSPDU создаёт ACCEPT SPDU
func (s *Session) BuildAcceptSPDU(userData []byte) []byte {
	params := s.connectAcceptItem(s.ProtocolOptions)
	params = append(params, s.sessionRequirement()...)
	params = appendParameter(params, piCalledSessionSelector, s.CalledSessionSelector)

	return s.buildSPDU(SessionSPDUTypeAccept, params, userData)
}

// BuildFinishSPDU создаёт FINISH SPDU (используется для RLRQ)
func (s *Session) BuildFinishSPDU(userData []byte) []byte {
	return s.buildSPDU(SessionSPDUTypeFinish, nil, userData)
}

// BuildDisconnectSPDU создаёт DISCONNECT SPDU (используется для RLRE)
func (s *Session) BuildDisconnectSPDU(userData []byte) []byte {
	return s.buildSPDU(SessionSPDUTypeDisconnect, nil, userData)
}

// BuildAbortSPDU создаёт ABORT SPDU (transport disconnect: release, user abort)
func (s *Session) BuildAbortSPDU(userData []byte) []byte {
	return s.buildSPDU(SessionSPDUTypeAbort, []byte{piTransportDisconnect, 1, 0x0b}, userData)
}

// BuildDataSPDU создаёт GIVE TOKEN + DATA SPDU
func BuildDataSPDU(userData []byte) []byte {
	spdu := make([]byte, 0, 4+len(userData))
	spdu = append(spdu, 0x01, 0x00, 0x01, 0x00)
	return append(spdu, userData...)
}

// ParseMessage разбирает SPDU и сохраняет согласованные параметры
func (s *Session) ParseMessage(message []byte) (Indication, error) {
	spdu, err := ParseSessionSPDU(message)
	if err != nil {
		return IndicationError, err
	}

	s.userData = spdu.Data

	switch spdu.Type {
	case SessionSPDUTypeConnect, SessionSPDUTypeAccept:
		s.ProtocolOptions = spdu.ProtocolOptions
		s.SessionRequirement = spdu.SessionRequirement
		if spdu.CallingSessionSelector != nil {
			s.CallingSessionSelector = spdu.CallingSessionSelector
		}
		if spdu.CalledSessionSelector != nil {
			s.CalledSessionSelector = spdu.CalledSessionSelector
		}
		return IndicationConnect, nil
	case SessionSPDUTypeData:
		return IndicationData, nil
	case SessionSPDUTypeFinish:
		return IndicationFinish, nil
	case SessionSPDUTypeDisconnect:
		return IndicationDisconnect, nil
	case SessionSPDUTypeAbort, SessionSPDUTypeAbortAccept:
		return IndicationAbort, nil
	}

	return IndicationError, fmt.Errorf("%w: %s", ErrUnexpectedMessage, spdu.Type)
}

func readLength(data []byte, pos int) (int, int, error) {
	if pos >= len(data) {
		return 0, -1, ErrShortMessage
	}
	if data[pos] != 0xff {
		return int(data[pos]), pos + 1, nil
	}
	if pos+3 > len(data) {
		return 0, -1, ErrShortMessage
	}
	return int(data[pos+1])<<8 | int(data[pos+2]), pos + 3, nil
}

// ParseSessionSPDU разбирает SPDU без состояния сеанса
func ParseSessionSPDU(data []byte) (*SPDU, error) {
	if len(data) < 2 {
		return nil, ErrShortMessage
	}

	spdu := &SPDU{Type: SPDUType(data[0])}

	length, pos, err := readLength(data, 1)
	if err != nil {
		return nil, err
	}
	spdu.Length = length

	if spdu.Type == SessionSPDUTypeData {
		if len(data) < 4 || length != 0 || data[2] != 0x01 || data[3] != 0x00 {
			return nil, fmt.Errorf("%w: malformed DATA SPDU", ErrUnexpectedMessage)
		}
		spdu.Data = data[4:]
		return spdu, nil
	}

	if pos+length != len(data) {
		return nil, fmt.Errorf("%w: SPDU length %d, available %d", ErrInvalidLength, length, len(data)-pos)
	}

	if err := spdu.parseParameters(data[pos:]); err != nil {
		return nil, err
	}

	return spdu, nil
}

func (spdu *SPDU) parseParameters(data []byte) error {
	hasConnectAcceptItem := false
	hasSessionRequirement := false

	pos := 0
	for pos < len(data) {
		pgi := data[pos]
		length, next, err := readLength(data, pos+1)
		if err != nil {
			return err
		}
		pos = next

		if pgi == pgiUserData {
			spdu.Data = data[pos:]
			if length != len(spdu.Data) {
				return fmt.Errorf("%w: user data length %d, available %d", ErrInvalidLength, length, len(spdu.Data))
			}
			break
		}

		if pos+length > len(data) {
			return fmt.Errorf("%w: parameter %d", ErrInvalidLength, pgi)
		}
		value := data[pos : pos+length]
		pos += length

		switch pgi {
		case pgiConnectAcceptItem:
			if err := spdu.parseConnectAcceptItem(value); err != nil {
				return err
			}
			hasConnectAcceptItem = true

		case piSessionRequirement:
			if length != 2 {
				return fmt.Errorf("%w: session requirement", ErrInvalidLength)
			}
			spdu.SessionRequirement = uint16(value[0])<<8 | uint16(value[1])
			hasSessionRequirement = true

		case piCallingSessionSelector:
			if length > 16 {
				return fmt.Errorf("%w: calling session selector", ErrInvalidLength)
			}
			spdu.CallingSessionSelector = value

		case piCalledSessionSelector:
			if length > 16 {
				return fmt.Errorf("%w: called session selector", ErrInvalidLength)
			}
			spdu.CalledSessionSelector = value
		}
	}

	if spdu.Type == SessionSPDUTypeConnect || spdu.Type == SessionSPDUTypeAccept {
		if !hasConnectAcceptItem || !hasSessionRequirement {
			return ErrMissingParameter
		}
		if spdu.Data == nil {
			return fmt.Errorf("%w: user data", ErrMissingParameter)
		}
	}

	return nil
}

func (spdu *SPDU) parseConnectAcceptItem(data []byte) error {
	hasProtocolOptions := false
	hasVersion := false

	for pos := 0; pos < len(data); {
		if pos+2 > len(data) {
			return ErrShortMessage
		}
		pi, length := data[pos], int(data[pos+1])
		pos += 2
		if pos+length > len(data) {
			return fmt.Errorf("%w: parameter %d", ErrInvalidLength, pi)
		}

		switch pi {
		case piProtocolOptions:
			if length != 1 {
				return fmt.Errorf("%w: protocol options", ErrInvalidLength)
			}
			spdu.ProtocolOptions = data[pos]
			hasProtocolOptions = true

		case piVersionNumber:
			if length != 1 {
				return fmt.Errorf("%w: version number", ErrInvalidLength)
			}
			spdu.ProtocolVersion = data[pos]
			if spdu.ProtocolVersion != 2 {
				return ErrInvalidVersion
			}
			hasVersion = true
		}

		pos += length
	}

	if !hasProtocolOptions || !hasVersion {
		return ErrMissingParameter
	}

	return nil
}
