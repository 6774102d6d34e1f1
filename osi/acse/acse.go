package acse

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// ConnectionState состояние ACSE ассоциации
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateRequestIndicated
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestIndicated:
		return "request-indicated"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("ConnectionState(%d)", int(s))
}

// Indication результат разбора ACSE PDU
type Indication int

const (
	IndicationError Indication = iota
	IndicationAssociate
	IndicationAssociateFailed
	IndicationOK
	IndicationAbort
	IndicationReleaseRequest
	IndicationReleaseResponse
)

func (i Indication) String() string {
	switch i {
	case IndicationError:
		return "error"
	case IndicationAssociate:
		return "associate"
	case IndicationAssociateFailed:
		return "associate-failed"
	case IndicationOK:
		return "ok"
	case IndicationAbort:
		return "abort"
	case IndicationReleaseRequest:
		return "release-request"
	case IndicationReleaseResponse:
		return "release-response"
	}
	return fmt.Sprintf("Indication(%d)", int(i))
}

// значения результата ассоциации
const (
	ResultAccept          = 0
	ResultRejectPermanent = 1
	ResultRejectTransient = 2
)

// ошибки
var (
	ErrNotAcse          = errors.New("acse: not an ACSE PDU")
	ErrInvalidUserInfo  = errors.New("acse: user information invalid")
	ErrAuthentication   = errors.New("acse: authentication failed")
	ErrAssociateRefused = errors.New("acse: association refused by peer")
)

// AuthenticationMechanism механизм аутентификации, передаваемый в AARQ
type AuthenticationMechanism int

const (
	AuthNone AuthenticationMechanism = iota
	AuthPassword
	AuthCertificate
	AuthTLS
	AuthUnknown
)

func (m AuthenticationMechanism) String() string {
	switch m {
	case AuthNone:
		return "none"
	case AuthPassword:
		return "password"
	case AuthCertificate:
		return "certificate"
	case AuthTLS:
		return "tls"
	}
	return "unknown"
}

// AuthenticationParameter учётные данные, предъявленные клиентом
type AuthenticationParameter struct {
	Mechanism   AuthenticationMechanism
	Password    []byte
	Certificate []byte
}

// NewPasswordAuthentication создаёт параметр парольной аутентификации
func NewPasswordAuthentication(password string) *AuthenticationParameter {
	return &AuthenticationParameter{Mechanism: AuthPassword, Password: []byte(password)}
}

// Authenticator решает, принять ли запрос ассоциации.
// Возвращённый токен остаётся привязан к ассоциации.
type Authenticator interface {
	Authenticate(param *AuthenticationParameter, ref *ApplicationReference) (token any, ok bool)
}

// AuthenticatorFunc позволяет использовать функцию как Authenticator
type AuthenticatorFunc func(param *AuthenticationParameter, ref *ApplicationReference) (any, bool)

func (f AuthenticatorFunc) Authenticate(param *AuthenticationParameter, ref *ApplicationReference) (any, bool) {
	return f(param, ref)
}

// PasswordAuthenticator принимает ассоциации с парольным механизмом
// и паролем, в точности совпадающим с настроенным.
type PasswordAuthenticator struct {
	Password []byte
}

func (a *PasswordAuthenticator) Authenticate(param *AuthenticationParameter, _ *ApplicationReference) (any, bool) {
	if param == nil || param.Mechanism != AuthPassword {
		return nil, false
	}
	if len(param.Password) != len(a.Password) {
		return nil, false
	}
	return nil, bytes.Equal(param.Password, a.Password)
}

// ApplicationReference адрес прикладного объекта: AP title и AE qualifier
type ApplicationReference struct {
	APTitle     string
	AEQualifier int32
}

// AssociationParameters поля адресации и аутентификации AARQ
type AssociationParameters struct {
	Called         ApplicationReference
	Calling        ApplicationReference
	Authentication *AuthenticationParameter
}

// DefaultAssociationParameters AP title и AE qualifier по умолчанию
func DefaultAssociationParameters() *AssociationParameters {
	return &AssociationParameters{
		Called:  ApplicationReference{APTitle: "1.1.1.999.1", AEQualifier: 12},
		Calling: ApplicationReference{APTitle: "1.1.1.999", AEQualifier: 12},
	}
}

var (
	// 1.0.9506.2.3 (mms-abstract-syntax-version3)
	appContextNameMms = []byte{0x28, 0xca, 0x22, 0x02, 0x03}
	// 2.2.3.1 (id-password)
	authMechPasswordOID = []byte{0x52, 0x03, 0x01}
	// 2.1.1 (basic-encoding)
	berOID = []byte{0x51, 0x01}
	// бит 0 ACSE requirements: аутентификация
	requirementsAuthentication = []byte{0x04, 0x80}
)

// indirect reference MMS контекста в user information AARQ
const mmsIndirectReference = 3

// Connection состояние одной ACSE ассоциации
type Connection struct {
	State          ConnectionState
	NextReference  uint32
	UserData       []byte
	ApplicationRef ApplicationReference
	Authentication *AuthenticationParameter
	SecurityToken  any

	authenticator Authenticator
}

// Option настройка Connection
type Option func(*Connection)

// WithAuthenticator задаёт проверку входящих AARQ
func WithAuthenticator(a Authenticator) Option {
	return func(c *Connection) {
		c.authenticator = a
	}
}

// NewConnection создаёт ассоциацию в состоянии ожидания
func NewConnection(opts ...Option) *Connection {
	c := &Connection{State: StateIdle}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func oidNode(tag uint32, oid string) *ber.Node {
	buffer := make([]byte, 32)
	n, err := ber.EncodeOIDToBuffer(oid, buffer, len(buffer))
	if err != nil {
		return nil
	}
	return ber.Constructed(tag, ber.Primitive(0x06, buffer[:n]))
}

func userInformation(indirectReference uint32, payload []byte) *ber.Node {
	return ber.Constructed(0xbe,
		ber.Constructed(0x28,
			ber.Primitive(0x06, berOID),
			ber.Unsigned(0x02, uint64(indirectReference)),
			ber.Constructed(0xa0, ber.Raw(payload)),
		),
	)
}

// CreateAssociateRequestMessage создаёт AARQ с payload в user information
func (c *Connection) CreateAssociateRequestMessage(params *AssociationParameters, payload []byte) []byte {
	if params == nil {
		params = DefaultAssociationParameters()
	}

	aarq := ber.Constructed(0x60,
		ber.Constructed(0xa1, ber.Primitive(0x06, appContextNameMms)),
	)

	if params.Called.APTitle != "" {
		aarq.Add(
			oidNode(0xa2, params.Called.APTitle),
			ber.Constructed(0xa3, ber.Signed(0x02, int64(params.Called.AEQualifier))),
		)
	}
	if params.Calling.APTitle != "" {
		aarq.Add(
			oidNode(0xa6, params.Calling.APTitle),
			ber.Constructed(0xa7, ber.Signed(0x02, int64(params.Calling.AEQualifier))),
		)
	}

	if auth := params.Authentication; auth != nil {
		aarq.Add(ber.Primitive(0x8a, requirementsAuthentication))
		if auth.Mechanism == AuthPassword {
			aarq.Add(
				ber.Primitive(0x8b, authMechPasswordOID),
				ber.Constructed(0xac, ber.Primitive(0x80, auth.Password)),
			)
		}
	}

	if payload != nil {
		aarq.Add(userInformation(mmsIndirectReference, payload))
	}

	c.State = StateRequestIndicated
	return aarq.Encode()
}

// CreateAssociateResponseMessage создаёт AARE с заданным результатом.
// При nil payload user information не добавляется.
func (c *Connection) CreateAssociateResponseMessage(result uint8, payload []byte) []byte {
	aare := ber.Constructed(0x61,
		ber.Constructed(0xa1, ber.Primitive(0x06, appContextNameMms)),
		ber.Constructed(0xa2, ber.Unsigned(0x02, uint64(result))),
		ber.Constructed(0xa3, ber.Constructed(0xa1, ber.Unsigned(0x02, 0))),
	)

	if payload != nil {
		aare.Add(userInformation(c.NextReference, payload))
	}

	if result == ResultAccept {
		c.State = StateConnected
	} else {
		c.State = StateIdle
	}
	return aare.Encode()
}

// CreateAssociateFailedMessage создаёт AARE с результатом reject-permanent
func (c *Connection) CreateAssociateFailedMessage() []byte {
	return c.CreateAssociateResponseMessage(ResultRejectPermanent, nil)
}

// CreateAbortMessage создаёт ABRT. isProvider задаёт источник разрыва.
func (c *Connection) CreateAbortMessage(isProvider bool) []byte {
	source := uint64(0)
	if isProvider {
		source = 1
	}
	c.State = StateIdle
	return ber.Constructed(0x64, ber.Unsigned(0x80, source)).Encode()
}

// CreateReleaseRequestMessage создаёт RLRQ с причиной normal
func (c *Connection) CreateReleaseRequestMessage() []byte {
	return ber.Constructed(0x62, ber.Unsigned(0x80, 0)).Encode()
}

// CreateReleaseResponseMessage создаёт RLRE с причиной normal
func (c *Connection) CreateReleaseResponseMessage() []byte {
	c.State = StateIdle
	return ber.Constructed(0x63, ber.Unsigned(0x80, 0)).Encode()
}

// ParseMessage разбирает входящий ACSE PDU и обновляет состояние ассоциации.
// UserData содержит MMS payload принятого AARQ или AARE.
func (c *Connection) ParseMessage(message []byte) (Indication, error) {
	pdu, err := ParseACSEPDU(message)
	if err != nil {
		return IndicationError, err
	}

	switch pdu.Type {
	case AARQ:
		return c.handleAarq(pdu)

	case AARE:
		if pdu.Result != ResultAccept {
			c.State = StateIdle
			return IndicationAssociateFailed, fmt.Errorf("%w: result %d", ErrAssociateRefused, pdu.Result)
		}
		if !pdu.UserInfoValid {
			return IndicationError, ErrInvalidUserInfo
		}
		c.NextReference = pdu.IndirectReference
		c.UserData = pdu.Data
		c.State = StateConnected
		return IndicationAssociate, nil

	case RLRQ:
		return IndicationReleaseRequest, nil

	case RLRE:
		c.State = StateIdle
		return IndicationReleaseResponse, nil

	case ABRT:
		c.State = StateIdle
		return IndicationAbort, nil
	}

	return IndicationError, fmt.Errorf("%w: type 0x%02x", ErrNotAcse, uint8(pdu.Type))
}

func (c *Connection) handleAarq(pdu *ACSEPDU) (Indication, error) {
	c.ApplicationRef = ApplicationReference{
		APTitle:     pdu.CallingAPTitle,
		AEQualifier: pdu.CallingAEQualifier,
	}
	c.Authentication = pdu.AuthenticationParameter()

	token, ok := c.CheckAuthentication(c.Authentication)
	if !ok {
		return IndicationAssociateFailed, ErrAuthentication
	}
	c.SecurityToken = token

	if !pdu.UserInfoValid {
		return IndicationAssociateFailed, ErrInvalidUserInfo
	}

	c.NextReference = pdu.IndirectReference
	c.UserData = pdu.Data
	c.State = StateRequestIndicated
	return IndicationAssociate, nil
}

// CheckAuthentication проверяет запрос через Authenticator.
// Без Authenticator принимается любой запрос.
func (c *Connection) CheckAuthentication(param *AuthenticationParameter) (any, bool) {
	if c.authenticator == nil {
		return nil, true
	}
	return c.authenticator.Authenticate(param, &c.ApplicationRef)
}

// ACSEPDUType application тег ACSE PDU
type ACSEPDUType uint8

const (
	AARQ ACSEPDUType = 0x60
	AARE ACSEPDUType = 0x61
	RLRQ ACSEPDUType = 0x62
	RLRE ACSEPDUType = 0x63
	ABRT ACSEPDUType = 0x64
)

func (t ACSEPDUType) String() string {
	switch t {
	case AARQ:
		return "AARQ"
	case AARE:
		return "AARE"
	case RLRQ:
		return "RLRQ"
	case RLRE:
		return "RLRE"
	case ABRT:
		return "ABRT"
	}
	return fmt.Sprintf("Unknown(0x%02x)", uint8(t))
}

// ACSEPDU разобранный ACSE PDU
type ACSEPDU struct {
	Type                   ACSEPDUType
	ApplicationContextName []byte
	CalledAPTitle          string
	CalledAEQualifier      int32
	CallingAPTitle         string
	CallingAEQualifier     int32
	SenderRequirements     []byte
	MechanismName          []byte
	AuthenticationValue    []byte
	Result                 uint32 // AARE: 0 принята, 1 reject-permanent, 2 reject-transient
	ResultSourceDiagnostic uint32
	Reason                 uint32 // причина RLRQ/RLRE, источник ABRT
	IndirectReference      uint32
	UserInfoValid          bool
	Data                   []byte
}

// AuthenticationParameter извлекает учётные данные из полей AARQ
func (p *ACSEPDU) AuthenticationParameter() *AuthenticationParameter {
	if p.MechanismName == nil {
		return &AuthenticationParameter{Mechanism: AuthNone}
	}
	if bytes.Equal(p.MechanismName, authMechPasswordOID) {
		return &AuthenticationParameter{Mechanism: AuthPassword, Password: p.AuthenticationValue}
	}
	return &AuthenticationParameter{Mechanism: AuthUnknown}
}

// ParseACSEPDU декодирует ACSE PDU
func ParseACSEPDU(data []byte) (*ACSEPDU, error) {
	top, _, err := ber.ParseTLV(data, 0, len(data))
	if err != nil {
		return nil, fmt.Errorf("acse: %w", err)
	}

	pdu := &ACSEPDU{Type: ACSEPDUType(top.Tag), Result: 99}

	switch pdu.Type {
	case AARQ, AARE, RLRQ, RLRE, ABRT:
	default:
		return nil, fmt.Errorf("%w: tag 0x%02x", ErrNotAcse, top.Tag)
	}

	elements, err := top.Children()
	if err != nil {
		return nil, fmt.Errorf("acse: %s: %w", pdu.Type, err)
	}

	for _, element := range elements {
		if err := pdu.parseElement(element); err != nil {
			return nil, err
		}
	}

	return pdu, nil
}

func (p *ACSEPDU) parseElement(element ber.TLV) error {
	switch element.Tag {
	case 0x80:
		p.Reason = element.Uint()

	case 0xa1:
		if inner, ok := firstChild(element); ok {
			p.ApplicationContextName = inner.Value
		}

	case 0xa2:
		inner, ok := firstChild(element)
		if !ok {
			break
		}
		if p.Type == AARE {
			p.Result = inner.Uint()
		} else {
			p.CalledAPTitle = decodeOID(inner.Value)
		}

	case 0xa3:
		inner, ok := firstChild(element)
		if !ok {
			break
		}
		if p.Type == AARE {
			if diag, ok := firstChild(inner); ok {
				p.ResultSourceDiagnostic = diag.Uint()
			}
		} else {
			p.CalledAEQualifier = int32(inner.Int())
		}

	case 0xa6:
		if inner, ok := firstChild(element); ok {
			p.CallingAPTitle = decodeOID(inner.Value)
		}

	case 0xa7:
		if inner, ok := firstChild(element); ok {
			p.CallingAEQualifier = int32(inner.Int())
		}

	case 0x8a:
		p.SenderRequirements = element.Value

	case 0x8b:
		p.MechanismName = element.Value

	case 0xac:
		if inner, ok := firstChild(element); ok {
			p.AuthenticationValue = inner.Value
		}

	case 0xbe:
		external, ok := firstChild(element)
		if !ok || external.Tag != 0x28 {
			return nil
		}
		return p.parseUserInformation(external.Value)
	}

	return nil
}

func (p *ACSEPDU) parseUserInformation(value []byte) error {
	fields, err := ber.ParseAll(value)
	if err != nil {
		return fmt.Errorf("acse: user information: %w", err)
	}

	isBer := true
	hasIndirectReference := false
	hasData := false

	for _, field := range fields {
		switch field.Tag {
		case 0x06:
			isBer = bytes.Equal(field.Value, berOID)
		case 0x02:
			p.IndirectReference = field.Uint()
			hasIndirectReference = true
		case 0xa0:
			p.Data = field.Value
			hasData = true
		}
	}

	p.UserInfoValid = isBer && hasIndirectReference && hasData
	return nil
}

func firstChild(element ber.TLV) (ber.TLV, bool) {
	children, err := element.Children()
	if err != nil || len(children) == 0 {
		return ber.TLV{}, false
	}
	return children[0], true
}

func decodeOID(value []byte) string {
	var oid ber.ItuObjectIdentifier
	ber.DecodeOID(value, 0, len(value), &oid)
	return oid.String()
}

// String реализует fmt.Stringer
func (p *ACSEPDU) String() string {
	var builder strings.Builder

	fmt.Fprintf(&builder, "ACSEPDU{Type: %s (0x%02x)", p.Type, uint8(p.Type))

	if len(p.ApplicationContextName) > 0 {
		builder.WriteString(", ApplicationContextName: ")
		builder.WriteString(formatOID(p.ApplicationContextName))
	}

	switch p.Type {
	case AARQ:
		if p.CalledAPTitle != "" {
			fmt.Fprintf(&builder, ", Called: %s/%d", p.CalledAPTitle, p.CalledAEQualifier)
		}
		if p.CallingAPTitle != "" {
			fmt.Fprintf(&builder, ", Calling: %s/%d", p.CallingAPTitle, p.CallingAEQualifier)
		}
		if p.MechanismName != nil {
			fmt.Fprintf(&builder, ", Mechanism: %s", p.AuthenticationParameter().Mechanism)
		}
	case AARE:
		fmt.Fprintf(&builder, ", Result: %d (%s)", p.Result, resultString(p.Result))
		if p.ResultSourceDiagnostic != 0 {
			fmt.Fprintf(&builder, ", ResultSourceDiagnostic: %d", p.ResultSourceDiagnostic)
		}
	case RLRQ, RLRE, ABRT:
		fmt.Fprintf(&builder, ", Reason: %d", p.Reason)
	}

	if p.IndirectReference != 0 {
		fmt.Fprintf(&builder, ", IndirectReference: %d", p.IndirectReference)
	}

	fmt.Fprintf(&builder, ", DataLength: %d}", len(p.Data))

	return builder.String()
}

func resultString(result uint32) string {
	switch result {
	case ResultAccept:
		return "accepted"
	case ResultRejectPermanent:
		return "reject-permanent"
	case ResultRejectTransient:
		return "reject-transient"
	}
	return "unknown"
}

func formatOID(oid []byte) string {
	switch {
	case bytes.Equal(oid, appContextNameMms):
		return "1.0.9506.2.3 (MMS)"
	case bytes.Equal(oid, []byte{0x52, 0x01, 0x00, 0x01}):
		return "2.2.1.0.1 (id-as-acse)"
	}
	return decodeOID(oid)
}
