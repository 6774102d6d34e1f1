package mms

import "fmt"

// Error код ошибки MMS клиента. Ошибки сервера (confirmed-error, reject)
// и локальные условия (таймаут, потеря соединения) используют одно перечисление.
type Error int

const (
	ErrorNone Error = iota
	ErrorConnectionRejected
	ErrorConnectionLost
	ErrorServiceTimeout
	ErrorParsingResponse
	ErrorHardwareFault
	ErrorConcludeRejected
	ErrorInvalidArguments
	ErrorOutstandingCallLimit
	ErrorServiceError
	ErrorOther

	ErrorVmdStateOther
	ErrorApplicationReferenceOther

	ErrorDefinitionOther
	ErrorDefinitionInvalidAddress
	ErrorDefinitionTypeUnsupported
	ErrorDefinitionTypeInconsistent
	ErrorDefinitionObjectUndefined
	ErrorDefinitionObjectExists
	ErrorDefinitionObjectAttributeInconsistent

	ErrorResourceOther
	ErrorResourceCapabilityUnavailable

	ErrorServiceOther
	ErrorServiceObjectConstraintConflict

	ErrorServicePreemptOther
	ErrorTimeResolutionOther

	ErrorAccessOther
	ErrorAccessObjectNonExistent
	ErrorAccessObjectAccessUnsupported
	ErrorAccessObjectAccessDenied
	ErrorAccessObjectInvalidated
	ErrorAccessObjectValueInvalid
	ErrorAccessTemporarilyUnavailable

	ErrorFileOther
	ErrorFileFilenameAmbiguous
	ErrorFileFileBusy
	ErrorFileFilenameSyntaxError
	ErrorFileContentTypeInvalid
	ErrorFilePositionInvalid
	ErrorFileFileAccessDenied
	ErrorFileFileNonExistent
	ErrorFileDuplicateFilename
	ErrorFileInsufficientSpaceInFilestore

	ErrorRejectOther
	ErrorRejectUnknownPDUType
	ErrorRejectInvalidPDU
	ErrorRejectUnrecognizedService
	ErrorRejectUnrecognizedModifier
	ErrorRejectRequestInvalidArgument
)

var errorNames = map[Error]string{
	ErrorNone:                                  "none",
	ErrorConnectionRejected:                    "connection rejected",
	ErrorConnectionLost:                        "connection lost",
	ErrorServiceTimeout:                        "service timeout",
	ErrorParsingResponse:                       "parsing response",
	ErrorHardwareFault:                         "hardware fault",
	ErrorConcludeRejected:                      "conclude rejected",
	ErrorInvalidArguments:                      "invalid arguments",
	ErrorOutstandingCallLimit:                  "outstanding call limit",
	ErrorServiceError:                          "service error",
	ErrorOther:                                 "other",
	ErrorVmdStateOther:                         "vmd-state other",
	ErrorApplicationReferenceOther:             "application-reference other",
	ErrorDefinitionOther:                       "definition other",
	ErrorDefinitionInvalidAddress:              "definition invalid-address",
	ErrorDefinitionTypeUnsupported:             "definition type-unsupported",
	ErrorDefinitionTypeInconsistent:            "definition type-inconsistent",
	ErrorDefinitionObjectUndefined:             "definition object-undefined",
	ErrorDefinitionObjectExists:                "definition object-exists",
	ErrorDefinitionObjectAttributeInconsistent: "definition object-attribute-inconsistent",
	ErrorResourceOther:                         "resource other",
	ErrorResourceCapabilityUnavailable:         "resource capability-unavailable",
	ErrorServiceOther:                          "service other",
	ErrorServiceObjectConstraintConflict:       "service object-constraint-conflict",
	ErrorServicePreemptOther:                   "service-preempt other",
	ErrorTimeResolutionOther:                   "time-resolution other",
	ErrorAccessOther:                           "access other",
	ErrorAccessObjectNonExistent:               "access object-non-existent",
	ErrorAccessObjectAccessUnsupported:         "access object-access-unsupported",
	ErrorAccessObjectAccessDenied:              "access object-access-denied",
	ErrorAccessObjectInvalidated:               "access object-invalidated",
	ErrorAccessObjectValueInvalid:              "access object-value-invalid",
	ErrorAccessTemporarilyUnavailable:          "access temporarily-unavailable",
	ErrorFileOther:                             "file other",
	ErrorFileFilenameAmbiguous:                 "file filename-ambiguous",
	ErrorFileFileBusy:                          "file file-busy",
	ErrorFileFilenameSyntaxError:               "file filename-syntax-error",
	ErrorFileContentTypeInvalid:                "file content-type-invalid",
	ErrorFilePositionInvalid:                   "file position-invalid",
	ErrorFileFileAccessDenied:                  "file file-access-denied",
	ErrorFileFileNonExistent:                   "file file-non-existent",
	ErrorFileDuplicateFilename:                 "file duplicate-filename",
	ErrorFileInsufficientSpaceInFilestore:      "file insufficient-space-in-filestore",
	ErrorRejectOther:                           "reject other",
	ErrorRejectUnknownPDUType:                  "reject unknown-pdu-type",
	ErrorRejectInvalidPDU:                      "reject invalid-pdu",
	ErrorRejectUnrecognizedService:             "reject unrecognized-service",
	ErrorRejectUnrecognizedModifier:            "reject unrecognized-modifier",
	ErrorRejectRequestInvalidArgument:          "reject request invalid-argument",
}

func (e Error) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Error(%d)", int(e))
}

func (e Error) Error() string {
	return "mms: " + e.String()
}

// ErrorClass класс ошибки confirmed-error PDU (ServiceError.errorClass)
type ErrorClass int

const (
	ErrorClassVmdState ErrorClass = iota
	ErrorClassApplicationReference
	ErrorClassDefinition
	ErrorClassResource
	ErrorClassService
	ErrorClassServicePreempt
	ErrorClassTimeResolution
	ErrorClassAccess
	ErrorClassInitiate
	ErrorClassConclude
	ErrorClassCancel
	ErrorClassFile
	ErrorClassOthers
)

// ServiceError содержимое confirmed-error PDU
type ServiceError struct {
	Class ErrorClass
	Code  uint32
}

func (e ServiceError) String() string {
	return fmt.Sprintf("ServiceError{Class: %d, Code: %d}", e.Class, e.Code)
}

type classCode struct {
	class ErrorClass
	code  uint32
}

var serviceErrors = map[classCode]Error{
	{ErrorClassVmdState, 0}:             ErrorVmdStateOther,
	{ErrorClassApplicationReference, 0}: ErrorApplicationReferenceOther,
	{ErrorClassDefinition, 0}:           ErrorDefinitionOther,
	{ErrorClassDefinition, 1}:           ErrorDefinitionObjectUndefined,
	{ErrorClassDefinition, 2}:           ErrorDefinitionInvalidAddress,
	{ErrorClassDefinition, 3}:           ErrorDefinitionTypeUnsupported,
	{ErrorClassDefinition, 4}:           ErrorDefinitionTypeInconsistent,
	{ErrorClassDefinition, 5}:           ErrorDefinitionObjectExists,
	{ErrorClassDefinition, 6}:           ErrorDefinitionObjectAttributeInconsistent,
	{ErrorClassResource, 0}:             ErrorResourceOther,
	{ErrorClassResource, 4}:             ErrorResourceCapabilityUnavailable,
	{ErrorClassService, 0}:              ErrorServiceOther,
	{ErrorClassService, 5}:              ErrorServiceObjectConstraintConflict,
	{ErrorClassServicePreempt, 0}:       ErrorServicePreemptOther,
	{ErrorClassTimeResolution, 0}:       ErrorTimeResolutionOther,
	{ErrorClassAccess, 0}:               ErrorAccessOther,
	{ErrorClassAccess, 1}:               ErrorAccessObjectAccessUnsupported,
	{ErrorClassAccess, 2}:               ErrorAccessObjectNonExistent,
	{ErrorClassAccess, 3}:               ErrorAccessObjectAccessDenied,
	{ErrorClassAccess, 4}:               ErrorAccessObjectInvalidated,
	{ErrorClassFile, 0}:                 ErrorFileOther,
	{ErrorClassFile, 1}:                 ErrorFileFilenameAmbiguous,
	{ErrorClassFile, 2}:                 ErrorFileFileBusy,
	{ErrorClassFile, 3}:                 ErrorFileFilenameSyntaxError,
	{ErrorClassFile, 4}:                 ErrorFileContentTypeInvalid,
	{ErrorClassFile, 5}:                 ErrorFilePositionInvalid,
	{ErrorClassFile, 6}:                 ErrorFileFileAccessDenied,
	{ErrorClassFile, 7}:                 ErrorFileFileNonExistent,
	{ErrorClassFile, 8}:                 ErrorFileDuplicateFilename,
	{ErrorClassFile, 9}:                 ErrorFileInsufficientSpaceInFilestore,
}

// Error отображает ServiceError в перечисление Error.
// Неизвестные коды известного класса дают "other" этого класса.
func (e ServiceError) Error() Error {
	if err, ok := serviceErrors[classCode{e.Class, e.Code}]; ok {
		return err
	}
	if err, ok := serviceErrors[classCode{e.Class, 0}]; ok {
		return err
	}
	return ErrorOther
}

// ServiceErrorFor возвращает класс и код ошибки для передачи в confirmed-error PDU
func ServiceErrorFor(err Error) ServiceError {
	for cc, e := range serviceErrors {
		if e == err {
			return ServiceError{Class: cc.class, Code: cc.code}
		}
	}
	return ServiceError{Class: ErrorClassService, Code: 0}
}

// DataAccessError представляет код ошибки доступа к данным MMS.
// Значения согласно ISO/IEC 9506-2 (MMS) и ASN.1 определению DataAccessError,
// отрицательные значения используются только внутри сервера.
type DataAccessError int

const (
	// DataAccessSuccess доступ выполнен
	DataAccessSuccess DataAccessError = -1
	// ObjectInvalidated объект был инвалидирован
	ObjectInvalidated DataAccessError = 0
	// HardwareFault ошибка оборудования
	HardwareFault DataAccessError = 1
	// TemporarilyUnavailable объект временно недоступен
	TemporarilyUnavailable DataAccessError = 2
	// ObjectAccessDenied доступ к объекту запрещен
	ObjectAccessDenied DataAccessError = 3
	// ObjectUndefined объект не определен
	ObjectUndefined DataAccessError = 4
	// InvalidAddress неверный адрес
	InvalidAddress DataAccessError = 5
	// TypeUnsupported тип не поддерживается
	TypeUnsupported DataAccessError = 6
	// TypeInconsistent тип не согласован
	TypeInconsistent DataAccessError = 7
	// ObjectAttributeInconsistent атрибуты объекта не согласованы
	ObjectAttributeInconsistent DataAccessError = 8
	// ObjectAccessUnsupported доступ к объекту не поддерживается
	ObjectAccessUnsupported DataAccessError = 9
	// ObjectNonExistent объект не существует
	ObjectNonExistent DataAccessError = 10
	// ObjectValueInvalid значение объекта неверно
	ObjectValueInvalid DataAccessError = 11
)

// String возвращает строковое представление кода ошибки
func (c DataAccessError) String() string {
	switch c {
	case DataAccessSuccess:
		return "success"
	case ObjectInvalidated:
		return "object-invalidated"
	case HardwareFault:
		return "hardware-fault"
	case TemporarilyUnavailable:
		return "temporarily-unavailable"
	case ObjectAccessDenied:
		return "object-access-denied"
	case ObjectUndefined:
		return "object-undefined"
	case InvalidAddress:
		return "invalid-address"
	case TypeUnsupported:
		return "type-unsupported"
	case TypeInconsistent:
		return "type-inconsistent"
	case ObjectAttributeInconsistent:
		return "object-attribute-inconsistent"
	case ObjectAccessUnsupported:
		return "object-access-unsupported"
	case ObjectNonExistent:
		return "object-non-existent"
	case ObjectValueInvalid:
		return "object-value-invalid"
	default:
		return fmt.Sprintf("unknown-error-code-%d", int(c))
	}
}

func (c DataAccessError) Error() string {
	return "mms: data access " + c.String()
}

var dataAccessErrors = map[DataAccessError]Error{
	ObjectInvalidated:           ErrorAccessObjectInvalidated,
	HardwareFault:               ErrorHardwareFault,
	TemporarilyUnavailable:      ErrorAccessTemporarilyUnavailable,
	ObjectAccessDenied:          ErrorAccessObjectAccessDenied,
	ObjectUndefined:             ErrorDefinitionObjectUndefined,
	InvalidAddress:              ErrorDefinitionInvalidAddress,
	TypeUnsupported:             ErrorDefinitionTypeUnsupported,
	TypeInconsistent:            ErrorDefinitionTypeInconsistent,
	ObjectAttributeInconsistent: ErrorDefinitionObjectAttributeInconsistent,
	ObjectAccessUnsupported:     ErrorAccessObjectAccessUnsupported,
	ObjectNonExistent:           ErrorAccessObjectNonExistent,
	ObjectValueInvalid:          ErrorAccessObjectValueInvalid,
}

// ErrorFromDataAccess отображает код DataAccessError в перечисление Error
func ErrorFromDataAccess(c DataAccessError) Error {
	if c == DataAccessSuccess {
		return ErrorNone
	}
	if err, ok := dataAccessErrors[c]; ok {
		return err
	}
	return ErrorAccessOther
}
