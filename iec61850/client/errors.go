package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/careychow/libIEC61850-sub000/osi/mms"
)

// Error код ошибки клиента IEC 61850
type Error int

const (
	ErrorNotConnected Error = iota + 1
	ErrorAlreadyConnected
	ErrorConnectionLost
	ErrorServiceNotSupported
	ErrorConnectionRejected
	ErrorInvalidArgument
	ErrorObjectReferenceInvalid
	ErrorUnexpectedValue
	ErrorTimeout
	ErrorAccessDenied
	ErrorObjectDoesNotExist
	ErrorObjectExists
	ErrorObjectAccessUnsupported
	ErrorTypeInconsistent
	ErrorTemporarilyUnavailable
	ErrorObjectValueInvalid
	ErrorDataSetMismatch
	ErrorUnknown
)

var errorNames = map[Error]string{
	ErrorNotConnected:            "not connected",
	ErrorAlreadyConnected:        "already connected",
	ErrorConnectionLost:          "connection lost",
	ErrorServiceNotSupported:     "service not supported",
	ErrorConnectionRejected:      "connection rejected",
	ErrorInvalidArgument:         "invalid argument",
	ErrorObjectReferenceInvalid:  "object reference invalid",
	ErrorUnexpectedValue:         "unexpected value",
	ErrorTimeout:                 "timeout",
	ErrorAccessDenied:            "access denied",
	ErrorObjectDoesNotExist:      "object does not exist",
	ErrorObjectExists:            "object exists",
	ErrorObjectAccessUnsupported: "object access unsupported",
	ErrorTypeInconsistent:        "type inconsistent",
	ErrorTemporarilyUnavailable:  "temporarily unavailable",
	ErrorObjectValueInvalid:      "object value invalid",
	ErrorDataSetMismatch:         "data set mismatch",
	ErrorUnknown:                 "unknown",
}

func (e Error) String() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Error(%d)", int(e))
}

func (e Error) Error() string {
	return "iec61850: " + e.String()
}

var mmsErrors = map[mms.Error]Error{
	mms.ErrorConnectionLost:                        ErrorConnectionLost,
	mms.ErrorConnectionRejected:                    ErrorConnectionRejected,
	mms.ErrorServiceTimeout:                        ErrorTimeout,
	mms.ErrorInvalidArguments:                      ErrorInvalidArgument,
	mms.ErrorParsingResponse:                       ErrorUnexpectedValue,
	mms.ErrorAccessObjectAccessDenied:              ErrorAccessDenied,
	mms.ErrorFileFileAccessDenied:                  ErrorAccessDenied,
	mms.ErrorAccessObjectNonExistent:               ErrorObjectDoesNotExist,
	mms.ErrorDefinitionObjectUndefined:             ErrorObjectDoesNotExist,
	mms.ErrorFileFileNonExistent:                   ErrorObjectDoesNotExist,
	mms.ErrorAccessObjectAccessUnsupported:         ErrorObjectAccessUnsupported,
	mms.ErrorDefinitionObjectExists:                ErrorObjectExists,
	mms.ErrorDefinitionTypeInconsistent:            ErrorTypeInconsistent,
	mms.ErrorDefinitionObjectAttributeInconsistent: ErrorTypeInconsistent,
	mms.ErrorAccessTemporarilyUnavailable:          ErrorTemporarilyUnavailable,
	mms.ErrorAccessObjectValueInvalid:              ErrorObjectValueInvalid,
	mms.ErrorRejectUnrecognizedService:             ErrorServiceNotSupported,
}

// FromMmsError отображает код ошибки MMS клиента
func FromMmsError(e mms.Error) Error {
	if err, ok := mmsErrors[e]; ok {
		return err
	}
	return ErrorUnknown
}

// FromDataAccessError отображает код доступа к данным, полученный в
// ответе на чтение или запись
func FromDataAccessError(e mms.DataAccessError) Error {
	return FromMmsError(mms.ErrorFromDataAccess(e))
}

// wrap переводит ошибку MMS уровня в Error, сохраняя исходную в цепочке
func wrap(err error) error {
	if err == nil {
		return nil
	}

	var (
		mmsErr  mms.Error
		dataErr mms.DataAccessError
		iedErr  Error
	)
	switch {
	case errors.As(err, &iedErr):
		return err
	case errors.As(err, &mmsErr):
		return fmt.Errorf("%w: %w", FromMmsError(mmsErr), err)
	case errors.As(err, &dataErr):
		return fmt.Errorf("%w: %w", FromDataAccessError(dataErr), err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrorTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrorUnknown, err)
}
