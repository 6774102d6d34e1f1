package mms

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePDU(t *testing.T) {
	tests := []struct {
		name      string
		buffer    string
		check     func(t *testing.T, pdu *PDU)
		wantError error
	}{
		{
			// a2 0a confirmed-ErrorPDU
			//   80 01 05 invokeID
			//   a2 05 a0 03 87 01 02 serviceError: access, object-non-existent
			name:   "confirmed-error",
			buffer: "a20a800105a205a003870102",
			check: func(t *testing.T, pdu *PDU) {
				assert.Equal(t, PDUConfirmedError, pdu.Type)
				assert.Equal(t, uint32(5), pdu.InvokeID)
				assert.Equal(t, ServiceError{Class: ErrorClassAccess, Code: 2}, pdu.ServiceError)
				assert.Equal(t, ErrorAccessObjectNonExistent, pdu.ServiceError.Error())
			},
		},
		{
			// a4 06 80 01 07 81 01 01 - reject confirmed-request unrecognized-service
			name:   "reject",
			buffer: "a406800107810101",
			check: func(t *testing.T, pdu *PDU) {
				assert.Equal(t, PDUReject, pdu.Type)
				assert.True(t, pdu.HasInvokeID)
				assert.Equal(t, uint32(7), pdu.InvokeID)
				assert.Equal(t, ErrorRejectUnrecognizedService, pdu.Reject.Error())
			},
		},
		{
			name:   "conclude-request",
			buffer: "8b00",
			check: func(t *testing.T, pdu *PDU) {
				assert.Equal(t, PDUConcludeRequest, pdu.Type)
			},
		},
		{
			name:   "confirmed-request identify",
			buffer: "a0050201038200",
			check: func(t *testing.T, pdu *PDU) {
				assert.Equal(t, PDUConfirmedRequest, pdu.Type)
				assert.Equal(t, uint32(3), pdu.InvokeID)
				assert.Equal(t, "identify", ServiceName(pdu.Service.Tag))
			},
		},
		{
			name:      "запрос без сервиса",
			buffer:    "a003020101",
			wantError: ErrInvalidPDU,
		},
		{
			name:      "пустой буфер",
			buffer:    "",
			wantError: ErrInvalidPDU,
		},
		{
			name:      "неверная длина",
			buffer:    "a0ff020101",
			wantError: ErrInvalidPDU,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pdu, err := ParsePDU(parseHexStringForTest(t, tt.buffer))
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			tt.check(t, pdu)
		})
	}
}

func TestParsePDUUnknownType(t *testing.T) {
	// a5 00 - cancel-RequestPDU не поддерживается
	pdu, err := ParsePDU([]byte{0xa5, 0x00})
	assert.ErrorIs(t, err, ErrUnexpectedTag)
	require.NotNil(t, pdu)
	assert.Equal(t, PDUType(0xa5), pdu.Type)
}

func TestPDUBuilders(t *testing.T) {
	invokeID := uint32(7)

	tests := []struct {
		name string
		got  []byte
		want string
	}{
		{
			name: "confirmed-error",
			got:  ConfirmedErrorPDU(5, ServiceErrorFor(ErrorAccessObjectNonExistent)),
			want: "a20a800105a205a003870102",
		},
		{
			name: "reject с invokeID",
			got:  RejectPDU(&invokeID, RejectReason{Type: RejectConfirmedRequest, Code: RejectReasonUnrecognizedService}),
			want: "a406800107810101",
		},
		{
			name: "reject без invokeID",
			got:  RejectPDU(nil, RejectReason{Type: RejectPDUError, Code: RejectReasonUnknownPDUType}),
			want: "a403850100",
		},
		{
			name: "conclude-response",
			got:  ConcludeResponsePDU(),
			want: "8c00",
		},
		{
			name: "identify request",
			got:  ConfirmedRequestPDU(3, IdentifyRequest),
			want: "a0050201038200",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hex.EncodeToString(tt.got))
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		in   ServiceError
		want Error
	}{
		{name: "файл не существует", in: ServiceError{Class: ErrorClassFile, Code: 7}, want: ErrorFileFileNonExistent},
		{name: "определение существует", in: ServiceError{Class: ErrorClassDefinition, Code: 5}, want: ErrorDefinitionObjectExists},
		{name: "неизвестный код класса", in: ServiceError{Class: ErrorClassFile, Code: 42}, want: ErrorFileOther},
		{name: "неизвестный класс", in: ServiceError{Class: ErrorClassOthers, Code: 3}, want: ErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Error())
		})
	}

	for _, err := range []Error{ErrorAccessObjectAccessDenied, ErrorFileDuplicateFilename, ErrorServiceOther} {
		assert.Equal(t, err, ServiceErrorFor(err).Error(), err.String())
	}

	assert.Equal(t, ErrorNone, ErrorFromDataAccess(DataAccessSuccess))
	assert.Equal(t, ErrorAccessObjectAccessDenied, ErrorFromDataAccess(ObjectAccessDenied))
	assert.Equal(t, ErrorAccessOther, ErrorFromDataAccess(DataAccessError(99)))
}
