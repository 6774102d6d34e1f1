package mms

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// ErrReportTooLarge information report не помещается в согласованный размер PDU
var ErrReportTooLarge = errors.New("mms: information report exceeds max PDU size")

// ServerConnection серверная сторона MMS ассоциации
type ServerConnection struct {
	iso    *iso.ServerConnection
	server *Server

	maxPduSize   uint32
	lastInvokeID atomic.Uint32
	singleWrite  atomic.Bool

	lists NamedVariableLists
	files *openFiles
}

// ID возвращает идентификатор соединения
func (c *ServerConnection) ID() xid.ID {
	return c.iso.ID
}

// PeerAddress возвращает адрес клиента
func (c *ServerConnection) PeerAddress() string {
	return c.iso.PeerAddress
}

// SecurityToken возвращает токен, выданный аутентификатором ACSE
func (c *ServerConnection) SecurityToken() any {
	return c.iso.SecurityToken()
}

// MaxPduSize возвращает согласованный максимальный размер PDU
func (c *ServerConnection) MaxPduSize() uint32 {
	return c.maxPduSize
}

// LastInvokeID возвращает invokeID последнего подтверждаемого запроса
func (c *ServerConnection) LastInvokeID() uint32 {
	return c.lastInvokeID.Load()
}

// SingleVariableWrite сообщает, что обрабатываемый запрос записи адресует
// ровно одну переменную списком переменных. Только такой ответ WriteHandler
// может отложить через DataAccessNoResponse.
func (c *ServerConnection) SingleVariableWrite() bool {
	return c.singleWrite.Load()
}

// NamedVariableLists возвращает списки ассоциации (aa-specific)
func (c *ServerConnection) NamedVariableLists() *NamedVariableLists {
	return &c.lists
}

// Close разрывает соединение
func (c *ServerConnection) Close() error {
	return c.iso.Close()
}

// SendWriteResponse отправляет отложенный ответ на запись одной переменной
func (c *ServerConnection) SendWriteResponse(invokeID uint32, result DataAccessError) error {
	return c.iso.SendMessage(ConfirmedResponsePDU(invokeID, &WriteResponse{Results: []DataAccessError{result}}))
}

// SendInformationReportSingleVariableVMDSpecific отправляет значение одной
// vmd-specific переменной
func (c *ServerConnection) SendInformationReportSingleVariableVMDSpecific(itemID string, value *variant.Variant) error {
	return c.sendInformationReport(NewInformationReportVMDSpecific(itemID, value))
}

// SendInformationReportVMDSpecific отправляет значения по vmd-specific
// именованному списку itemID (отчёты IEC 61850 используют список "RPT")
func (c *ServerConnection) SendInformationReportVMDSpecific(itemID string, values []*variant.Variant) error {
	return c.sendInformationReport(NewInformationReportNamedList(VMDName(itemID), values))
}

// SendInformationReportListOfVariables отправляет значения перечисленных переменных
func (c *ServerConnection) SendInformationReportListOfVariables(variables []VariableSpec, values []*variant.Variant) error {
	if len(variables) != len(values) {
		return fmt.Errorf("mms: %d variables for %d values", len(variables), len(values))
	}

	report := &InformationReport{Specification: VariableAccessSpecification{Variables: variables}}
	for _, value := range values {
		report.Results = append(report.Results, ResultFromValue(value))
	}
	return c.sendInformationReport(report)
}

func (c *ServerConnection) sendInformationReport(report *InformationReport) error {
	pdu := UnconfirmedPDU(report)
	if len(pdu) > int(c.maxPduSize) {
		return fmt.Errorf("%w: %d > %d", ErrReportTooLarge, len(pdu), c.maxPduSize)
	}
	return c.iso.SendMessage(pdu)
}
