package mms

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/spf13/afero"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// Идентификация VMD по умолчанию (сервис identify)
const (
	DefaultVendorName = "libiec61850.com"
	DefaultModelName  = "LIBIEC61850"
	DefaultRevision   = "0.8.0"
)

// DefaultMaxPduSize максимальный размер MMS PDU, предлагаемый при инициализации
const DefaultMaxPduSize = 65000

// DataAccessNoResponse возвращается WriteHandler, чтобы отложить ответ на
// запись. Ответ отправляется позже через ServerConnection.SendWriteResponse
// с номером из ServerConnection.LastInvokeID.
const DataAccessNoResponse DataAccessError = -2

// ReadHandler возвращает значение переменной. nil означает, что значение
// берётся из кэша.
type ReadHandler func(conn *ServerConnection, domain *Domain, itemID string) *variant.Variant

// WriteHandler применяет записанное значение. Без обработчика значение
// записывается в кэш.
type WriteHandler func(conn *ServerConnection, domain *Domain, itemID string, value *variant.Variant) DataAccessError

// ConnectionHandler уведомляется об открытии и закрытии MMS ассоциаций
type ConnectionHandler func(conn *ServerConnection, event iso.ConnectionEvent)

// StatusRequestHandler вызывается перед ответом на запрос status и может
// обновить состояние VMD через SetVMDStatus
type StatusRequestHandler func(conn *ServerConnection, extendedDerivation bool)

// NamedVariableListEvent изменение именованного списка по запросу клиента
type NamedVariableListEvent int

const (
	NamedVariableListCreated NamedVariableListEvent = iota
	NamedVariableListDeleted
)

// NamedVariableListHandler разрешает или запрещает создание и удаление
// именованного списка. domain равен nil для списков уровня VMD и ассоциации.
type NamedVariableListHandler func(conn *ServerConnection, event NamedVariableListEvent, scope ObjectScope, domain *Domain, list *NamedVariableList) DataAccessError

type serverOptions struct {
	logger       logger.Logger
	vendor       string
	model        string
	revision     string
	maxPduSize   uint32
	files        afero.Fs
	maxOpenFiles int
	isoOptions   []iso.ServerOption

	onRead         ReadHandler
	onWrite        WriteHandler
	onConnection   ConnectionHandler
	onStatus       StatusRequestHandler
	onVariableList NamedVariableListHandler
}

// ServerOption настраивает Server
type ServerOption func(*serverOptions)

// WithServerLogger задаёт логгер сервера
func WithServerLogger(l logger.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// WithIdentity задаёт ответ на запрос identify
func WithIdentity(vendor, model, revision string) ServerOption {
	return func(o *serverOptions) {
		o.vendor = vendor
		o.model = model
		o.revision = revision
	}
}

// WithMaxPduSize задаёт максимальный размер MMS PDU
func WithMaxPduSize(size uint32) ServerOption {
	return func(o *serverOptions) {
		o.maxPduSize = size
	}
}

// WithFileStore задаёт файловое хранилище для файловых сервисов
func WithFileStore(fs afero.Fs) ServerOption {
	return func(o *serverOptions) {
		o.files = fs
	}
}

// WithMaxOpenFiles ограничивает число открытых файлов на соединение
func WithMaxOpenFiles(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxOpenFiles = n
	}
}

// WithIsoServerOptions передаёт опции ISO серверу
func WithIsoServerOptions(opts ...iso.ServerOption) ServerOption {
	return func(o *serverOptions) {
		o.isoOptions = append(o.isoOptions, opts...)
	}
}

// WithReadHandler задаёт обработчик чтения
func WithReadHandler(h ReadHandler) ServerOption {
	return func(o *serverOptions) {
		o.onRead = h
	}
}

// WithWriteHandler задаёт обработчик записи
func WithWriteHandler(h WriteHandler) ServerOption {
	return func(o *serverOptions) {
		o.onWrite = h
	}
}

// WithServerConnectionHandler задаёт обработчик событий соединений
func WithServerConnectionHandler(h ConnectionHandler) ServerOption {
	return func(o *serverOptions) {
		o.onConnection = h
	}
}

// WithStatusRequestHandler задаёт обработчик запроса status
func WithStatusRequestHandler(h StatusRequestHandler) ServerOption {
	return func(o *serverOptions) {
		o.onStatus = h
	}
}

// WithNamedVariableListHandler задаёт обработчик изменения именованных списков
func WithNamedVariableListHandler(h NamedVariableListHandler) ServerOption {
	return func(o *serverOptions) {
		o.onVariableList = h
	}
}

// Server MMS сервер над ISO сервером. Обработчики чтения и записи
// вызываются при удержании блокировки модели.
type Server struct {
	options serverOptions
	log     logger.Logger
	device  *Device
	files   afero.Fs
	iso     *iso.Server

	modelMu sync.Mutex
	caches  map[string]*ValueCache

	connsMu sync.RWMutex
	conns   map[xid.ID]*ServerConnection

	logicalStatus  atomic.Int32
	physicalStatus atomic.Int32
}

// NewServer создаёт MMS сервер устройства
func NewServer(device *Device, opts ...ServerOption) *Server {
	options := serverOptions{
		logger:       logger.NewLogger("mms"),
		vendor:       DefaultVendorName,
		model:        DefaultModelName,
		revision:     DefaultRevision,
		maxPduSize:   DefaultMaxPduSize,
		maxOpenFiles: DefaultMaxOpenFiles,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.files == nil {
		options.files = NewFileStore(DefaultFileStoreBasePath)
	}

	s := &Server{
		options: options,
		log:     options.logger,
		device:  device,
		files:   options.files,
		caches:  make(map[string]*ValueCache),
		conns:   make(map[xid.ID]*ServerConnection),
	}

	for _, domain := range device.Domains() {
		cache := NewValueCache(domain)
		cache.InitializeDefaults()
		s.caches[domain.Name] = cache
	}

	isoOpts := append([]iso.ServerOption{
		iso.WithServerLogger(options.logger),
		iso.WithConnectionHandler(s.handleConnectionEvent),
	}, options.isoOptions...)
	s.iso = iso.NewServer(s.handleMessage, isoOpts...)

	return s
}

// Device возвращает устройство сервера
func (s *Server) Device() *Device {
	return s.device
}

// LockModel захватывает блокировку модели данных
func (s *Server) LockModel() {
	s.modelMu.Lock()
}

// UnlockModel освобождает блокировку модели данных
func (s *Server) UnlockModel() {
	s.modelMu.Unlock()
}

// Cache возвращает кэш значений домена
func (s *Server) Cache(domainID string) *ValueCache {
	return s.caches[domainID]
}

// GetValueFromCache возвращает значение из кэша или nil.
// Вызывающий должен удерживать блокировку модели.
func (s *Server) GetValueFromCache(domainID, itemID string) *variant.Variant {
	cache := s.caches[domainID]
	if cache == nil {
		return nil
	}
	return cache.Lookup(itemID)
}

// InsertIntoCache сохраняет значение в кэше домена
func (s *Server) InsertIntoCache(domainID, itemID string, value *variant.Variant) {
	if cache := s.caches[domainID]; cache != nil {
		cache.Insert(itemID, value)
	}
}

// SetVMDStatus задаёт логическое и физическое состояние для ответа status
func (s *Server) SetVMDStatus(logical, physical int) {
	s.logicalStatus.Store(int32(logical))
	s.physicalStatus.Store(int32(physical))
}

// ListenAndServe принимает соединения по TCP адресу до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	return s.iso.ListenAndServe(ctx, address)
}

// Serve принимает соединения из l до отмены ctx
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	return s.iso.Serve(ctx, l)
}

// ServeConn обслуживает одно установленное транспортное соединение
func (s *Server) ServeConn(conn net.Conn) {
	s.iso.ServeConn(conn)
}

// Addr возвращает адрес, на котором сервер принимает соединения
func (s *Server) Addr() net.Addr {
	return s.iso.Addr()
}

// Close останавливает сервер и закрывает все соединения
func (s *Server) Close() error {
	return s.iso.Close()
}

// Connections возвращает снимок установленных MMS соединений
func (s *Server) Connections() []*ServerConnection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	conns := make([]*ServerConnection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

func (s *Server) connection(isoConn *iso.ServerConnection) *ServerConnection {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()

	return s.conns[isoConn.ID]
}

func (s *Server) handleConnectionEvent(isoConn *iso.ServerConnection, event iso.ConnectionEvent) {
	conn := s.connection(isoConn)
	if conn == nil {
		return
	}

	if event == iso.ConnectionClosed {
		s.connsMu.Lock()
		delete(s.conns, isoConn.ID)
		s.connsMu.Unlock()

		conn.files.closeAll()
		s.log.Info("MMS connection %s closed", conn.ID())
	} else {
		s.log.Info("MMS connection %s from %s established", conn.ID(), conn.PeerAddress())
	}

	if s.options.onConnection != nil {
		s.options.onConnection(conn, event)
	}
}

func (s *Server) handleMessage(isoConn *iso.ServerConnection, request []byte) []byte {
	pdu, err := ParsePDU(request)
	if err != nil {
		s.log.Warning("invalid MMS PDU from %s: %v", isoConn.PeerAddress, err)
		if pdu == nil {
			return RejectPDU(nil, RejectReason{Type: RejectPDUError, Code: RejectReasonInvalidPDU})
		}
		return RejectPDU(nil, RejectReason{Type: RejectPDUError, Code: RejectReasonUnknownPDUType})
	}

	if pdu.Type == PDUInitiateRequest {
		return s.handleInitiate(isoConn, request)
	}

	conn := s.connection(isoConn)
	if conn == nil {
		s.log.Warning("MMS PDU %s before initiate from %s", pdu, isoConn.PeerAddress)
		return nil
	}

	switch pdu.Type {
	case PDUConfirmedRequest:
		conn.lastInvokeID.Store(pdu.InvokeID)
		return s.handleConfirmedRequest(conn, pdu)

	case PDUConcludeRequest:
		s.log.Debug("conclude request from %s", conn.ID())
		return ConcludeResponsePDU()

	case PDUReject:
		s.log.Warning("reject from %s: %s", conn.ID(), pdu.Reject)
		return nil
	}

	return RejectPDU(nil, RejectReason{Type: RejectPDUError, Code: RejectReasonUnknownPDUType})
}

func (s *Server) handleInitiate(isoConn *iso.ServerConnection, request []byte) []byte {
	initiate, err := ParseInitiateRequest(request)
	if err != nil {
		s.log.Warning("invalid initiate request from %s: %v", isoConn.PeerAddress, err)
		return nil
	}

	response := NegotiateInitiate(initiate, s.options.maxPduSize, DefaultServerServices)

	conn := &ServerConnection{
		iso:        isoConn,
		server:     s,
		maxPduSize: response.LocalDetailCalled,
		files:      newOpenFiles(s.options.maxOpenFiles),
	}

	s.connsMu.Lock()
	s.conns[isoConn.ID] = conn
	s.connsMu.Unlock()

	s.log.Debug("initiate from %s: %s", isoConn.PeerAddress, response)
	return response.Bytes()
}

func (s *Server) handleConfirmedRequest(conn *ServerConnection, pdu *PDU) []byte {
	invokeID := pdu.InvokeID
	service := pdu.Service

	s.log.Debug("%s request %d from %s", ServiceName(service.Tag), invokeID, conn.ID())

	var (
		response Service
		mmsErr   Error
		err      error
	)

	switch service.Tag {
	case serviceStatusRequest:
		response = s.status(conn, service.Bool())

	case serviceIdentifyRequest:
		response = &IdentifyResponse{Vendor: s.options.vendor, Model: s.options.model, Revision: s.options.revision}

	case serviceGetNameList:
		var request *GetNameListRequest
		if request, err = ParseGetNameListRequest(service); err == nil {
			response, mmsErr = s.getNameList(conn, request)
		}

	case serviceRead:
		var request *ReadRequest
		if request, err = ParseReadRequest(service); err == nil {
			response, mmsErr, err = s.read(conn, request)
		}

	case serviceWrite:
		var request *WriteRequest
		if request, err = ParseWriteRequest(service); err == nil {
			var deferred bool
			response, mmsErr, deferred, err = s.write(conn, request)
			if deferred {
				return nil
			}
		}

	case serviceGetVariableAccessAttributes:
		var request *GetVariableAccessAttributesRequest
		if request, err = ParseGetVariableAccessAttributesRequest(service); err == nil {
			response, mmsErr = s.getVariableAccessAttributes(request)
		}

	case serviceDefineNamedVariableList:
		var request *DefineNamedVariableListRequest
		if request, err = ParseDefineNamedVariableListRequest(service); err == nil {
			response, mmsErr = s.defineNamedVariableList(conn, request)
		}

	case serviceGetNamedVariableListAttributes:
		var request *GetNamedVariableListAttributesRequest
		if request, err = ParseGetNamedVariableListAttributesRequest(service); err == nil {
			response, mmsErr = s.getNamedVariableListAttributes(conn, request)
		}

	case serviceDeleteNamedVariableList:
		var request *DeleteNamedVariableListRequest
		if request, err = ParseDeleteNamedVariableListRequest(service); err == nil {
			response = s.deleteNamedVariableList(conn, request)
		}

	case serviceFileOpen:
		var request *FileOpenRequest
		if request, err = ParseFileOpenRequest(service); err == nil {
			response, mmsErr = s.fileOpen(conn, request)
		}

	case serviceFileReadRequest:
		response, mmsErr = s.fileRead(conn, int32(service.Int()))

	case serviceFileCloseFRSM:
		response, mmsErr = s.fileClose(conn, int32(service.Int()))

	case serviceFileDelete:
		var request *FileDeleteRequest
		if request, err = ParseFileDeleteRequest(service); err == nil {
			response, mmsErr = s.fileDelete(conn, request)
		}

	case serviceFileRename:
		var request *FileRenameRequest
		if request, err = ParseFileRenameRequest(service); err == nil {
			response, mmsErr = s.fileRename(conn, request)
		}

	case serviceFileDirectory:
		var request *FileDirectoryRequest
		if request, err = ParseFileDirectoryRequest(service); err == nil {
			response, mmsErr = s.fileDirectory(conn, request)
		}

	default:
		s.log.Warning("unrecognized service 0x%x from %s", service.Tag, conn.ID())
		return RejectPDU(&invokeID, RejectReason{Type: RejectConfirmedRequest, Code: RejectReasonUnrecognizedService})
	}

	if err != nil {
		s.log.Warning("%s request %d from %s: %v", ServiceName(service.Tag), invokeID, conn.ID(), err)
		return RejectPDU(&invokeID, RejectReason{Type: RejectConfirmedRequest, Code: RejectReasonInvalidArgument})
	}
	if mmsErr != ErrorNone {
		s.log.Debug("%s request %d from %s failed: %s", ServiceName(service.Tag), invokeID, conn.ID(), mmsErr)
		return ConfirmedErrorPDU(invokeID, ServiceErrorFor(mmsErr))
	}

	return s.respond(conn, invokeID, response)
}

// respond кодирует ответ и заменяет его ошибкой, если ответ не помещается
// в согласованный размер PDU
func (s *Server) respond(conn *ServerConnection, invokeID uint32, response Service) []byte {
	node := ConfirmedResponseNode(invokeID, response)
	if size := node.Size(); size > int(conn.MaxPduSize()) {
		s.log.Warning("response %d to %s exceeds max PDU size (%d > %d)", invokeID, conn.ID(), size, conn.MaxPduSize())
		return ConfirmedErrorPDU(invokeID, ServiceErrorFor(ErrorServiceOther))
	}
	return node.Encode()
}

func (s *Server) status(conn *ServerConnection, extendedDerivation bool) Service {
	if s.options.onStatus != nil {
		s.options.onStatus(conn, extendedDerivation)
	}
	return &StatusResponse{
		LogicalStatus:  int(s.logicalStatus.Load()),
		PhysicalStatus: int(s.physicalStatus.Load()),
	}
}
