// Package server реализует сервер IEC 61850 поверх MMS сервера: модель
// данных в кэше значений, отчёты, управление и политики записи.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

var (
	ErrUnknownReference = errors.New("iec61850: unknown object reference")
	ErrTypeMismatch     = errors.New("iec61850: value type mismatch")
)

// AccessPolicy политика записи атрибутов функциональной связи
type AccessPolicy int

const (
	AccessPolicyDeny AccessPolicy = iota
	AccessPolicyAllow
)

// WriteAccessHandler проверяет запись клиента в атрибут. При
// mms.DataAccessSuccess значение записывается в модель.
type WriteAccessHandler func(ref model.ObjectReference, value *variant.Variant, conn *mms.ServerConnection) mms.DataAccessError

// ConnectionHandler уведомляется о подключении и отключении клиентов
type ConnectionHandler func(conn *mms.ServerConnection, connected bool)

type options struct {
	logger       logger.Logger
	mmsOptions   []mms.ServerOption
	policies     map[model.FunctionalConstraint]AccessPolicy
	onConnection ConnectionHandler
}

// Option настраивает Server
type Option func(*options)

// WithLogger задаёт логгер сервера
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMmsOptions передаёт опции MMS серверу
func WithMmsOptions(opts ...mms.ServerOption) Option {
	return func(o *options) {
		o.mmsOptions = append(o.mmsOptions, opts...)
	}
}

// WithWriteAccessPolicy задаёт политику записи для fc. По умолчанию
// разрешена запись SP и SV, запрещена DC и CF.
func WithWriteAccessPolicy(fc model.FunctionalConstraint, policy AccessPolicy) Option {
	return func(o *options) {
		o.policies[fc] = policy
	}
}

// WithConnectionHandler задаёт обработчик подключений
func WithConnectionHandler(h ConnectionHandler) Option {
	return func(o *options) {
		o.onConnection = h
	}
}

type writeHandler struct {
	ref     model.ObjectReference
	handler WriteAccessHandler
}

type attributeEntry struct {
	ref model.ObjectReference
	da  *model.DataAttribute
}

// Server сервер IEC 61850. Значения модели хранятся в кэше MMS сервера
// и защищены его блокировкой модели: блокировки RCB и объектов
// управления берутся только внутри неё.
type Server struct {
	model   *model.Model
	mms     *mms.Server
	log     logger.Logger
	options options

	attributes    map[string]*attributeEntry
	writeHandlers map[string]writeHandler
	controls      map[string]*ControlObject
	reports       map[string]*ReportControl
	observers     map[string][]observer

	scheduler *scheduler
	done      chan struct{}
	closeOnce sync.Once
}

// New создаёт сервер модели m
func New(m *model.Model, opts ...Option) (*Server, error) {
	o := options{
		logger: logger.NewLogger("iec61850"),
		policies: map[model.FunctionalConstraint]AccessPolicy{
			model.FCSP: AccessPolicyAllow,
			model.FCSV: AccessPolicyAllow,
			model.FCDC: AccessPolicyDeny,
			model.FCCF: AccessPolicyDeny,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	device, err := m.Device()
	if err != nil {
		return nil, err
	}

	s := &Server{
		model:         m,
		log:           o.logger,
		options:       o,
		attributes:    make(map[string]*attributeEntry),
		writeHandlers: make(map[string]writeHandler),
		controls:      make(map[string]*ControlObject),
		reports:       make(map[string]*ReportControl),
		observers:     make(map[string][]observer),
		scheduler:     newScheduler(),
		done:          make(chan struct{}),
	}

	mmsOpts := append([]mms.ServerOption{
		mms.WithServerLogger(o.logger),
		mms.WithReadHandler(s.handleRead),
		mms.WithWriteHandler(s.handleWrite),
		mms.WithServerConnectionHandler(s.handleConnection),
		mms.WithNamedVariableListHandler(s.handleVariableList),
	}, o.mmsOptions...)
	s.mms = mms.NewServer(device, mmsOpts...)

	if err := s.initialize(); err != nil {
		return nil, err
	}

	go s.scheduler.run(s.done)
	return s, nil
}

func key(domainID, itemID string) string {
	return domainID + "/" + itemID
}

func (s *Server) initialize() error {
	err := s.model.InitialValues(func(ref model.ObjectReference, value *variant.Variant) {
		cached := s.mms.GetValueFromCache(ref.DomainID(), ref.ItemID())
		if cached == nil {
			s.log.Warning("no cache entry for %s", ref)
			return
		}
		if err := cached.Update(value); err != nil {
			s.log.Warning("initial value of %s: %v", ref, err)
		}
	})
	if err != nil {
		return err
	}

	err = s.model.WalkAttributes(func(ref model.ObjectReference, da *model.DataAttribute) error {
		s.attributes[key(ref.DomainID(), ref.ItemID())] = &attributeEntry{ref: ref, da: da}
		return nil
	})
	if err != nil {
		return err
	}

	s.model.WalkControllable(func(ref model.ObjectReference, do *model.DataObject) {
		control := newControlObject(s, ref)
		s.controls[key(ref.DomainID(), control.name)] = control
	})

	for _, rcb := range s.model.ReportControlBlocks() {
		rc, err := newReportControl(s, rcb)
		if err != nil {
			return err
		}
		s.reports[key(rc.domain, rc.itemID)] = rc
	}
	return nil
}

// Model возвращает модель данных сервера
func (s *Server) Model() *model.Model {
	return s.model
}

// MmsServer возвращает MMS сервер
func (s *Server) MmsServer() *mms.Server {
	return s.mms
}

// LockModel захватывает блокировку модели для прямого доступа к кэшу
// MmsServer().Cache. Методы Update* и GetAttributeValue захватывают её сами.
func (s *Server) LockModel() {
	s.mms.LockModel()
}

// UnlockModel освобождает блокировку модели
func (s *Server) UnlockModel() {
	s.mms.UnlockModel()
}

// ListenAndServe принимает соединения по TCP адресу до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	return s.mms.ListenAndServe(ctx, address)
}

// Serve принимает соединения из l до отмены ctx
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	return s.mms.Serve(ctx, l)
}

// ServeConn обслуживает одно транспортное соединение
func (s *Server) ServeConn(conn net.Conn) {
	s.mms.ServeConn(conn)
}

// Addr возвращает адрес, на котором сервер принимает соединения
func (s *Server) Addr() net.Addr {
	return s.mms.Addr()
}

// Close останавливает обработку отчётов и закрывает соединения
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return s.mms.Close()
}

// HandleWriteAccess регистрирует обработчик записи атрибута ref и всех
// его компонент. Обработчик имеет приоритет над политикой записи.
func (s *Server) HandleWriteAccess(ref model.ObjectReference, handler WriteAccessHandler) error {
	if ref.FC == model.FCNone || !s.model.Exists(ref) {
		return fmt.Errorf("%w: %s", ErrUnknownReference, ref)
	}

	s.mms.LockModel()
	defer s.mms.UnlockModel()

	s.writeHandlers[key(ref.DomainID(), ref.ItemID())] = writeHandler{ref: ref, handler: handler}
	return nil
}

// SetWriteAccessPolicy меняет политику записи для fc
func (s *Server) SetWriteAccessPolicy(fc model.FunctionalConstraint, policy AccessPolicy) {
	s.mms.LockModel()
	defer s.mms.UnlockModel()

	s.options.policies[fc] = policy
}

// ControlObject возвращает объект управления по ссылке "LD/LN.DO"
func (s *Server) ControlObject(ref model.ObjectReference) *ControlObject {
	return s.controls[key(ref.DomainID(), controlName(ref))]
}

// ReportControl возвращает RCB по ссылке "LD/LN.RP.name" или "LD/LN.BR.name"
func (s *Server) ReportControl(ref model.ObjectReference) *ReportControl {
	return s.reports[key(ref.DomainID(), ref.ItemID())]
}

func (s *Server) handleRead(conn *mms.ServerConnection, domain *mms.Domain, itemID string) *variant.Variant {
	parts := strings.Split(itemID, "$")
	if len(parts) < 4 || parts[1] != model.FCCO.String() || parts[len(parts)-1] != "SBO" {
		return nil
	}

	control := s.controls[key(domain.Name, controlItem(parts[:len(parts)-1]))]
	if control == nil {
		return nil
	}
	return control.selectByRead(conn)
}

func (s *Server) handleWrite(conn *mms.ServerConnection, domain *mms.Domain, itemID string, value *variant.Variant) mms.DataAccessError {
	parts := strings.Split(itemID, "$")
	if len(parts) < 2 {
		return mms.InvalidAddress
	}

	fc := model.ParseFunctionalConstraint(parts[1])
	switch fc {
	case model.FCNone:
		return mms.ObjectAccessDenied
	case model.FCCO:
		// ответ на Oper может быть отложен, это допустимо только для
		// записи одной переменной
		if !conn.SingleVariableWrite() {
			return mms.ObjectAccessDenied
		}
		return s.writeControl(conn, domain.Name, parts, value)
	case model.FCRP, model.FCBR:
		return s.writeReportControl(conn, domain.Name, parts, value)
	}

	if handler, ref := s.writeHandler(domain.Name, parts); handler != nil {
		if result := handler(ref, value, conn); result != mms.DataAccessSuccess {
			return result
		}
		return s.applyWrite(domain.Name, itemID, value)
	}

	switch fc {
	case model.FCSP, model.FCSV, model.FCDC, model.FCCF:
		if s.options.policies[fc] != AccessPolicyAllow {
			return mms.ObjectAccessDenied
		}
		return s.applyWrite(domain.Name, itemID, value)
	}
	return mms.ObjectAccessDenied
}

// writeHandler ищет обработчик записи атрибута или его предка
func (s *Server) writeHandler(domainID string, parts []string) (WriteAccessHandler, model.ObjectReference) {
	for n := len(parts); n > 2; n-- {
		k := key(domainID, strings.Join(parts[:n], "$"))
		if h, ok := s.writeHandlers[k]; ok {
			return h.handler, h.ref
		}
	}
	return nil, model.ObjectReference{}
}

func (s *Server) applyWrite(domainID, itemID string, value *variant.Variant) mms.DataAccessError {
	err := s.updateLocked(domainID, itemID, -1, func(v *variant.Variant) error {
		return v.Update(value)
	})
	switch {
	case err == nil:
		return mms.DataAccessSuccess
	case errors.Is(err, ErrUnknownReference):
		return mms.ObjectNonExistent
	}
	return mms.TypeInconsistent
}

func (s *Server) writeControl(conn *mms.ServerConnection, domainID string, parts []string, value *variant.Variant) mms.DataAccessError {
	if len(parts) < 4 {
		return mms.ObjectAccessDenied
	}
	control := s.controls[key(domainID, controlItem(parts[:len(parts)-1]))]
	if control == nil {
		return mms.ObjectAccessDenied
	}
	return control.write(conn, parts[len(parts)-1], value)
}

func (s *Server) writeReportControl(conn *mms.ServerConnection, domainID string, parts []string, value *variant.Variant) mms.DataAccessError {
	if len(parts) != 4 {
		return mms.ObjectAccessDenied
	}
	rc := s.reports[key(domainID, strings.Join(parts[:3], "$"))]
	if rc == nil {
		return mms.ObjectAccessDenied
	}
	return rc.write(conn, parts[3], value, time.Now())
}

func (s *Server) handleConnection(conn *mms.ServerConnection, event iso.ConnectionEvent) {
	if event == iso.ConnectionClosed {
		s.mms.LockModel()
		for _, rc := range s.reports {
			rc.connectionClosed(conn, time.Now())
		}
		s.mms.UnlockModel()

		for _, control := range s.controls {
			control.connectionClosed(conn)
		}
	}

	if s.options.onConnection != nil {
		s.options.onConnection(conn, event == iso.ConnectionOpened)
	}
}

func (s *Server) handleVariableList(conn *mms.ServerConnection, event mms.NamedVariableListEvent, scope mms.ObjectScope,
	domain *mms.Domain, list *mms.NamedVariableList,
) mms.DataAccessError {
	if event == mms.NamedVariableListCreated {
		return s.checkDataSetMembers(list)
	}

	var ref string
	switch scope {
	case mms.ScopeDomain:
		ref = domain.Name + "/" + list.Name
	case mms.ScopeAssociation:
		ref = "@" + list.Name
	default:
		return mms.DataAccessSuccess
	}

	s.mms.LockModel()
	defer s.mms.UnlockModel()

	for _, rc := range s.reports {
		if rc.usesDataSet(conn, ref) {
			s.log.Info("data set %s is used by %s", ref, rc.rcb.Reference())
			return mms.ObjectAccessDenied
		}
	}
	return mms.DataAccessSuccess
}

// controlName возвращает имя MMS объекта управления без FC: "LN$DO"
func controlName(ref model.ObjectReference) string {
	return ref.WithFC(model.FCNone).ItemID()
}

// controlItem преобразует "LN", "CO", "DO"... в имя объекта управления
func controlItem(parts []string) string {
	return parts[0] + "$" + strings.Join(parts[2:], "$")
}
