package cotp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/careychow/libIEC61850-sub000/logger"
)

const (
	tpktRFC1006HeaderSize = 4
	cotpDataHeaderSize    = 3

	// DefaultMaxTpduSize максимальный размер TPDU, предлагаемый по умолчанию
	DefaultMaxTpduSize = 8192
	// MaxTpduSizeLimit верхняя граница настраиваемого размера TPDU
	MaxTpduSizeLimit = 16384
	// MinTpduSize наименьший размер TPDU класса 0 (ISO 8073)
	MinTpduSize = 128

	defaultPayloadBufferSize = 65536
	defaultWriteBufferSize   = MaxTpduSizeLimit + tpktRFC1006HeaderSize
)

// TPDU коды
const (
	tpduConnectionRequest = 0xe0
	tpduConnectionConfirm = 0xd0
	tpduData              = 0xf0
	tpduDisconnectRequest = 0x80
	tpduDisconnectConfirm = 0xc0
)

// Errors
var (
	ErrPayloadOverflow = errors.New("cotp: payload buffer overflow")
	ErrInvalidTpkt     = errors.New("cotp: invalid TPKT header")
	ErrSocketClosed    = errors.New("cotp: socket closed")
	ErrInvalidTpdu     = errors.New("cotp: invalid TPDU")
)

// TapFunc получает каждый отправленный и принятый TPKT пакет целиком
type TapFunc func(outgoing bool, tpkt []byte)

// connectionOptions содержит опции для создания Connection
type connectionOptions struct {
	payloadBufferSize int
	writeBufferSize   int
	maxTpduSize       int
	logger            logger.Logger
	tap               TapFunc
}

func defaultConnectionOptions() connectionOptions {
	return connectionOptions{
		payloadBufferSize: defaultPayloadBufferSize,
		writeBufferSize:   defaultWriteBufferSize,
		maxTpduSize:       DefaultMaxTpduSize,
		logger:            logger.NewLogger("cotp"),
	}
}

// ConnectionOption представляет опцию для настройки Connection
type ConnectionOption func(*connectionOptions)

// WithPayloadBufferSize устанавливает размер буфера сборки сообщения
func WithPayloadBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) {
		opts.payloadBufferSize = size
	}
}

// WithWriteBufferSize устанавливает размер буфера для записи
func WithWriteBufferSize(size int) ConnectionOption {
	return func(opts *connectionOptions) {
		opts.writeBufferSize = size
	}
}

// WithMaxTpduSize устанавливает максимальный размер TPDU в пределах
// [MinTpduSize, MaxTpduSizeLimit]
func WithMaxTpduSize(size int) ConnectionOption {
	return func(opts *connectionOptions) {
		if size > MaxTpduSizeLimit {
			size = MaxTpduSizeLimit
		}
		if size < MinTpduSize {
			size = MinTpduSize
		}
		opts.maxTpduSize = size
	}
}

// WithLogger устанавливает логгер
func WithLogger(l logger.Logger) ConnectionOption {
	return func(opts *connectionOptions) {
		opts.logger = l
	}
}

// WithTap подключает наблюдателя за трафиком
func WithTap(tap TapFunc) ConnectionOption {
	return func(opts *connectionOptions) {
		opts.tap = tap
	}
}

// Indication представляет результат операции COTP
type Indication int

const (
	IndicationOK                  Indication = iota // Операция успешна
	IndicationError                                 // Ошибка
	IndicationConnect                               // Индикация подключения
	IndicationData                                  // Индикация данных
	IndicationDisconnect                            // Индикация отключения
	IndicationMoreFragmentsFollow                   // Следуют дополнительные фрагменты
)

func (i Indication) String() string {
	switch i {
	case IndicationOK:
		return "OK"
	case IndicationError:
		return "ERROR"
	case IndicationConnect:
		return "CONNECT"
	case IndicationData:
		return "DATA"
	case IndicationDisconnect:
		return "DISCONNECT"
	case IndicationMoreFragmentsFollow:
		return "MORE_FRAGMENTS_FOLLOW"
	}
	return fmt.Sprintf("Indication(%d)", int(i))
}

// TpktState представляет состояние чтения TPKT пакета
type TpktState int

const (
	TpktPacketComplete TpktState = iota // Пакет полностью прочитан
	TpktWaiting                         // Ожидание данных
	TpktError                           // Ошибка чтения
)

// TSelector представляет транспортный селектор
type TSelector struct {
	Value []byte
}

// Options представляет опции COTP соединения
type Options struct {
	TSelSrc  TSelector
	TSelDst  TSelector
	TpduSize uint8 // Размер TPDU в виде степени двойки
}

// Connection представляет COTP соединение
type Connection struct {
	remoteRef      int
	localRef       int
	protocolClass  int
	conn           io.ReadWriteCloser
	options        Options
	maxTpduSize    int
	isLastDataUnit bool
	payload        []byte // Буфер сборки фрагментов
	writeBuffer    []byte // Буфер для записи TPKT пакета
	readBuffer     []byte // Буфер для чтения TPKT пакета
	packetSize     uint16 // Размер текущего пакета
	logger         logger.Logger
	tap            TapFunc
	writeMu        sync.Mutex
}

// NewConnection создает новое COTP соединение
func NewConnection(conn io.ReadWriteCloser, opts ...ConnectionOption) *Connection {
	options := defaultConnectionOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.writeBufferSize < options.maxTpduSize+tpktRFC1006HeaderSize {
		options.writeBufferSize = options.maxTpduSize + tpktRFC1006HeaderSize
	}

	c := &Connection{
		remoteRef:     -1,
		localRef:      1,
		protocolClass: -1,
		conn:          conn,
		maxTpduSize:   options.maxTpduSize,
		payload:       make([]byte, 0, options.payloadBufferSize),
		writeBuffer:   make([]byte, 0, options.writeBufferSize),
		readBuffer:    make([]byte, 0, 65535),
		logger:        options.logger,
		tap:           options.tap,
	}

	tsel := TSelector{Value: []byte{0, 1}}
	c.options.TSelSrc = tsel
	c.options.TSelDst = tsel

	c.SetTpduSize(c.maxTpduSize)

	return c
}

// GetTpduSize возвращает размер TPDU в байтах
func (c *Connection) GetTpduSize() int {
	return 1 << c.options.TpduSize
}

// SetTpduSize сохраняет наибольшую степень двойки, не превышающую
// min(tpduSize, максимальный размер соединения). Размер меньше
// MinTpduSize поднимается до MinTpduSize.
func (c *Connection) SetTpduSize(tpduSize int) {
	if tpduSize > c.maxTpduSize {
		tpduSize = c.maxTpduSize
	}
	if tpduSize < MinTpduSize {
		tpduSize = MinTpduSize
	}

	newTpduSize := 0
	for (2 << newTpduSize) <= tpduSize {
		newTpduSize++
	}

	c.options.TpduSize = uint8(newTpduSize)
}

// GetRemoteRef возвращает удаленную ссылку
func (c *Connection) GetRemoteRef() int {
	return c.remoteRef
}

// GetLocalRef возвращает локальную ссылку
func (c *Connection) GetLocalRef() int {
	return c.localRef
}

// GetPayload возвращает собранное сообщение
func (c *Connection) GetPayload() []byte {
	return c.payload
}

// ResetPayload сбрасывает буфер сборки
func (c *Connection) ResetPayload() {
	c.payload = c.payload[:0]
}

// Close закрывает транспортное соединение
func (c *Connection) Close() error {
	return c.conn.Close()
}

func (c *Connection) writeRfc1006Header(length int) {
	c.writeBuffer = c.writeBuffer[:0]
	c.writeBuffer = append(c.writeBuffer, 0x03, 0x00, byte(length>>8), byte(length&0xff))
}

func (c *Connection) writeDataTpduHeader(isLastUnit bool) {
	c.writeBuffer = append(c.writeBuffer, 0x02, tpduData)
	if isLastUnit {
		c.writeBuffer = append(c.writeBuffer, 0x80)
	} else {
		c.writeBuffer = append(c.writeBuffer, 0x00)
	}
}

func (c *Connection) writeOptions() {
	if c.options.TpduSize != 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc0, 0x01, c.options.TpduSize)
	}

	if len(c.options.TSelDst.Value) > 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc2, byte(len(c.options.TSelDst.Value)))
		c.writeBuffer = append(c.writeBuffer, c.options.TSelDst.Value...)
	}

	if len(c.options.TSelSrc.Value) > 0 {
		c.writeBuffer = append(c.writeBuffer, 0xc1, byte(len(c.options.TSelSrc.Value)))
		c.writeBuffer = append(c.writeBuffer, c.options.TSelSrc.Value...)
	}
}

func (c *Connection) getOptionsLength() int {
	length := 0

	if c.options.TpduSize != 0 {
		length += 3
	}

	if len(c.options.TSelDst.Value) > 0 {
		length += 2 + len(c.options.TSelDst.Value)
	}

	if len(c.options.TSelSrc.Value) > 0 {
		length += 2 + len(c.options.TSelSrc.Value)
	}

	return length
}

// sendBuffer отправляет буфер в сокет целиком
func (c *Connection) sendBuffer() error {
	if c.logger != nil {
		c.logger.Debug("TX: % x", c.writeBuffer)
	}
	if c.tap != nil {
		c.tap(true, c.writeBuffer)
	}

	for sent := 0; sent < len(c.writeBuffer); {
		n, err := c.conn.Write(c.writeBuffer[sent:])
		if err != nil {
			return err
		}
		sent += n
	}

	c.writeBuffer = c.writeBuffer[:0]
	return nil
}

// IsoConnectionParameters представляет параметры ISO соединения
type IsoConnectionParameters struct {
	RemoteTSelector TSelector
	LocalTSelector  TSelector
}

// SendConnectionRequestMessage отправляет CR TPDU (клиентская сторона)
func (c *Connection) SendConnectionRequestMessage(params *IsoConnectionParameters) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if params != nil {
		c.options.TSelDst = params.RemoteTSelector
		c.options.TSelSrc = params.LocalTSelector
	}

	optionsLength := c.getOptionsLength()
	cotpRequestSize := optionsLength + 6
	conRequestSize := cotpRequestSize + 5

	c.writeRfc1006Header(conRequestSize)

	c.writeBuffer = append(c.writeBuffer,
		byte(cotpRequestSize), // LI
		tpduConnectionRequest,
		0x00, 0x00, // DST REF
		byte(c.localRef>>8), byte(c.localRef&0xff), // SRC REF
		0x00, // Class
	)

	c.writeOptions()

	return c.sendBuffer()
}

// SendConnectionResponseMessage отправляет CC TPDU (серверная сторона)
func (c *Connection) SendConnectionResponseMessage() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	optionsLength := c.getOptionsLength()
	messageLength := 11 + optionsLength

	c.writeRfc1006Header(messageLength)

	protocolClass := c.protocolClass
	if protocolClass < 0 {
		protocolClass = 0
	}

	c.writeBuffer = append(c.writeBuffer, byte(6+optionsLength), tpduConnectionConfirm,
		byte(c.remoteRef>>8), byte(c.remoteRef&0xff),
		byte(c.localRef>>8), byte(c.localRef&0xff),
		byte(protocolClass))

	c.writeOptions()

	return c.sendBuffer()
}

// SendDisconnectRequestMessage отправляет DR TPDU
func (c *Connection) SendDisconnectRequestMessage() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.writeRfc1006Header(11)

	c.writeBuffer = append(c.writeBuffer, 6, tpduDisconnectRequest,
		byte(c.remoteRef>>8), byte(c.remoteRef&0xff),
		byte(c.localRef>>8), byte(c.localRef&0xff),
		0x00) // причина: не указана

	return c.sendBuffer()
}

func (c *Connection) parseOptions(buffer []byte) error {
	bufPos := 0

	for bufPos < len(buffer) {
		if bufPos+1 >= len(buffer) {
			return errors.New("invalid option: missing type or length")
		}

		optionType := buffer[bufPos]
		optionLen := int(buffer[bufPos+1])
		bufPos += 2

		if bufPos+optionLen > len(buffer) {
			return fmt.Errorf("option too long: optionLen=%d, remaining=%d", optionLen, len(buffer)-bufPos)
		}

		switch optionType {
		case 0xc0: // TPDU size
			if optionLen != 1 {
				return errors.New("invalid TPDU size option length")
			}
			if exp := buffer[bufPos]; exp < 16 {
				c.SetTpduSize(1 << exp)
			}

		case 0xc1: // удаленный T-селектор
			if optionLen > 16 {
				return errors.New("t-selector too long")
			}
			c.options.TSelSrc.Value = append([]byte(nil), buffer[bufPos:bufPos+optionLen]...)

		case 0xc2: // локальный T-селектор
			if optionLen > 16 {
				return errors.New("t-selector too long")
			}
			c.options.TSelDst.Value = append([]byte(nil), buffer[bufPos:bufPos+optionLen]...)

		case 0xc6: // additional option selection
			if optionLen != 1 {
				return errors.New("invalid additional option length")
			}
		}

		bufPos += optionLen
	}

	return nil
}

// parseConnectTpdu разбирает CR и CC: DST-REF, SRC-REF, класс, опции
func (c *Connection) parseConnectTpdu(buffer []byte) error {
	if len(buffer) < 5 {
		return errors.New("connect TPDU too short")
	}

	c.remoteRef = int(buffer[2])<<8 | int(buffer[3])
	c.protocolClass = int(buffer[4])

	return c.parseOptions(buffer[5:])
}

func (c *Connection) addPayloadToBuffer(buffer []byte) error {
	if len(c.payload)+len(buffer) > cap(c.payload) {
		return ErrPayloadOverflow
	}

	c.payload = append(c.payload, buffer...)
	return nil
}

func (c *Connection) parseCotpMessage() (Indication, error) {
	if len(c.readBuffer) < tpktRFC1006HeaderSize+2 {
		return IndicationError, errors.New("COTP message too short")
	}

	buffer := c.readBuffer[tpktRFC1006HeaderSize:]

	lenField := int(buffer[0])
	if lenField+1 > len(buffer) {
		return IndicationError, fmt.Errorf("%w: len=%d, tpduLength=%d", ErrInvalidTpdu, lenField, len(buffer))
	}
	if lenField < 2 {
		return IndicationError, fmt.Errorf("%w: length indicator %d", ErrInvalidTpdu, lenField)
	}

	switch buffer[1] {
	case tpduConnectionRequest, tpduConnectionConfirm:
		// LI, код, DST-REF, SRC-REF, класс
		if lenField < 6 {
			return IndicationError, fmt.Errorf("%w: connect TPDU length indicator %d", ErrInvalidTpdu, lenField)
		}
		if err := c.parseConnectTpdu(buffer[2 : lenField+1]); err != nil {
			return IndicationError, err
		}
		return IndicationConnect, nil

	case tpduData:
		if lenField != 2 {
			return IndicationError, fmt.Errorf("%w: DT header length %d", ErrInvalidTpdu, lenField)
		}

		c.isLastDataUnit = buffer[2]&0x80 != 0

		if err := c.addPayloadToBuffer(buffer[3:]); err != nil {
			return IndicationError, err
		}

		if c.isLastDataUnit {
			return IndicationData, nil
		}
		return IndicationMoreFragmentsFollow, nil

	case tpduDisconnectRequest, tpduDisconnectConfirm:
		return IndicationDisconnect, nil

	default:
		return IndicationError, fmt.Errorf("unknown TPDU type: 0x%02x", buffer[1])
	}
}

// ParseIncomingMessage разбирает прочитанный TPKT пакет
func (c *Connection) ParseIncomingMessage() (Indication, error) {
	if c.logger != nil && len(c.readBuffer) > 0 {
		c.logger.Debug("RX: % x", c.readBuffer)
	}
	if c.tap != nil && len(c.readBuffer) > 0 {
		c.tap(false, c.readBuffer)
	}

	indication, err := c.parseCotpMessage()
	c.readBuffer = c.readBuffer[:0]
	c.packetSize = 0
	return indication, err
}

// SendDataMessage отправляет сообщение, разбивая его на DT TPDU
// по GetTpduSize()-3 байт
func (c *Connection) SendDataMessage(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	fragmentPayloadSize := c.GetTpduSize() - cotpDataHeaderSize

	fragments := 1
	if len(payload) > fragmentPayloadSize {
		fragments = (len(payload) + fragmentPayloadSize - 1) / fragmentPayloadSize
	}

	currentBufPos := 0

	for ; fragments > 0; fragments-- {
		currentLimit := len(payload)
		lastUnit := fragments == 1
		if !lastUnit {
			currentLimit = currentBufPos + fragmentPayloadSize
		}

		payloadFragment := payload[currentBufPos:currentLimit]

		c.writeRfc1006Header(tpktRFC1006HeaderSize + cotpDataHeaderSize + len(payloadFragment))
		c.writeDataTpduHeader(lastUnit)
		c.writeBuffer = append(c.writeBuffer, payloadFragment...)

		if err := c.sendBuffer(); err != nil {
			return fmt.Errorf("failed to send fragment: %w", err)
		}

		currentBufPos = currentLimit
	}

	return nil
}

// ReadToTpktBuffer читает данные в TPKT буфер.
// Проверяет контекст перед блокирующими операциями чтения.
func (c *Connection) ReadToTpktBuffer(ctx context.Context) (TpktState, error) {
	if ctx.Err() != nil {
		return TpktError, ctx.Err()
	}

	bufPos := len(c.readBuffer)

	// TPKT заголовок (4 байта)
	if bufPos < tpktRFC1006HeaderSize {
		readBytes := make([]byte, tpktRFC1006HeaderSize-bufPos)
		n, err := c.conn.Read(readBytes)
		if err != nil {
			return TpktError, readError(err)
		}

		c.readBuffer = append(c.readBuffer, readBytes[:n]...)
		bufPos = len(c.readBuffer)

		if bufPos < tpktRFC1006HeaderSize {
			return TpktWaiting, nil
		}

		if c.readBuffer[0] != 0x03 || c.readBuffer[1] != 0x00 {
			return TpktError, ErrInvalidTpkt
		}

		c.packetSize = uint16(c.readBuffer[2])<<8 | uint16(c.readBuffer[3])

		if c.packetSize <= tpktRFC1006HeaderSize {
			return TpktError, fmt.Errorf("%w: length %d", ErrInvalidTpkt, c.packetSize)
		}
	}

	if bufPos >= int(c.packetSize) {
		return TpktPacketComplete, nil
	}

	if ctx.Err() != nil {
		return TpktError, ctx.Err()
	}

	readBytes := make([]byte, int(c.packetSize)-bufPos)
	n, err := c.conn.Read(readBytes)
	if err != nil {
		return TpktError, readError(err)
	}

	c.readBuffer = append(c.readBuffer, readBytes[:n]...)

	if len(c.readBuffer) < int(c.packetSize) {
		return TpktWaiting, nil
	}

	return TpktPacketComplete, nil
}

func readError(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrSocketClosed
	}
	return fmt.Errorf("read error: %w", err)
}

// ReadMessage читает TPKT пакеты до получения законченной индикации:
// соединения, отключения или полностью собранного сообщения.
// Для IndicationData собранные данные доступны через GetPayload.
func (c *Connection) ReadMessage(ctx context.Context) (Indication, error) {
	for {
		state, err := c.ReadToTpktBuffer(ctx)
		if err != nil {
			return IndicationError, err
		}
		if state == TpktWaiting {
			continue
		}

		indication, err := c.ParseIncomingMessage()
		if err != nil {
			return IndicationError, err
		}

		if indication != IndicationMoreFragmentsFollow {
			return indication, nil
		}
	}
}
