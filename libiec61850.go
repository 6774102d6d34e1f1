// Package libiec61850 собирает клиент и сервер IEC 61850 поверх стека
// ISO (RFC 1006, COTP, сеанс, представление, ACSE, MMS).
//
// Пакеты iec61850/client и iec61850/server дают полный API; здесь только
// короткие пути для типовых случаев.
package libiec61850

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/careychow/libIEC61850-sub000/iec61850/client"
	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/iec61850/server"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
)

// DefaultPort порт ISO-on-TCP
const DefaultPort = iso.DefaultTCPPort

// Dial подключается к серверу host:port с параметрами ассоциации по умолчанию
func Dial(ctx context.Context, host string, port int, opts ...client.Option) (*client.Connection, error) {
	return DialParameters(ctx, iso.NewConnectionParameters(host, port), opts...)
}

// DialParameters подключается с заданными параметрами ассоциации
// (селекторы, AP-title, пароль)
func DialParameters(ctx context.Context, params *iso.ConnectionParameters, opts ...client.Option) (*client.Connection, error) {
	c := client.NewConnection(opts...)
	if err := c.Connect(ctx, params); err != nil {
		return nil, fmt.Errorf("connect %s: %w", params.Address(), err)
	}
	return c, nil
}

// NewServer загружает модель из YAML или TOML файла и создаёт сервер
func NewServer(fs afero.Fs, modelPath string, opts ...server.Option) (*server.Server, error) {
	m, err := model.LoadFile(fs, modelPath)
	if err != nil {
		return nil, err
	}
	return server.New(m, opts...)
}
