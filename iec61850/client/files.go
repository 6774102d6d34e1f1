package client

import (
	"context"
	"errors"

	"github.com/careychow/libIEC61850-sub000/osi/mms"
)

// FileDirectory возвращает содержимое каталога сервера. Пустое имя
// означает корень файлового хранилища.
func (c *Connection) FileDirectory(ctx context.Context, directory string) ([]mms.FileEntry, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}

	var (
		entries       []mms.FileEntry
		continueAfter string
	)
	for {
		response, err := conn.GetFileDirectory(ctx, directory, continueAfter)
		if err != nil {
			return nil, wrap(err)
		}
		entries = append(entries, response.Entries...)
		if !response.MoreFollows || len(response.Entries) == 0 {
			return entries, nil
		}
		continueAfter = response.Entries[len(response.Entries)-1].Name
	}
}

// GetFile читает файл, передавая блоки handler. Чтение прекращается, если
// handler вернул false; это не считается ошибкой.
func (c *Connection) GetFile(ctx context.Context, fileName string, handler func(data []byte) bool) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	err = conn.GetFile(ctx, fileName, handler)
	if errors.Is(err, mms.ErrStopped) {
		return nil
	}
	return wrap(err)
}

// DeleteFile удаляет файл на сервере
func (c *Connection) DeleteFile(ctx context.Context, fileName string) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	return wrap(conn.FileDelete(ctx, fileName))
}
