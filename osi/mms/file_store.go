package mms

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DefaultFileStoreBasePath каталог файлового хранилища VMD по умолчанию
const DefaultFileStoreBasePath = "./vmd-filestore/"

// DefaultMaxOpenFiles число одновременно открытых файлов на соединение
const DefaultMaxOpenFiles = 5

// служебные октеты ответов fileRead и fileDirectory
const (
	fileReadOverhead       = 20
	fileDirectoryOverhead  = 30
	directoryEntryOverhead = 27
)

// NewFileStore создаёт файловое хранилище в каталоге basePath
func NewFileStore(basePath string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), basePath)
}

// openFile файл, открытый сервисом fileOpen (FRSM)
type openFile struct {
	name string
	file afero.File
}

// openFiles таблица FRSM одного соединения
type openFiles struct {
	mu     sync.Mutex
	limit  int
	nextID int32
	files  map[int32]*openFile
}

func newOpenFiles(limit int) *openFiles {
	return &openFiles{limit: limit, files: make(map[int32]*openFile)}
}

func (t *openFiles) add(name string, file afero.File) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.files) >= t.limit {
		return 0, false
	}
	t.nextID++
	t.files[t.nextID] = &openFile{name: name, file: file}
	return t.nextID, true
}

func (t *openFiles) get(frsmID int32) *openFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.files[frsmID]
}

func (t *openFiles) remove(frsmID int32) *openFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.files[frsmID]
	delete(t.files, frsmID)
	return f
}

func (t *openFiles) isOpen(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, f := range t.files {
		if f.name == name {
			return true
		}
	}
	return false
}

func (t *openFiles) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, f := range t.files {
		f.file.Close()
		delete(t.files, id)
	}
}

// cleanFileName приводит имя файла MMS к пути внутри хранилища
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Clean("/" + name)
}

func fileError(err error) Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrorFileFileNonExistent
	case errors.Is(err, fs.ErrPermission), errors.Is(err, os.ErrInvalid):
		return ErrorFileFileAccessDenied
	}
	return ErrorFileOther
}

func (s *Server) fileOpen(conn *ServerConnection, request *FileOpenRequest) (Service, Error) {
	name := cleanFileName(request.FileName)

	info, err := s.files.Stat(name)
	if err != nil {
		return nil, fileError(err)
	}
	if info.IsDir() {
		return nil, ErrorFileFileAccessDenied
	}

	file, err := s.files.Open(name)
	if err != nil {
		return nil, fileError(err)
	}
	if request.InitialPosition > 0 {
		if int64(request.InitialPosition) > info.Size() {
			file.Close()
			return nil, ErrorFilePositionInvalid
		}
		if _, err := file.Seek(int64(request.InitialPosition), io.SeekStart); err != nil {
			file.Close()
			return nil, ErrorFilePositionInvalid
		}
	}

	frsmID, ok := conn.files.add(name, file)
	if !ok {
		file.Close()
		return nil, ErrorResourceCapabilityUnavailable
	}

	s.log.Debug("file %s opened as FRSM %d by %s", name, frsmID, conn.ID())
	return &FileOpenResponse{
		FrsmID:       frsmID,
		Size:         uint32(info.Size()),
		LastModified: info.ModTime(),
	}, ErrorNone
}

func (s *Server) fileRead(conn *ServerConnection, frsmID int32) (Service, Error) {
	f := conn.files.get(frsmID)
	if f == nil {
		return nil, ErrorFileOther
	}

	blockSize := int(conn.MaxPduSize()) - fileReadOverhead
	if blockSize <= 0 {
		return nil, ErrorResourceOther
	}

	data := make([]byte, blockSize)
	n, err := io.ReadFull(f.file, data)
	switch {
	case err == nil:
		return &FileReadResponse{Data: data, MoreFollows: true}, ErrorNone
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return &FileReadResponse{Data: data[:n], MoreFollows: false}, ErrorNone
	}
	return nil, fileError(err)
}

func (s *Server) fileClose(conn *ServerConnection, frsmID int32) (Service, Error) {
	f := conn.files.remove(frsmID)
	if f == nil {
		return nil, ErrorFileOther
	}
	f.file.Close()
	return FileCloseResponse, ErrorNone
}

func (s *Server) fileDelete(conn *ServerConnection, request *FileDeleteRequest) (Service, Error) {
	name := cleanFileName(request.FileName)

	info, err := s.files.Stat(name)
	if err != nil {
		return nil, fileError(err)
	}
	if info.IsDir() {
		return nil, ErrorFileFileAccessDenied
	}
	if s.isFileOpen(name) {
		return nil, ErrorFileFileBusy
	}
	if err := s.files.Remove(name); err != nil {
		return nil, ErrorFileFileAccessDenied
	}

	s.log.Info("file %s deleted by %s", name, conn.ID())
	return FileDeleteResponse, ErrorNone
}

func (s *Server) fileRename(conn *ServerConnection, request *FileRenameRequest) (Service, Error) {
	current := cleanFileName(request.CurrentFileName)
	target := cleanFileName(request.NewFileName)

	if _, err := s.files.Stat(current); err != nil {
		return nil, fileError(err)
	}
	if _, err := s.files.Stat(target); err == nil {
		return nil, ErrorFileDuplicateFilename
	}
	if s.isFileOpen(current) {
		return nil, ErrorFileFileBusy
	}
	if err := s.files.Rename(current, target); err != nil {
		return nil, ErrorFileFileAccessDenied
	}

	s.log.Info("file %s renamed to %s by %s", current, target, conn.ID())
	return FileRenameResponse, ErrorNone
}

func (s *Server) fileDirectory(conn *ServerConnection, request *FileDirectoryRequest) (Service, Error) {
	entries, err := s.directoryEntries(request.FileSpecification)
	if err != nil {
		return nil, fileError(err)
	}

	start := 0
	if request.ContinueAfter != "" {
		start = sort.Search(len(entries), func(i int) bool {
			return entries[i].Name > request.ContinueAfter
		})
	}

	response := &FileDirectoryResponse{}
	size := fileDirectoryOverhead
	for _, entry := range entries[start:] {
		size += len(entry.Name) + directoryEntryOverhead
		if size > int(conn.MaxPduSize()) {
			response.MoreFollows = true
			break
		}
		response.Entries = append(response.Entries, entry)
	}
	return response, ErrorNone
}

// directoryEntries возвращает отсортированный список файлов каталога.
// Спецификация, указывающая на файл, даёт одну запись.
func (s *Server) directoryEntries(specification string) ([]FileEntry, error) {
	dir := cleanFileName(specification)

	info, err := s.files.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []FileEntry{{
			Name:         strings.TrimPrefix(dir, "/"),
			Size:         uint32(info.Size()),
			LastModified: info.ModTime(),
		}}, nil
	}

	infos, err := afero.ReadDir(s.files, dir)
	if err != nil {
		return nil, err
	}

	prefix := strings.TrimPrefix(dir, "/")
	if prefix != "" {
		prefix += "/"
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		entry := FileEntry{
			Name:         prefix + info.Name(),
			Size:         uint32(info.Size()),
			LastModified: info.ModTime(),
		}
		if info.IsDir() {
			entry.Name += "/"
			entry.Size = 0
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *Server) isFileOpen(name string) bool {
	for _, conn := range s.Connections() {
		if conn.files.isOpen(name) {
			return true
		}
	}
	return false
}
