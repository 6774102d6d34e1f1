package mms

import (
	"fmt"
	"time"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// FileName ::= SEQUENCE OF GraphicString
const tagGraphicString = 0x19

func fileNameNode(tag uint32, name string) *ber.Node {
	return ber.Constructed(tag, ber.String(tagGraphicString, name))
}

// parseFileName склеивает элементы FileName в одну строку
func parseFileName(tlv ber.TLV) (string, error) {
	parts, err := tlv.Children()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	var name string
	for _, part := range parts {
		if part.Tag != tagGraphicString {
			return "", fmt.Errorf("%w: file name 0x%02x", ErrUnexpectedTag, part.Tag)
		}
		name += part.String()
	}
	return name, nil
}

// FileOpenRequest запрос fileOpen:
//
//	FileOpen-Request ::= SEQUENCE {
//	  fileName        [0] IMPLICIT FileName,
//	  initialPosition [1] IMPLICIT Unsigned32
//	}
type FileOpenRequest struct {
	FileName        string
	InitialPosition uint32
}

func (r *FileOpenRequest) Node() *ber.Node {
	return ber.Constructed(serviceFileOpen,
		fileNameNode(0xa0, r.FileName),
		ber.Unsigned(0x81, uint64(r.InitialPosition)),
	)
}

func ParseFileOpenRequest(service ber.TLV) (*FileOpenRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	request := &FileOpenRequest{}
	var named bool
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			if request.FileName, err = parseFileName(field); err != nil {
				return nil, err
			}
			named = true
		case 0x81:
			request.InitialPosition = field.Uint()
		}
	}
	if !named {
		return nil, fmt.Errorf("%w: fileOpen without file name", ErrInvalidPDU)
	}
	return request, nil
}

// FileAttributes ::= SEQUENCE {
//
//	sizeOfFile   [0] IMPLICIT Unsigned32,
//	lastModified [1] IMPLICIT GeneralizedTime OPTIONAL
//
// }
func fileAttributesNode(size uint32, lastModified time.Time) *ber.Node {
	attributes := ber.Constructed(0xa1, ber.Unsigned(0x80, uint64(size)))
	if !lastModified.IsZero() {
		attributes.Add(ber.String(0x81, lastModified.UTC().Format(generalizedTimeLayout)))
	}
	return attributes
}

func parseFileAttributes(tlv ber.TLV) (uint32, time.Time, error) {
	fields, err := tlv.Children()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	var size uint32
	var lastModified time.Time
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			size = field.Uint()
		case 0x81:
			if lastModified, err = parseGeneralizedTime(field.String()); err != nil {
				return 0, time.Time{}, err
			}
		}
	}
	return size, lastModified, nil
}

// FileOpenResponse ответ fileOpen:
//
//	FileOpen-Response ::= SEQUENCE {
//	  frsmID         [0] IMPLICIT Integer32,
//	  fileAttributes [1] IMPLICIT FileAttributes
//	}
type FileOpenResponse struct {
	FrsmID       int32
	Size         uint32
	LastModified time.Time
}

func (r *FileOpenResponse) Node() *ber.Node {
	return ber.Constructed(serviceFileOpen,
		ber.Signed(0x80, int64(r.FrsmID)),
		fileAttributesNode(r.Size, r.LastModified),
	)
}

func ParseFileOpenResponse(service ber.TLV) (*FileOpenResponse, error) {
	if service.Tag != serviceFileOpen {
		return nil, fmt.Errorf("%w: expected fileOpen response, got 0x%x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &FileOpenResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.FrsmID = int32(field.Int())
		case 0xa1:
			if response.Size, response.LastModified, err = parseFileAttributes(field); err != nil {
				return nil, err
			}
		}
	}
	return response, nil
}

// FileReadRequest запрос fileRead: FileRead-Request ::= Integer32 (frsmID)
type FileReadRequest struct {
	FrsmID int32
}

func (r *FileReadRequest) Node() *ber.Node {
	return ber.Signed(serviceFileReadRequest, int64(r.FrsmID))
}

// FileReadResponse ответ fileRead:
//
//	FileRead-Response ::= SEQUENCE {
//	  fileData    [0] IMPLICIT OCTET STRING,
//	  moreFollows [1] IMPLICIT BOOLEAN DEFAULT TRUE
//	}
type FileReadResponse struct {
	Data        []byte
	MoreFollows bool
}

func (r *FileReadResponse) Node() *ber.Node {
	response := ber.Constructed(serviceFileRead, ber.Primitive(0x80, r.Data))
	if !r.MoreFollows {
		response.Add(ber.Bool(0x81, false))
	}
	return response
}

func ParseFileReadResponse(service ber.TLV) (*FileReadResponse, error) {
	if service.Tag != serviceFileRead {
		return nil, fmt.Errorf("%w: expected fileRead response, got 0x%x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &FileReadResponse{MoreFollows: true}
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			response.Data = append([]byte(nil), field.Value...)
		case 0x81:
			response.MoreFollows = field.Bool()
		}
	}
	return response, nil
}

// FileCloseRequest запрос fileClose: FileClose-Request ::= Integer32 (frsmID)
type FileCloseRequest struct {
	FrsmID int32
}

func (r *FileCloseRequest) Node() *ber.Node {
	return ber.Signed(serviceFileCloseFRSM, int64(r.FrsmID))
}

// FileCloseResponse ответ fileClose (NULL)
var FileCloseResponse = NullService(serviceFileCloseFRSM)

// FileDeleteRequest запрос fileDelete: FileDelete-Request ::= FileName
type FileDeleteRequest struct {
	FileName string
}

func (r *FileDeleteRequest) Node() *ber.Node {
	return fileNameNode(serviceFileDelete, r.FileName)
}

func ParseFileDeleteRequest(service ber.TLV) (*FileDeleteRequest, error) {
	name, err := parseFileName(service)
	if err != nil {
		return nil, err
	}
	return &FileDeleteRequest{FileName: name}, nil
}

// FileDeleteResponse ответ fileDelete (NULL)
var FileDeleteResponse = NullService(serviceFileDeleteDone)

// FileRenameRequest запрос fileRename:
//
//	FileRename-Request ::= SEQUENCE {
//	  currentFileName [0] IMPLICIT FileName,
//	  newFileName     [1] IMPLICIT FileName
//	}
type FileRenameRequest struct {
	CurrentFileName string
	NewFileName     string
}

func (r *FileRenameRequest) Node() *ber.Node {
	return ber.Constructed(serviceFileRename,
		fileNameNode(0xa0, r.CurrentFileName),
		fileNameNode(0xa1, r.NewFileName),
	)
}

func ParseFileRenameRequest(service ber.TLV) (*FileRenameRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if len(fields) != 2 || fields[0].Tag != 0xa0 || fields[1].Tag != 0xa1 {
		return nil, fmt.Errorf("%w: fileRename request", ErrInvalidPDU)
	}

	request := &FileRenameRequest{}
	if request.CurrentFileName, err = parseFileName(fields[0]); err != nil {
		return nil, err
	}
	if request.NewFileName, err = parseFileName(fields[1]); err != nil {
		return nil, err
	}
	return request, nil
}

// FileRenameResponse ответ fileRename (NULL)
var FileRenameResponse = NullService(serviceFileRenameDone)

// FileDirectoryRequest запрос fileDirectory:
//
//	FileDirectory-Request ::= SEQUENCE {
//	  fileSpecification     [0] IMPLICIT FileName OPTIONAL,
//	  continueAfterFileName [1] IMPLICIT FileName OPTIONAL
//	}
type FileDirectoryRequest struct {
	FileSpecification string
	ContinueAfter     string
}

func (r *FileDirectoryRequest) Node() *ber.Node {
	request := ber.Constructed(serviceFileDirectory)
	if r.FileSpecification != "" {
		request.Add(fileNameNode(0xa0, r.FileSpecification))
	}
	if r.ContinueAfter != "" {
		request.Add(fileNameNode(0xa1, r.ContinueAfter))
	}
	return request
}

func ParseFileDirectoryRequest(service ber.TLV) (*FileDirectoryRequest, error) {
	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	request := &FileDirectoryRequest{}
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			if request.FileSpecification, err = parseFileName(field); err != nil {
				return nil, err
			}
		case 0xa1:
			if request.ContinueAfter, err = parseFileName(field); err != nil {
				return nil, err
			}
		}
	}
	return request, nil
}

// FileEntry элемент каталога файлов
type FileEntry struct {
	Name         string
	Size         uint32
	LastModified time.Time
}

func (e FileEntry) String() string {
	return fmt.Sprintf("%s (%d bytes, %s)", e.Name, e.Size, e.LastModified.Format(time.RFC3339))
}

// FileDirectoryResponse ответ fileDirectory:
//
//	FileDirectory-Response ::= SEQUENCE {
//	  listOfDirectoryEntry [0] IMPLICIT SEQUENCE OF DirectoryEntry,
//	  moreFollows          [1] IMPLICIT BOOLEAN DEFAULT FALSE
//	}
//	DirectoryEntry ::= SEQUENCE { filename [0] IMPLICIT FileName, fileAttributes [1] IMPLICIT FileAttributes }
type FileDirectoryResponse struct {
	Entries     []FileEntry
	MoreFollows bool
}

func (r *FileDirectoryResponse) Node() *ber.Node {
	entries := ber.Constructed(0xa0)
	for _, entry := range r.Entries {
		entries.Add(ber.Constructed(uint32(ber.SequenceConstructed),
			fileNameNode(0xa0, entry.Name),
			fileAttributesNode(entry.Size, entry.LastModified),
		))
	}

	response := ber.Constructed(serviceFileDirectory, entries)
	if r.MoreFollows {
		response.Add(ber.Bool(0x81, true))
	}
	return response
}

func ParseFileDirectoryResponse(service ber.TLV) (*FileDirectoryResponse, error) {
	if service.Tag != serviceFileDirectory {
		return nil, fmt.Errorf("%w: expected fileDirectory response, got 0x%x", ErrUnexpectedTag, service.Tag)
	}

	fields, err := service.Children()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	response := &FileDirectoryResponse{}
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			entries, err := field.Children()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
			}
			// некоторые серверы оборачивают список в дополнительный SEQUENCE
			if len(entries) == 1 && entries[0].Tag == 0xa0 {
				if entries, err = entries[0].Children(); err != nil {
					return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
				}
			}
			for _, tlv := range entries {
				entry, err := parseDirectoryEntry(tlv)
				if err != nil {
					return nil, err
				}
				response.Entries = append(response.Entries, entry)
			}
		case 0x81:
			response.MoreFollows = field.Bool()
		}
	}
	return response, nil
}

func parseDirectoryEntry(tlv ber.TLV) (FileEntry, error) {
	fields, err := tlv.Children()
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	var entry FileEntry
	for _, field := range fields {
		switch field.Tag {
		case 0xa0:
			if entry.Name, err = parseFileName(field); err != nil {
				return FileEntry{}, err
			}
		case 0xa1:
			if entry.Size, entry.LastModified, err = parseFileAttributes(field); err != nil {
				return FileEntry{}, err
			}
		}
	}
	return entry, nil
}
