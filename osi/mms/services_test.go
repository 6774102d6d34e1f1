package mms

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func TestGetNameListRequest(t *testing.T) {
	tests := []struct {
		name    string
		request *GetNameListRequest
		want    string
	}{
		{
			// a1 09 [a0 03 80 01 09] [a1 02 80 00] - vmd-specific домены
			name:    "домены",
			request: &GetNameListRequest{Class: ClassDomain, Scope: ScopeVMD},
			want:    "a109a003800109a1028000",
		},
		{
			name:    "переменные домена с продолжением",
			request: &GetNameListRequest{Class: ClassNamedVariable, Scope: ScopeDomain, DomainID: "LD0", ContinueAfter: "LLN0$ST"},
		},
		{
			name:    "списки ассоциации",
			request: &GetNameListRequest{Class: ClassNamedVariableList, Scope: ScopeAssociation},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.request.Node().Encode()
			if tt.want != "" {
				assert.Equal(t, tt.want, hex.EncodeToString(encoded))
			}

			got, err := ParseGetNameListRequest(parseTLVForTest(t, encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.request, got)
		})
	}

	_, err := ParseGetNameListRequest(parseTLVForTest(t, parseHexStringForTest(t, "a105a003800109")))
	assert.ErrorIs(t, err, ErrInvalidPDU)
}

func TestGetNameListResponse(t *testing.T) {
	response := &GetNameListResponse{Identifiers: []string{"LD0"}}

	// a1 0a [a0 05 1a 03 "LD0"] [81 01 00]
	encoded := response.Node().Encode()
	assert.Equal(t, "a10aa0051a034c4430810100", hex.EncodeToString(encoded))

	got, err := ParseGetNameListResponse(parseTLVForTest(t, encoded))
	require.NoError(t, err)
	assert.Equal(t, response, got)

	// moreFollows по умолчанию TRUE
	got, err = ParseGetNameListResponse(parseTLVForTest(t, parseHexStringForTest(t, "a107a0051a034c4430")))
	require.NoError(t, err)
	assert.True(t, got.MoreFollows)
}

func TestNameListPage(t *testing.T) {
	names := []string{"name1", "name2", "name3", "name4", "name5"}

	tests := []struct {
		name          string
		continueAfter string
		maxPduSize    int
		want          []string
		wantMore      bool
	}{
		{
			name:       "всё помещается",
			maxPduSize: 1000,
			want:       names,
		},
		{
			// 27 + 3*7 = 48
			name:       "три имени",
			maxPduSize: 48,
			want:       []string{"name1", "name2", "name3"},
			wantMore:   true,
		},
		{
			name:          "продолжение",
			continueAfter: "name3",
			maxPduSize:    48,
			want:          []string{"name4", "name5"},
		},
		{
			name:          "неизвестное имя продолжения",
			continueAfter: "other",
			maxPduSize:    1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, more := NameListPage(names, tt.continueAfter, tt.maxPduSize)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMore, more)
		})
	}
}

func TestNamedVariableListServices(t *testing.T) {
	variables := []VariableSpec{
		{Name: DomainName("LD0", "GGIO1$ST$Ind1$stVal")},
		{Name: DomainName("LD0", "GGIO1$MX$AnIn1$mag$f")},
	}

	t.Run("define", func(t *testing.T) {
		request := &DefineNamedVariableListRequest{Name: DomainName("LD0", "LLN0$dataset1"), Variables: variables}
		got, err := ParseDefineNamedVariableListRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)

		assert.Equal(t, "8b00", hex.EncodeToString(DefineNamedVariableListResponse.Node().Encode()))
	})

	t.Run("атрибуты", func(t *testing.T) {
		request := &GetNamedVariableListAttributesRequest{Name: AssociationName("temp")}
		got, err := ParseGetNamedVariableListAttributesRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)

		response := &GetNamedVariableListAttributesResponse{Deletable: true, Variables: variables}
		parsed, err := ParseGetNamedVariableListAttributesResponse(parseTLVForTest(t, response.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, response, parsed)
	})

	t.Run("удаление", func(t *testing.T) {
		request := &DeleteNamedVariableListRequest{
			Scope: DeleteSpecific,
			Names: []ObjectName{DomainName("LD0", "LLN0$dataset1"), AssociationName("temp")},
		}
		got, err := ParseDeleteNamedVariableListRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)

		// ad 06 [80 01 02] [81 01 01]
		response := &DeleteNamedVariableListResponse{Matched: 2, Deleted: 1}
		encoded := response.Node().Encode()
		assert.Equal(t, "ad06800102810101", hex.EncodeToString(encoded))

		parsed, err := ParseDeleteNamedVariableListResponse(parseTLVForTest(t, encoded))
		require.NoError(t, err)
		assert.Equal(t, response, parsed)
	})

	t.Run("удаление домена", func(t *testing.T) {
		request := &DeleteNamedVariableListRequest{Scope: DeleteDomain, DomainID: "LD0"}
		got, err := ParseDeleteNamedVariableListRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)
	})
}

func TestFileServices(t *testing.T) {
	modified := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	t.Run("open", func(t *testing.T) {
		request := &FileOpenRequest{FileName: "COMTRADE/rec1.cfg", InitialPosition: 10}
		got, err := ParseFileOpenRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)

		response := &FileOpenResponse{FrsmID: 1, Size: 1024, LastModified: modified}
		parsed, err := ParseFileOpenResponse(parseTLVForTest(t, response.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, int32(1), parsed.FrsmID)
		assert.Equal(t, uint32(1024), parsed.Size)
		assert.True(t, modified.Equal(parsed.LastModified))
	})

	t.Run("read", func(t *testing.T) {
		// 9f 49 01 03 frsmID = 3
		request := &FileReadRequest{FrsmID: 3}
		assert.Equal(t, "9f490103", hex.EncodeToString(request.Node().Encode()))

		// bf 49 08 [80 03 "abc"] [81 01 00]
		response := &FileReadResponse{Data: []byte("abc")}
		encoded := response.Node().Encode()
		assert.Equal(t, "bf49088003616263810100", hex.EncodeToString(encoded))

		parsed, err := ParseFileReadResponse(parseTLVForTest(t, encoded))
		require.NoError(t, err)
		assert.Equal(t, response, parsed)

		parsed, err = ParseFileReadResponse(parseTLVForTest(t, parseHexStringForTest(t, "bf49058003616263")))
		require.NoError(t, err)
		assert.True(t, parsed.MoreFollows)
	})

	t.Run("rename", func(t *testing.T) {
		request := &FileRenameRequest{CurrentFileName: "a.txt", NewFileName: "b.txt"}
		got, err := ParseFileRenameRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)
	})

	t.Run("delete", func(t *testing.T) {
		request := &FileDeleteRequest{FileName: "a.txt"}
		got, err := ParseFileDeleteRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)
	})

	t.Run("directory", func(t *testing.T) {
		request := &FileDirectoryRequest{FileSpecification: "COMTRADE", ContinueAfter: "COMTRADE/rec1.cfg"}
		got, err := ParseFileDirectoryRequest(parseTLVForTest(t, request.Node().Encode()))
		require.NoError(t, err)
		assert.Equal(t, request, got)

		response := &FileDirectoryResponse{
			Entries: []FileEntry{
				{Name: "COMTRADE/", Size: 0, LastModified: modified},
				{Name: "a.txt", Size: 12, LastModified: modified},
			},
			MoreFollows: true,
		}
		parsed, err := ParseFileDirectoryResponse(parseTLVForTest(t, response.Node().Encode()))
		require.NoError(t, err)
		require.Len(t, parsed.Entries, 2)
		assert.True(t, parsed.MoreFollows)
		assert.Equal(t, "a.txt", parsed.Entries[1].Name)
		assert.Equal(t, uint32(12), parsed.Entries[1].Size)
		assert.True(t, modified.Equal(parsed.Entries[0].LastModified))
	})

	t.Run("directory во вложенном списке", func(t *testing.T) {
		// bf 4d 11 a0 0f a0 0d 30 0b [a0 04 19 02 "ab"] [a1 03 80 01 05]
		parsed, err := ParseFileDirectoryResponse(parseTLVForTest(t, parseHexStringForTest(t,
			"bf4d11a00fa00d300ba00419026162a103800105")))
		require.NoError(t, err)
		require.Len(t, parsed.Entries, 1)
		assert.Equal(t, FileEntry{Name: "ab", Size: 5}, parsed.Entries[0])
		assert.False(t, parsed.MoreFollows)
	})
}

func TestInformationReport(t *testing.T) {
	report := NewInformationReportNamedList(VMDName("RPT"), []*variant.Variant{variant.NewBoolVariant(true)})

	// a0 0c [a1 05 80 03 "RPT"] [a0 03 83 01 01]
	encoded := report.Node().Encode()
	assert.Equal(t, "a00ca1058003525054a003830101", hex.EncodeToString(encoded))

	parsed, err := ParseInformationReport(parseTLVForTest(t, encoded))
	require.NoError(t, err)
	require.True(t, parsed.Specification.IsNamedList())
	assert.Equal(t, VMDName("RPT"), *parsed.Specification.ListName)
	require.Len(t, parsed.Values(), 1)
	assert.True(t, parsed.Values()[0].Bool())

	single := NewInformationReportVMDSpecific("LastApplError", variant.NewIntegerVariant(5))
	pdu, err := ParsePDU(UnconfirmedPDU(single))
	require.NoError(t, err)
	require.Equal(t, PDUUnconfirmed, pdu.Type)

	parsed, err = ParseInformationReport(pdu.Service)
	require.NoError(t, err)
	require.Len(t, parsed.Specification.Variables, 1)
	assert.Equal(t, VMDName("LastApplError"), parsed.Specification.Variables[0].Name)
	assert.Equal(t, int64(5), parsed.Values()[0].Int64())
}
