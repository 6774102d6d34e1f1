package mms

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// testDevice устройство с одним логическим узлом GGIO1 в домене LD0
func testDevice() *Device {
	device := NewDevice("test")
	domain := device.AddDomain("LD0")
	domain.AddVariable(NewStructureSpec("GGIO1",
		NewStructureSpec("ST", NewStructureSpec("Ind1", NewBasicSpec("stVal", TypeSpecBoolean, 0))),
		NewStructureSpec("MX", analogValue("AnIn1")),
		NewStructureSpec("SP",
			NewArraySpec("arr", 4, NewBasicSpec("", TypeSpecInteger, 32)),
			NewBasicSpec("d", TypeSpecVisibleString, -16),
		),
	))
	return device
}

func testFileStore(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/COMTRADE", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/COMTRADE/rec1.cfg", []byte("station,1,2013"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/readme.txt", bytes.Repeat([]byte("x"), 100), 0o644))
	return fs
}

func startTestServer(t *testing.T, opts ...ServerOption) (*Server, *Connection) {
	t.Helper()
	return startTestServerWithClient(t, nil, opts...)
}

func startTestServerWithClient(t *testing.T, clientOpts []ConnectionOption, opts ...ServerOption) (*Server, *Connection) {
	t.Helper()

	opts = append([]ServerOption{WithServerLogger(logger.Nop()), WithFileStore(testFileStore(t))}, opts...)
	server := NewServer(testDevice(), opts...)
	t.Cleanup(func() { server.Close() })

	clientSide, serverSide := net.Pipe()
	server.ServeConn(serverSide)

	clientOpts = append([]ConnectionOption{WithLogger(logger.Nop()), WithRequestTimeout(5 * time.Second)}, clientOpts...)
	client := NewConnection(clientOpts...)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.ConnectTransport(ctx, clientSide, nil))

	return server, client
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestServerIdentifyAndStatus(t *testing.T) {
	server, client := startTestServer(t, WithIdentity("vendor", "model", "1.0"))
	ctx := testContext(t)

	assert.Equal(t, ConnectionAssociated, client.State())
	assert.Equal(t, uint32(DefaultMaxPduSize), client.InitiateResponse().LocalDetailCalled)

	identity, err := client.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, &IdentifyResponse{Vendor: "vendor", Model: "model", Revision: "1.0"}, identity)

	server.SetVMDStatus(1, 2)
	status, err := client.GetServerStatus(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, status.LogicalStatus)
	assert.Equal(t, 2, status.PhysicalStatus)

	require.Len(t, server.Connections(), 1)
}

func TestServerGetNameList(t *testing.T) {
	_, client := startTestServer(t)
	ctx := testContext(t)

	domains, err := client.GetDomainNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LD0"}, domains)

	names, err := client.GetDomainVariableNames(ctx, "LD0")
	require.NoError(t, err)
	assert.Contains(t, names, "GGIO1")
	assert.Contains(t, names, "GGIO1$ST$Ind1$stVal")
	assert.Contains(t, names, "GGIO1$MX$AnIn1$mag$f")

	_, err = client.GetDomainVariableNames(ctx, "LD1")
	assert.ErrorIs(t, err, ErrorAccessObjectNonExistent)

	lists, err := client.GetDomainVariableListNames(ctx, "LD0")
	require.NoError(t, err)
	assert.Empty(t, lists)
}

func TestServerReadWrite(t *testing.T) {
	server, client := startTestServer(t)
	ctx := testContext(t)

	t.Run("строка", func(t *testing.T) {
		require.NoError(t, client.WriteVariable(ctx, "LD0", "GGIO1$SP$d", variant.NewVisibleStringVariant("hello")))

		value, err := client.ReadVariable(ctx, "LD0", "GGIO1$SP$d")
		require.NoError(t, err)
		assert.Equal(t, "hello", value.Text())

		server.LockModel()
		cached := server.GetValueFromCache("LD0", "GGIO1$SP$d")
		server.UnlockModel()
		assert.Equal(t, "hello", cached.Text())
	})

	t.Run("несогласованный тип", func(t *testing.T) {
		err := client.WriteVariable(ctx, "LD0", "GGIO1$SP$d", variant.NewBoolVariant(true))
		assert.ErrorIs(t, err, ErrorDefinitionTypeInconsistent)
	})

	t.Run("несуществующая переменная", func(t *testing.T) {
		err := client.WriteVariable(ctx, "LD0", "GGIO2$ST", variant.NewBoolVariant(true))
		assert.ErrorIs(t, err, ErrorAccessObjectAccessDenied)

		value, err := client.ReadVariable(ctx, "LD0", "GGIO2$ST")
		require.NoError(t, err)
		assert.Equal(t, variant.DataAccessError, value.Type())
		assert.Equal(t, uint32(ObjectNonExistent), value.AccessError())
	})

	t.Run("элемент массива", func(t *testing.T) {
		require.NoError(t, client.WriteArrayElements(ctx, "LD0", "GGIO1$SP$arr", 2, 0, variant.NewInt32Variant(42)))

		element, err := client.ReadArrayElements(ctx, "LD0", "GGIO1$SP$arr", 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(42), element.Int64())

		elements, err := client.ReadArrayElements(ctx, "LD0", "GGIO1$SP$arr", 1, 3)
		require.NoError(t, err)
		require.Equal(t, 3, elements.Len())
		assert.Equal(t, int64(42), elements.Element(1).Int64())

		outOfRange, err := client.ReadArrayElements(ctx, "LD0", "GGIO1$SP$arr", 3, 2)
		require.NoError(t, err)
		assert.Equal(t, uint32(ObjectNonExistent), outOfRange.AccessError())
	})

	t.Run("несколько переменных", func(t *testing.T) {
		values, err := client.ReadMultipleVariables(ctx, "LD0", "GGIO1$ST$Ind1$stVal", "GGIO1$MX$AnIn1$q")
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.False(t, values[0].Bool())
		assert.Equal(t, 13, values[1].BitSize())

		results, err := client.WriteMultipleVariables(ctx, "LD0",
			[]string{"GGIO1$ST$Ind1$stVal", "GGIO1$ST$Ind1"},
			[]*variant.Variant{variant.NewBoolVariant(true), variant.NewIntegerVariant(1)},
		)
		require.NoError(t, err)
		assert.Equal(t, []DataAccessError{DataAccessSuccess, TypeInconsistent}, results)
	})

	t.Run("атрибуты переменной", func(t *testing.T) {
		spec, err := client.GetVariableAccessAttributes(ctx, "LD0", "GGIO1$MX$AnIn1")
		require.NoError(t, err)
		assert.Equal(t, TypeSpecStructure, spec.Type)
		require.Len(t, spec.Components, 3)
		assert.Equal(t, "mag", spec.Components[0].Name)
	})
}

func TestServerReadWriteHandlers(t *testing.T) {
	written := make(chan *variant.Variant, 1)

	_, client := startTestServer(t,
		WithReadHandler(func(_ *ServerConnection, domain *Domain, itemID string) *variant.Variant {
			if itemID == "GGIO1$MX$AnIn1$mag$f" {
				return variant.NewFloat32Variant(1.5)
			}
			return nil
		}),
		WithWriteHandler(func(_ *ServerConnection, _ *Domain, itemID string, value *variant.Variant) DataAccessError {
			if itemID == "GGIO1$ST$Ind1$stVal" {
				return ObjectAccessDenied
			}
			written <- value
			return DataAccessSuccess
		}),
	)
	ctx := testContext(t)

	value, err := client.ReadVariable(ctx, "LD0", "GGIO1$MX$AnIn1$mag$f")
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), value.Float32())

	err = client.WriteVariable(ctx, "LD0", "GGIO1$ST$Ind1$stVal", variant.NewBoolVariant(true))
	assert.ErrorIs(t, err, ErrorAccessObjectAccessDenied)

	require.NoError(t, client.WriteArrayElements(ctx, "LD0", "GGIO1$SP$arr", 0, 0, variant.NewInt32Variant(7)))
	select {
	case array := <-written:
		require.Equal(t, 4, array.Len())
		assert.Equal(t, int64(7), array.Element(0).Int64())
	case <-ctx.Done():
		t.Fatal("write handler not called")
	}
}

func TestServerDeferredWriteResponse(t *testing.T) {
	single := make(chan bool, 4)

	_, client := startTestServer(t,
		WithWriteHandler(func(conn *ServerConnection, _ *Domain, itemID string, _ *variant.Variant) DataAccessError {
			if itemID != "GGIO1$SP$d" {
				return DataAccessSuccess
			}
			single <- conn.SingleVariableWrite()
			if conn.SingleVariableWrite() {
				invokeID := conn.LastInvokeID()
				go func() { _ = conn.SendWriteResponse(invokeID, DataAccessSuccess) }()
			}
			return DataAccessNoResponse
		}),
	)
	ctx := testContext(t)

	require.NoError(t, client.WriteVariable(ctx, "LD0", "GGIO1$SP$d", variant.NewVisibleStringVariant("one")))
	assert.True(t, <-single)

	require.NoError(t, client.DefineNamedVariableList(ctx, DomainName("LD0", "deferred"), []VariableSpec{
		{Name: DomainName("LD0", "GGIO1$SP$d")},
	}))

	tests := []struct {
		name    string
		write   func() ([]DataAccessError, error)
		results []DataAccessError
	}{
		{
			name: "несколько переменных",
			write: func() ([]DataAccessError, error) {
				return client.WriteMultipleVariables(ctx, "LD0", []string{"GGIO1$SP$d", "GGIO1$ST$Ind1$stVal"}, []*variant.Variant{
					variant.NewVisibleStringVariant("two"),
					variant.NewBoolVariant(true),
				})
			},
			results: []DataAccessError{TemporarilyUnavailable, DataAccessSuccess},
		},
		{
			name: "именованный список из одной переменной",
			write: func() ([]DataAccessError, error) {
				return client.WriteNamedVariableList(ctx, DomainName("LD0", "deferred"), []*variant.Variant{
					variant.NewVisibleStringVariant("three"),
				})
			},
			results: []DataAccessError{TemporarilyUnavailable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := tt.write()
			require.NoError(t, err)
			assert.Equal(t, tt.results, results)
			assert.False(t, <-single)
		})
	}

	// отложенных ответов не осталось, корреляция запросов не нарушена
	value, err := client.ReadVariable(ctx, "LD0", "GGIO1$ST$Ind1$stVal")
	require.NoError(t, err)
	assert.Equal(t, variant.Boolean, value.Type())
	assert.Empty(t, single)
}

func TestServerNamedVariableLists(t *testing.T) {
	events := make(chan NamedVariableListEvent, 4)

	server, client := startTestServer(t,
		WithNamedVariableListHandler(func(_ *ServerConnection, event NamedVariableListEvent, _ ObjectScope, _ *Domain, list *NamedVariableList) DataAccessError {
			events <- event
			if list.Name == "forbidden" {
				return ObjectAccessDenied
			}
			return DataAccessSuccess
		}),
	)
	ctx := testContext(t)

	variables := []VariableSpec{
		{Name: DomainName("LD0", "GGIO1$ST$Ind1$stVal")},
		{Name: DomainName("LD0", "GGIO1$SP$d")},
	}

	t.Run("список ассоциации", func(t *testing.T) {
		require.NoError(t, client.DefineNamedVariableList(ctx, AssociationName("temp"), variables))
		assert.Equal(t, NamedVariableListCreated, <-events)

		names, err := client.GetVariableListNamesAssociationSpecific(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"temp"}, names)

		values, err := client.ReadNamedVariableListValuesAssociationSpecific(ctx, "temp", true)
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, variant.Boolean, values[0].Type())

		err = client.DefineNamedVariableList(ctx, AssociationName("temp"), variables)
		assert.ErrorIs(t, err, ErrorDefinitionObjectExists)

		deleted, err := client.DeleteNamedVariableList(ctx, AssociationName("temp"))
		require.NoError(t, err)
		assert.True(t, deleted)
		assert.Equal(t, NamedVariableListDeleted, <-events)
	})

	t.Run("список домена", func(t *testing.T) {
		name := DomainName("LD0", "LLN0$dataset1")
		require.NoError(t, client.DefineNamedVariableList(ctx, name, variables))
		<-events

		specs, deletable, err := client.ReadNamedVariableListDirectory(ctx, name)
		require.NoError(t, err)
		assert.True(t, deletable)
		assert.Equal(t, variables, specs)

		results, err := client.WriteNamedVariableList(ctx, name, []*variant.Variant{
			variant.NewBoolVariant(true),
			variant.NewVisibleStringVariant("ds"),
		})
		require.NoError(t, err)
		assert.Equal(t, []DataAccessError{DataAccessSuccess, DataAccessSuccess}, results)

		values, err := client.ReadNamedVariableListValues(ctx, "LD0", "LLN0$dataset1", false)
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.True(t, values[0].Bool())
		assert.Equal(t, "ds", values[1].Text())

		assert.NotNil(t, server.Device().Domain("LD0").NamedVariableLists().Get("LLN0$dataset1"))
	})

	t.Run("неизвестная переменная", func(t *testing.T) {
		err := client.DefineNamedVariableList(ctx, DomainName("LD0", "bad"), []VariableSpec{{Name: DomainName("LD0", "GGIO9$ST")}})
		assert.ErrorIs(t, err, ErrorDefinitionObjectUndefined)
	})

	t.Run("запрет обработчиком", func(t *testing.T) {
		err := client.DefineNamedVariableList(ctx, DomainName("LD0", "forbidden"), variables)
		assert.ErrorIs(t, err, ErrorAccessObjectAccessDenied)
		<-events
	})
}

func TestServerFiles(t *testing.T) {
	_, client := startTestServer(t)
	ctx := testContext(t)

	t.Run("каталог", func(t *testing.T) {
		directory, err := client.GetFileDirectory(ctx, "", "")
		require.NoError(t, err)
		require.Len(t, directory.Entries, 2)
		assert.Equal(t, "COMTRADE/", directory.Entries[0].Name)
		assert.Equal(t, "readme.txt", directory.Entries[1].Name)
		assert.Equal(t, uint32(100), directory.Entries[1].Size)
		assert.False(t, directory.MoreFollows)

		directory, err = client.GetFileDirectory(ctx, "COMTRADE", "")
		require.NoError(t, err)
		require.Len(t, directory.Entries, 1)
		assert.Equal(t, "COMTRADE/rec1.cfg", directory.Entries[0].Name)

		directory, err = client.GetFileDirectory(ctx, "", "COMTRADE/")
		require.NoError(t, err)
		require.Len(t, directory.Entries, 1)
		assert.Equal(t, "readme.txt", directory.Entries[0].Name)
	})

	t.Run("чтение файла", func(t *testing.T) {
		var content []byte
		require.NoError(t, client.GetFile(ctx, "COMTRADE/rec1.cfg", func(data []byte) bool {
			content = append(content, data...)
			return true
		}))
		assert.Equal(t, "station,1,2013", string(content))
	})

	t.Run("начальная позиция", func(t *testing.T) {
		open, err := client.FileOpen(ctx, "COMTRADE/rec1.cfg", 8)
		require.NoError(t, err)
		assert.Equal(t, uint32(14), open.Size)

		block, err := client.FileRead(ctx, open.FrsmID)
		require.NoError(t, err)
		assert.Equal(t, "1,2013", string(block.Data))
		assert.False(t, block.MoreFollows)

		err = client.FileDelete(ctx, "COMTRADE/rec1.cfg")
		assert.ErrorIs(t, err, ErrorFileFileBusy)

		require.NoError(t, client.FileClose(ctx, open.FrsmID))
		assert.ErrorIs(t, client.FileClose(ctx, open.FrsmID), ErrorFileOther)
	})

	t.Run("ошибки", func(t *testing.T) {
		_, err := client.FileOpen(ctx, "missing.txt", 0)
		assert.ErrorIs(t, err, ErrorFileFileNonExistent)

		_, err = client.FileOpen(ctx, "COMTRADE", 0)
		assert.ErrorIs(t, err, ErrorFileFileAccessDenied)

		_, err = client.FileOpen(ctx, "readme.txt", 500)
		assert.ErrorIs(t, err, ErrorFilePositionInvalid)
	})

	t.Run("переименование и удаление", func(t *testing.T) {
		err := client.FileRename(ctx, "readme.txt", "COMTRADE/rec1.cfg")
		assert.ErrorIs(t, err, ErrorFileDuplicateFilename)

		require.NoError(t, client.FileRename(ctx, "readme.txt", "notes.txt"))
		require.NoError(t, client.FileDelete(ctx, "notes.txt"))

		_, err = client.FileOpen(ctx, "notes.txt", 0)
		assert.ErrorIs(t, err, ErrorFileFileNonExistent)
	})
}

func TestServerOpenFilesLimit(t *testing.T) {
	_, client := startTestServer(t, WithMaxOpenFiles(2))
	ctx := testContext(t)

	for i := 0; i < 2; i++ {
		_, err := client.FileOpen(ctx, "readme.txt", 0)
		require.NoError(t, err)
	}
	_, err := client.FileOpen(ctx, "readme.txt", 0)
	assert.ErrorIs(t, err, ErrorResourceCapabilityUnavailable)
}

func TestServerInformationReport(t *testing.T) {
	type report struct {
		name   string
		values []*variant.Variant
		list   bool
	}
	reports := make(chan report, 1)

	server, _ := startTestServerWithClient(t, []ConnectionOption{
		WithInformationReportHandler(func(_, name string, values []*variant.Variant, isVariableList bool) {
			reports <- report{name: name, values: values, list: isVariableList}
		}),
	})
	ctx := testContext(t)

	conns := server.Connections()
	require.Len(t, conns, 1)
	require.NoError(t, conns[0].SendInformationReportVMDSpecific("RPT", []*variant.Variant{
		variant.NewVisibleStringVariant("LD0/LLN0$BR$brcb01"),
		variant.NewBoolVariant(true),
	}))

	select {
	case got := <-reports:
		assert.Equal(t, "RPT", got.name)
		assert.True(t, got.list)
		require.Len(t, got.values, 2)
		assert.Equal(t, "LD0/LLN0$BR$brcb01", got.values[0].Text())
	case <-ctx.Done():
		t.Fatal("information report not received")
	}

	large := variant.NewOctetStringVariant(make([]byte, DefaultMaxPduSize))
	err := conns[0].SendInformationReportSingleVariableVMDSpecific("big", large)
	assert.ErrorIs(t, err, ErrReportTooLarge)
}

func TestServerConclude(t *testing.T) {
	closed := make(chan struct{})

	server, client := startTestServer(t, WithServerConnectionHandler(func(_ *ServerConnection, event iso.ConnectionEvent) {
		if event == iso.ConnectionClosed {
			close(closed)
		}
	}))
	ctx := testContext(t)

	require.NoError(t, client.Conclude(ctx))

	select {
	case <-client.Done():
	case <-ctx.Done():
		t.Fatal("client connection not closed")
	}
	assert.Equal(t, ConnectionClosed, client.State())

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("connection close event not received")
	}
	assert.Empty(t, server.Connections())
}
