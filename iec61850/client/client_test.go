package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/iec61850/server"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

func startTestServer(t *testing.T) *server.Server {
	t.Helper()

	files := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(files, "/COMTRADE/rec1.cfg", []byte("station,1,2013"), 0o644))
	require.NoError(t, afero.WriteFile(files, "/readme.txt", []byte("readme"), 0o644))

	m, err := model.LoadFile(afero.NewOsFs(), "../model/testdata/simple.yaml")
	require.NoError(t, err)

	srv, err := server.New(m,
		server.WithLogger(logger.Nop()),
		server.WithMmsOptions(
			mms.WithFileStore(files),
			mms.WithIdentity("vendor", "model", "1.0"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connect(t *testing.T, srv *server.Server, opts ...Option) *Connection {
	t.Helper()

	clientSide, serverSide := net.Pipe()
	srv.ServeConn(serverSide)

	c := NewConnection(append([]Option{
		WithLogger(logger.Nop()),
		WithRequestTimeout(5 * time.Second),
	}, opts...)...)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.ConnectTransport(testContext(t), clientSide, nil))
	return c
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectionLifecycle(t *testing.T) {
	srv := startTestServer(t)
	ctx := testContext(t)

	c := NewConnection(WithLogger(logger.Nop()))
	assert.Equal(t, StateIdle, c.State())
	_, err := c.ReadBool(ctx, "GenericIO/GGIO1.Ind1.stVal", model.FCST)
	assert.ErrorIs(t, err, ErrorNotConnected)

	c = connect(t, srv)
	assert.Equal(t, StateConnected, c.State())

	clientSide, _ := net.Pipe()
	assert.ErrorIs(t, c.ConnectTransport(ctx, clientSide, nil), ErrorAlreadyConnected)

	identity, err := c.Identify(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vendor", identity.Vendor)
	assert.Equal(t, "1.0", identity.Revision)

	require.NoError(t, c.Release(ctx))
	assert.Equal(t, StateClosed, c.State())
	_, err = c.ReadBool(ctx, "GenericIO/GGIO1.Ind1.stVal", model.FCST)
	assert.ErrorIs(t, err, ErrorNotConnected)
}

func TestConnectionClosedHandler(t *testing.T) {
	srv := startTestServer(t)

	closed := make(chan *Connection, 1)
	c := connect(t, srv, WithConnectionClosedHandler(func(c *Connection) { closed <- c }))

	srv.Close()
	select {
	case got := <-closed:
		assert.Same(t, c, got)
		assert.Equal(t, StateClosed, c.State())
	case <-time.After(3 * time.Second):
		t.Fatal("closed handler not called")
	}
}

func TestReadWrite(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	t.Run("чтение", func(t *testing.T) {
		f, err := c.ReadFloat(ctx, "GenericIO/GGIO1.AnIn2.mag.f", model.FCMX)
		require.NoError(t, err)
		assert.InDelta(t, 1.5, f, 1e-6)

		i, err := c.ReadInt(ctx, "GenericIO/GGIO1.Setting.setVal[SP]", model.FCNone)
		require.NoError(t, err)
		assert.Equal(t, int64(10), i)

		w, err := c.ReadFloat(ctx, "GenericIO/GGIO1.Setting.weights(2)", model.FCSP)
		require.NoError(t, err)
		assert.InDelta(t, 2.0, w, 1e-6)

		s, err := c.ReadString(ctx, "GenericIO/LLN0.NamPlt.vendor", model.FCDC)
		require.NoError(t, err)
		assert.Equal(t, "libiec61850.com", s)
	})

	t.Run("структура объекта", func(t *testing.T) {
		v, err := c.ReadObject(ctx, "GenericIO/GGIO1.Ind1", model.FCST)
		require.NoError(t, err)
		assert.Equal(t, variant.Structure, v.Type())

		spec, err := c.VariableSpecification(ctx, "GenericIO/GGIO1.Ind1", model.FCST)
		require.NoError(t, err)
		assert.NotNil(t, spec.Component("stVal"))
		assert.True(t, spec.Matches(v))
	})

	tests := []struct {
		name string
		ref  string
		fc   model.FunctionalConstraint
		err  error
	}{
		{
			name: "несуществующий атрибут",
			ref:  "GenericIO/GGIO1.Ind9.stVal",
			fc:   model.FCST,
			err:  ErrorObjectDoesNotExist,
		},
		{
			name: "ссылка без функциональной связи",
			ref:  "GenericIO/GGIO1.Ind1.stVal",
			fc:   model.FCNone,
			err:  ErrorObjectReferenceInvalid,
		},
		{
			name: "неверный тип",
			ref:  "GenericIO/GGIO1.Ind1.stVal",
			fc:   model.FCST,
			err:  ErrorUnexpectedValue,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ReadFloat(ctx, tt.ref, tt.fc)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("запись уставки", func(t *testing.T) {
		require.NoError(t, c.WriteInt32(ctx, "GenericIO/GGIO1.Setting.setVal", model.FCSP, 42))

		v, err := srv.GetAttributeValue(model.MustParseObjectReference("GenericIO/GGIO1.Setting.setVal[SP]"))
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.Int64())
	})

	t.Run("запись состояния запрещена", func(t *testing.T) {
		err := c.WriteBool(ctx, "GenericIO/GGIO1.Ind1.stVal", model.FCST, true)
		assert.ErrorIs(t, err, ErrorAccessDenied)
		assert.ErrorIs(t, err, mms.ErrorAccessObjectAccessDenied)
	})

	t.Run("запись неверного типа", func(t *testing.T) {
		err := c.WriteBool(ctx, "GenericIO/GGIO1.Setting.setVal", model.FCSP, true)
		assert.ErrorIs(t, err, ErrorTypeInconsistent)
	})
}

func TestBrowse(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	devices, err := c.ServerDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GenericIO"}, devices)

	nodes, err := c.LogicalDeviceDirectory(ctx, "GenericIO")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"LLN0", "GGIO1"}, nodes)

	tests := []struct {
		name     string
		ln       string
		class    ACSIClass
		contains []string
	}{
		{
			name:     "объекты данных",
			ln:       "GenericIO/GGIO1",
			class:    ClassDataObject,
			contains: []string{"AnIn1", "SPCSO1", "Ind1"},
		},
		{
			name:     "небуферизованные RCB",
			ln:       "GenericIO/LLN0",
			class:    ClassURCB,
			contains: []string{"EventsRCB", "MeasurementsRCB01", "MeasurementsRCB02"},
		},
		{
			name:     "буферизованные RCB",
			ln:       "GenericIO/LLN0",
			class:    ClassBRCB,
			contains: []string{"EventsBRCB"},
		},
		{
			name:     "наборы данных",
			ln:       "GenericIO/LLN0",
			class:    ClassDataSet,
			contains: []string{"Events", "Measurements"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := c.LogicalNodeDirectory(ctx, tt.ln, tt.class)
			require.NoError(t, err)
			assert.Subset(t, names, tt.contains)
		})
	}

	t.Run("компоненты объекта", func(t *testing.T) {
		names, err := c.DataDirectoryFC(ctx, "GenericIO/GGIO1.AnIn2")
		require.NoError(t, err)
		assert.Contains(t, names, "mag[MX]")
		assert.Contains(t, names, "d[DC]")

		names, err = c.DataDirectory(ctx, "GenericIO/GGIO1.AnIn2.mag")
		require.NoError(t, err)
		assert.Equal(t, []string{"f"}, names)
	})

	t.Run("неизвестное устройство", func(t *testing.T) {
		_, err := c.LogicalDeviceDirectory(ctx, "Missing")
		assert.ErrorIs(t, err, ErrorObjectReferenceInvalid)
	})
}

func TestDataSets(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	t.Run("постоянный набор", func(t *testing.T) {
		members, deletable, err := c.DataSetDirectory(ctx, "GenericIO/LLN0.Events")
		require.NoError(t, err)
		assert.False(t, deletable)
		assert.Equal(t, []string{
			"GenericIO/GGIO1.SPCSO1.stVal[ST]",
			"GenericIO/GGIO1.SPCSO2.stVal[ST]",
			"GenericIO/GGIO1.Ind1[ST]",
		}, members)

		require.NoError(t, srv.UpdateBoolean(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO2.stVal[ST]"), true))
		ds, err := c.ReadDataSetValues(ctx, "GenericIO/LLN0.Events", nil)
		require.NoError(t, err)
		require.Equal(t, 3, ds.Size())
		assert.False(t, ds.Values[0].Bool())
		assert.True(t, ds.Values[1].Bool())

		require.NoError(t, srv.UpdateBoolean(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO1.stVal[ST]"), true))
		same, err := c.ReadDataSetValues(ctx, "GenericIO/LLN0.Events", ds)
		require.NoError(t, err)
		assert.Same(t, ds, same)
		assert.True(t, ds.Values[0].Bool())

		err = c.DeleteDataSet(ctx, "GenericIO/LLN0.Events")
		assert.Error(t, err)
	})

	t.Run("динамический набор", func(t *testing.T) {
		members := []string{"GenericIO/GGIO1.AnIn1.mag[MX]", "GenericIO/GGIO1.Setting.setVal[SP]"}
		require.NoError(t, c.CreateDataSet(ctx, "GenericIO/GGIO1.Dynamic", members))

		names, err := c.LogicalNodeDirectory(ctx, "GenericIO/GGIO1", ClassDataSet)
		require.NoError(t, err)
		assert.Contains(t, names, "Dynamic")

		got, deletable, err := c.DataSetDirectory(ctx, "GenericIO/GGIO1.Dynamic")
		require.NoError(t, err)
		assert.True(t, deletable)
		assert.Equal(t, members, got)

		ds, err := c.ReadDataSetValues(ctx, "GenericIO/GGIO1.Dynamic", nil)
		require.NoError(t, err)
		require.Equal(t, 2, ds.Size())
		assert.Equal(t, int64(10), ds.Values[1].Int64())

		err = c.CreateDataSet(ctx, "GenericIO/GGIO1.Dynamic", members)
		assert.ErrorIs(t, err, ErrorObjectExists)

		require.NoError(t, c.DeleteDataSet(ctx, "GenericIO/GGIO1.Dynamic"))
		names, err = c.LogicalNodeDirectory(ctx, "GenericIO/GGIO1", ClassDataSet)
		require.NoError(t, err)
		assert.NotContains(t, names, "Dynamic")
	})

	t.Run("набор ассоциации", func(t *testing.T) {
		require.NoError(t, c.CreateDataSet(ctx, "@temp", []string{"GenericIO/GGIO1.Ind1.stVal[ST]"}))

		ds, err := c.ReadDataSetValues(ctx, "@temp", nil)
		require.NoError(t, err)
		assert.Equal(t, "@temp", ds.Reference)
		assert.Equal(t, 1, ds.Size())

		require.NoError(t, c.DeleteDataSet(ctx, "@temp"))
	})

	t.Run("неверные ссылки", func(t *testing.T) {
		assert.ErrorIs(t, c.CreateDataSet(ctx, "@", []string{"GenericIO/GGIO1.Ind1.stVal[ST]"}), ErrorObjectReferenceInvalid)
		assert.ErrorIs(t, c.CreateDataSet(ctx, "GenericIO/GGIO1.Empty", nil), ErrorInvalidArgument)
		assert.ErrorIs(t, c.CreateDataSet(ctx, "GenericIO/GGIO1.Bad", []string{"GenericIO/GGIO1.Ind1.stVal"}), ErrorObjectReferenceInvalid)
	})
}

func TestReportControlBlock(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	t.Run("чтение URCB", func(t *testing.T) {
		rcb, err := c.GetRCBValues(ctx, "GenericIO/LLN0.RP.EventsRCB")
		require.NoError(t, err)
		assert.False(t, rcb.Buffered)
		assert.Equal(t, "GenericIO/LLN0$RP$EventsRCB", rcb.RptID)
		assert.Equal(t, "GenericIO/LLN0$Events", rcb.DatSet)
		assert.Equal(t, uint32(1), rcb.ConfRev)
		assert.Equal(t, uint32(50), rcb.BufTm)
		assert.Equal(t, model.TriggerDataChanged|model.TriggerQualityChanged|model.TriggerGI, rcb.TrgOps)
		assert.NotZero(t, rcb.OptFlds&model.OptSequenceNumber)
		assert.False(t, rcb.RptEna)
	})

	t.Run("чтение BRCB", func(t *testing.T) {
		rcb, err := c.GetRCBValues(ctx, "GenericIO/LLN0.BR.EventsBRCB")
		require.NoError(t, err)
		assert.True(t, rcb.Buffered)
		assert.NotZero(t, rcb.OptFlds&model.OptEntryID)
	})

	t.Run("запись нескольких элементов", func(t *testing.T) {
		rcb := &ReportControlBlock{
			Reference: "GenericIO/LLN0.RP.MeasurementsRCB01",
			RptID:     "measurements",
			IntgPd:    1000,
			TrgOps:    model.TriggerDataChanged | model.TriggerIntegrity,
		}
		require.NoError(t, c.SetRCBValues(ctx, rcb, RCBRptID|RCBIntgPd|RCBTrgOps, true))

		got, err := c.GetRCBValues(ctx, rcb.Reference)
		require.NoError(t, err)
		assert.Equal(t, "measurements", got.RptID)
		assert.Equal(t, uint32(1000), got.IntgPd)
		assert.Equal(t, rcb.TrgOps, got.TrgOps)
	})

	tests := []struct {
		name string
		rcb  *ReportControlBlock
		mask RCBElement
		err  error
	}{
		{
			name: "Resv в BRCB",
			rcb:  &ReportControlBlock{Reference: "GenericIO/LLN0.BR.EventsBRCB"},
			mask: RCBResv,
			err:  ErrorInvalidArgument,
		},
		{
			name: "PurgeBuf в URCB",
			rcb:  &ReportControlBlock{Reference: "GenericIO/LLN0.RP.EventsRCB"},
			mask: RCBPurgeBuf,
			err:  ErrorInvalidArgument,
		},
		{
			name: "ссылка не на RCB",
			rcb:  &ReportControlBlock{Reference: "GenericIO/GGIO1.ST.Ind1"},
			mask: RCBRptEna,
			err:  ErrorObjectReferenceInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, c.SetRCBValues(ctx, tt.rcb, tt.mask, false), tt.err)
		})
	}

	t.Run("резервирование", func(t *testing.T) {
		other := connect(t, srv)
		require.NoError(t, c.ReserveRCB(ctx, "GenericIO/LLN0.RP.EventsRCB"))

		rcb := &ReportControlBlock{Reference: "GenericIO/LLN0.RP.EventsRCB", RptID: "other"}
		assert.ErrorIs(t, other.SetRCBValues(ctx, rcb, RCBRptID, false), ErrorTemporarilyUnavailable)

		require.NoError(t, c.ReleaseRCB(ctx, "GenericIO/LLN0.RP.EventsRCB"))
		require.NoError(t, other.SetRCBValues(ctx, rcb, RCBRptID, false))
	})
}

// reportCollector накапливает отчёты обработчика
type reportCollector struct {
	mu      sync.Mutex
	reports []*Report
}

func (r *reportCollector) handle(report *Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *reportCollector) eventually(t *testing.T, n int) []*Report {
	t.Helper()

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.reports) >= n
	}, 3*time.Second, 10*time.Millisecond, "%d reports", n)

	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Report(nil), r.reports...)
}

func (r *reportCollector) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func TestReporting(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	err := c.EnableReporting(ctx, "GenericIO/LLN0.RP.EventsRCB", "GenericIO/LLN0.Measurements", model.TriggerNone, func(*Report) {})
	assert.ErrorIs(t, err, ErrorDataSetMismatch)

	reports := new(reportCollector)
	require.NoError(t, c.EnableReporting(ctx, "GenericIO/LLN0.RP.EventsRCB", "GenericIO/LLN0.Events", model.TriggerNone, reports.handle))

	t.Run("отчёт об изменении", func(t *testing.T) {
		require.NoError(t, srv.UpdateBoolean(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO1.stVal[ST]"), true))

		rpt := reports.eventually(t, 1)[0]
		assert.Equal(t, "GenericIO/LLN0.RP.EventsRCB", rpt.RcbReference)
		assert.Equal(t, "GenericIO/LLN0$RP$EventsRCB", rpt.RptID)
		assert.True(t, rpt.HasSeqNum())
		assert.Equal(t, uint16(0), rpt.SeqNum)
		assert.True(t, rpt.HasTimestamp())
		assert.Equal(t, "GenericIO/LLN0$Events", rpt.DataSet)
		assert.Equal(t, uint32(1), rpt.ConfRev)

		require.Len(t, rpt.Values, 3)
		assert.True(t, rpt.Included(0))
		assert.False(t, rpt.Included(1))
		assert.True(t, rpt.Values[0].Bool())
		assert.Equal(t, ReasonDataChange, rpt.Reasons[0])
		assert.Equal(t, ReasonNotIncluded, rpt.Reasons[1])
	})

	t.Run("общий опрос", func(t *testing.T) {
		require.NoError(t, c.TriggerGI(ctx, "GenericIO/LLN0.RP.EventsRCB"))

		rpt := reports.eventually(t, 2)[1]
		assert.Equal(t, uint16(1), rpt.SeqNum)
		for i := range rpt.Values {
			assert.True(t, rpt.Included(i))
			assert.Equal(t, ReasonGI, rpt.Reasons[i])
		}
	})

	t.Run("отключение", func(t *testing.T) {
		require.NoError(t, c.DisableReporting(ctx, "GenericIO/LLN0.RP.EventsRCB"))

		rcb, err := c.GetRCBValues(ctx, "GenericIO/LLN0.RP.EventsRCB")
		require.NoError(t, err)
		assert.False(t, rcb.RptEna)

		require.NoError(t, srv.UpdateBoolean(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO1.stVal[ST]"), false))
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, 2, reports.count())
	})
}

func TestBufferedReporting(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	reports := new(reportCollector)
	require.NoError(t, c.EnableReporting(ctx, "GenericIO/LLN0.BR.EventsBRCB", "", model.TriggerNone, reports.handle))
	require.NoError(t, srv.UpdateBoolean(model.MustParseObjectReference("GenericIO/GGIO1.Ind1.stVal[ST]"), true))

	rpt := reports.eventually(t, 1)[0]
	assert.Len(t, rpt.EntryID, 8)
	require.Len(t, rpt.Values, 3)
	assert.True(t, rpt.Included(2))
	assert.Equal(t, variant.Structure, rpt.Values[2].Type())

	rcb, err := c.GetRCBValues(ctx, "GenericIO/LLN0.BR.EventsBRCB")
	require.NoError(t, err)
	assert.Equal(t, rpt.EntryID, rcb.EntryID)
}

func TestParseReport(t *testing.T) {
	optFlds := func(o model.OptionFields) *variant.Variant {
		v := variant.NewBitStringVariant(10, nil)
		v.SetBitStringUint(o.Bits())
		return v
	}
	inclusion := func(bits ...bool) *variant.Variant {
		v := variant.NewBitStringVariant(len(bits), nil)
		for i, b := range bits {
			v.SetBit(i, b)
		}
		return v
	}
	reason := func(t model.TriggerOptions) *variant.Variant {
		v := variant.NewBitStringVariant(6, nil)
		v.SetBitStringUint(t.Bits())
		return v
	}

	tests := []struct {
		name   string
		values []*variant.Variant
		check  func(t *testing.T, r *Report)
		err    bool
	}{
		{
			name: "ссылки на данные и причины",
			values: []*variant.Variant{
				variant.NewVisibleStringVariant("rpt"),
				optFlds(model.OptDataReference | model.OptReasonForInclusion | model.OptBufferOverflow),
				variant.NewBoolVariant(true),
				inclusion(false, true, true),
				variant.NewVisibleStringVariant("LD/GGIO1$ST$Ind1"),
				variant.NewVisibleStringVariant("LD/GGIO1$MX$AnIn1"),
				variant.NewBoolVariant(true),
				variant.NewFloat32Variant(2.5),
				reason(model.TriggerQualityChanged),
				reason(model.TriggerIntegrity),
			},
			check: func(t *testing.T, r *Report) {
				assert.Equal(t, "rpt", r.RptID)
				assert.True(t, r.BufOverflow)
				assert.False(t, r.HasSeqNum())
				assert.Equal(t, []string{"", "LD/GGIO1$ST$Ind1", "LD/GGIO1$MX$AnIn1"}, r.DataReferences)
				assert.Nil(t, r.Values[0])
				assert.InDelta(t, 2.5, r.Values[2].Float64(), 1e-6)
				assert.Equal(t, []ReasonForInclusion{ReasonNotIncluded, ReasonQualityChange, ReasonIntegrity}, r.Reasons)
			},
		},
		{
			name: "без причин включения",
			values: []*variant.Variant{
				variant.NewVisibleStringVariant("rpt"),
				optFlds(0),
				inclusion(true),
				variant.NewIntegerVariant(5),
			},
			check: func(t *testing.T, r *Report) {
				assert.Equal(t, int64(5), r.Values[0].Int64())
				assert.Equal(t, ReasonUnknown, r.Reasons[0])
			},
		},
		{
			name: "не хватает значений",
			values: []*variant.Variant{
				variant.NewVisibleStringVariant("rpt"),
				optFlds(0),
				inclusion(true, true),
				variant.NewIntegerVariant(5),
			},
			err: true,
		},
		{
			name: "неверный тип поля",
			values: []*variant.Variant{
				variant.NewVisibleStringVariant("rpt"),
				optFlds(model.OptSequenceNumber),
				variant.NewBoolVariant(true),
			},
			err: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parseReport(tt.values)
			if tt.err {
				assert.ErrorIs(t, err, errReportFormat)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestControl(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	t.Run("прямое управление", func(t *testing.T) {
		actions := make(chan bool, 1)
		remote := srv.ControlObject(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO1"))
		remote.SetControlHandler(server.ControlHandlerFunc(func(action *server.ControlAction) bool {
			actions <- action.CtlVal.Bool()
			return true
		}))

		control, err := c.NewControlObject(ctx, "GenericIO/GGIO1.SPCSO1")
		require.NoError(t, err)
		defer control.Close()
		assert.Equal(t, model.DirectNormal, control.ControlModel())
		assert.False(t, control.HasTimeActivatedMode())
		assert.Equal(t, variant.Boolean, control.CtlValType())

		require.NoError(t, control.Operate(ctx, variant.NewBoolVariant(true), time.Time{}))
		assert.True(t, <-actions)
		assert.Equal(t, uint8(1), control.CtlNum())

		err = control.Operate(ctx, variant.NewIntegerVariant(1), time.Time{})
		assert.ErrorIs(t, err, ErrorTypeInconsistent)
	})

	t.Run("выбор перед управлением", func(t *testing.T) {
		control, err := c.NewControlObject(ctx, "GenericIO/GGIO1.SPCSO2")
		require.NoError(t, err)
		defer control.Close()
		assert.Equal(t, model.SboNormal, control.ControlModel())

		err = control.Operate(ctx, variant.NewBoolVariant(true), time.Time{})
		assert.ErrorIs(t, err, ErrorAccessDenied)
		require.Eventually(t, func() bool {
			return control.LastApplError().AddCause == model.AddCauseObjectNotSelected
		}, 3*time.Second, 10*time.Millisecond)
		assert.Equal(t, "GenericIO/GGIO1$CO$SPCSO2$Oper", c.LastApplError().ControlObject)

		require.NoError(t, control.Select(ctx))
		require.NoError(t, control.Operate(ctx, variant.NewBoolVariant(true), time.Time{}))

		assert.ErrorIs(t, control.SelectWithValue(ctx, variant.NewBoolVariant(true)), ErrorServiceNotSupported)
		assert.ErrorIs(t, control.Cancel(ctx), ErrorServiceNotSupported)
	})

	t.Run("завершение команды", func(t *testing.T) {
		terminations := make(chan CommandTermination, 2)
		control, err := c.NewControlObject(ctx, "GenericIO/GGIO1.SPCSO3")
		require.NoError(t, err)
		defer control.Close()
		control.SetCommandTerminationHandler(func(_ *ControlObject, termination CommandTermination) {
			terminations <- termination
		})

		require.NoError(t, control.Operate(ctx, variant.NewBoolVariant(true), time.Time{}))
		select {
		case termination := <-terminations:
			assert.True(t, termination.Positive)
		case <-time.After(3 * time.Second):
			t.Fatal("command termination not received")
		}

		remote := srv.ControlObject(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO3"))
		remote.SetControlHandler(server.ControlHandlerFunc(func(action *server.ControlAction) bool {
			action.AddCause = model.AddCauseBlockedByProcess
			return false
		}))

		require.NoError(t, control.Operate(ctx, variant.NewBoolVariant(false), time.Time{}))
		select {
		case termination := <-terminations:
			assert.False(t, termination.Positive)
			assert.Equal(t, model.AddCauseBlockedByProcess, termination.Error.AddCause)
			assert.Equal(t, model.ControlErrorUnknown, termination.Error.Error)
		case <-time.After(3 * time.Second):
			t.Fatal("command termination not received")
		}
	})

	t.Run("выбор со значением и отмена", func(t *testing.T) {
		control, err := c.NewControlObject(ctx, "GenericIO/GGIO1.SPCSO4")
		require.NoError(t, err)
		defer control.Close()
		assert.True(t, control.HasTimeActivatedMode())
		control.SetOrigin("station", model.OriginatorStationControl)

		remote := srv.ControlObject(model.MustParseObjectReference("GenericIO/GGIO1.SPCSO4"))

		require.NoError(t, control.SelectWithValue(ctx, variant.NewBoolVariant(true)))
		assert.Equal(t, server.StateReady, remote.State())

		require.NoError(t, control.Cancel(ctx))
		assert.Equal(t, server.StateUnselected, remote.State())

		require.NoError(t, control.SelectWithValue(ctx, variant.NewBoolVariant(true)))
		require.NoError(t, control.Operate(ctx, variant.NewBoolVariant(true), time.Now().Add(time.Hour)))
		assert.Equal(t, server.StateWaitForActivationTime, remote.State())

		require.NoError(t, control.Cancel(ctx))
		assert.Equal(t, server.StateUnselected, remote.State())
	})

	t.Run("не объект управления", func(t *testing.T) {
		_, err := c.NewControlObject(ctx, "GenericIO/GGIO1.Ind1")
		assert.Error(t, err)

		_, err = c.NewControlObject(ctx, "GenericIO/GGIO1.SPCSO1.ctlVal")
		assert.ErrorIs(t, err, ErrorObjectReferenceInvalid)
	})
}

func TestFiles(t *testing.T) {
	srv := startTestServer(t)
	c := connect(t, srv)
	ctx := testContext(t)

	entries, err := c.FileDirectory(ctx, "")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"COMTRADE/", "readme.txt"}, names)

	var data []byte
	require.NoError(t, c.GetFile(ctx, "COMTRADE/rec1.cfg", func(chunk []byte) bool {
		data = append(data, chunk...)
		return true
	}))
	assert.Equal(t, "station,1,2013", string(data))

	require.NoError(t, c.GetFile(ctx, "readme.txt", func([]byte) bool { return false }))

	require.NoError(t, c.DeleteFile(ctx, "readme.txt"))
	err = c.GetFile(ctx, "readme.txt", func([]byte) bool { return true })
	assert.ErrorIs(t, err, ErrorObjectDoesNotExist)
}
