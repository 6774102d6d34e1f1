package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	libiec61850 "github.com/careychow/libIEC61850-sub000"
	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/iec61850/server"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/acse"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
)

var (
	serverModel          string
	serverListen         string
	serverFileStore      string
	serverMaxConnections int
	serverVendor         string
	serverModelName      string
	serverRevision       string
	serverEcho           bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve a data model",
	Long: `Server loads a data model from a YAML or TOML file and serves it over MMS.

Controllable data objects echo the operated control value into stVal unless
--echo=false. Files of --filestore are served through the MMS file services.
--password enables ACSE password authentication for clients.

Examples:
  # Serve on the standard port
  iec61850 server --model ied.yaml

  # Serve on an unprivileged port and capture the traffic
  iec61850 server --model ied.toml --listen :10102 --capture server.pcap`,

	RunE: runServer,
}

func init() {
	flags := serverCmd.Flags()
	flags.StringVarP(&serverModel, "model", "m", "", "Data model file (.yaml, .yml or .toml)")
	flags.StringVarP(&serverListen, "listen", "l", "", "Listen address (default is :<port>)")
	flags.StringVar(&serverFileStore, "filestore", mms.DefaultFileStoreBasePath, "Directory served by the file services")
	flags.IntVar(&serverMaxConnections, "max-connections", iso.DefaultMaxConnections, "Maximum number of clients")
	flags.StringVar(&serverVendor, "vendor", mms.DefaultVendorName, "Identify vendor name")
	flags.StringVar(&serverModelName, "model-name", mms.DefaultModelName, "Identify model name")
	flags.StringVar(&serverRevision, "revision", mms.DefaultRevision, "Identify revision")
	flags.BoolVar(&serverEcho, "echo", true, "Echo control values into stVal")

	serverCmd.MarkFlagRequired("model")

	for _, name := range []string{"model", "listen", "filestore", "max-connections"} {
		viper.BindPFlag("server."+name, flags.Lookup(name))
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	isoOpts := []iso.ServerOption{
		iso.WithMaxConnections(viper.GetInt("server.max-connections")),
	}
	if pw := viper.GetString("password"); pw != "" {
		isoOpts = append(isoOpts, iso.WithAuthenticator(&acse.PasswordAuthenticator{Password: []byte(pw)}))
	}

	w, closer, err := openCapture()
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
		// TapFunc не различает соединения, поэтому все клиенты пишутся
		// в один TCP поток
		isoOpts = append(isoOpts, iso.WithServerCotpOptions(cotp.WithTap(w.Tap(true))))
	}

	srv, err := libiec61850.NewServer(afero.NewOsFs(), viper.GetString("server.model"),
		server.WithLogger(logger.NewLogger("iec61850")),
		server.WithMmsOptions(
			mms.WithFileStore(mms.NewFileStore(viper.GetString("server.filestore"))),
			mms.WithIdentity(serverVendor, serverModelName, serverRevision),
			mms.WithIsoServerOptions(isoOpts...),
		),
		server.WithConnectionHandler(func(conn *mms.ServerConnection, connected bool) {
			if connected {
				log.Info("client connected")
			} else {
				log.Info("client disconnected")
			}
		}),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	if serverEcho {
		echoControls(srv)
	}

	address := viper.GetString("server.listen")
	if address == "" {
		address = net.JoinHostPort("", strconv.Itoa(viper.GetInt("port")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Serving %s on %s\n", refColor(srv.Model().Name), address)
	err = srv.ListenAndServe(ctx, address)
	if errors.Is(err, iso.ErrServerClosed) {
		return nil
	}
	return err
}

// echoControls записывает значение выполненной команды в stVal объекта
func echoControls(srv *server.Server) {
	srv.Model().WalkControllable(func(ref model.ObjectReference, do *model.DataObject) {
		co := srv.ControlObject(ref)
		if co == nil || do.Attribute("stVal") == nil {
			return
		}
		stVal := ref.WithFC(model.FCST).Child("stVal")
		co.SetControlHandler(server.ControlHandlerFunc(func(action *server.ControlAction) bool {
			if err := srv.UpdateAttributeValue(stVal, action.CtlVal); err != nil {
				log.Warning("%s: %v", stVal, err)
				return false
			}
			log.Info("%s = %s", stVal, action.CtlVal)
			return true
		}))
	})
}
