package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	libiec61850 "github.com/careychow/libIEC61850-sub000"
	"github.com/careychow/libIEC61850-sub000/iec61850/client"
	"github.com/careychow/libIEC61850-sub000/internal/capture"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
)

const version = "0.8.0"

var (
	cfgFile     string
	host        string
	port        int
	timeout     time.Duration
	password    string
	outputFmt   string
	logLevel    string
	verbose     bool
	noColor     bool
	capturePath string

	log = logger.NewLogger("cli")
)

var rootCmd = &cobra.Command{
	Use:   "iec61850",
	Short: "IEC 61850 MMS client and server",
	Long: `iec61850 talks to IEC 61850 devices over MMS (ISO-on-TCP, port 102).

It reads and writes data attributes, browses the data model, operates
controls, subscribes to reports, accesses device files and serves a data
model loaded from a YAML or TOML file.

Examples:
  # Browse the data model of a device
  iec61850 browse -H 10.0.0.5

  # Read a measured value
  iec61850 read -H 10.0.0.5 "GenericIO/GGIO1.AnIn1.mag.f[MX]"

  # Operate a switch with select-before-operate
  iec61850 control -H 10.0.0.5 GenericIO/GGIO1.SPCSO2 true --type bool

  # Serve a model file
  iec61850 server --model ied.yaml --listen :10102`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log-level")
		if viper.GetBool("verbose") {
			level = "debug"
		}
		if err := logger.Setup(os.Stderr, level); err != nil {
			return fmt.Errorf("log level %q: %w", level, err)
		}
		setupColor(viper.GetBool("no-color"))
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.iec61850.yaml)")
	flags.StringVarP(&host, "host", "H", "localhost", "Server host name or address")
	flags.IntVarP(&port, "port", "p", libiec61850.DefaultPort, "Server TCP port")
	flags.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Request timeout")
	flags.StringVar(&password, "password", "", "ACSE password authentication")
	flags.StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, raw)")
	flags.StringVar(&logLevel, "log-level", "warning", "Log level (debug, info, notice, warning, error)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")
	flags.StringVar(&capturePath, "capture", "", "Write MMS traffic to a pcap file")

	for _, name := range []string{"host", "port", "timeout", "password", "output", "log-level", "verbose", "no-color", "capture"} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".iec61850")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("IEC61850")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && viper.GetBool("verbose") {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// openCapture открывает pcap файл из --capture. Без флага возвращает nil.
func openCapture() (*capture.Writer, io.Closer, error) {
	path := viper.GetString("capture")
	if path == "" {
		return nil, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("capture: %w", err)
	}
	w, err := capture.NewWriter(f, capture.WithLogger(log))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return w, f, nil
}

// clientSession подключенный клиент и ресурсы, закрываемые вместе с ним
type clientSession struct {
	conn    *client.Connection
	capture io.Closer
}

func (s *clientSession) Close() {
	if err := s.conn.Release(context.Background()); err != nil {
		log.Debug("release: %v", err)
	}
	s.conn.Close()
	if s.capture != nil {
		s.capture.Close()
	}
}

// connect подключается к серверу по глобальным флагам
func connect(ctx context.Context, opts ...client.Option) (*clientSession, error) {
	w, closer, err := openCapture()
	if err != nil {
		return nil, err
	}

	opts = append([]client.Option{
		client.WithLogger(logger.NewLogger("iec61850")),
		client.WithRequestTimeout(viper.GetDuration("timeout")),
	}, opts...)
	if w != nil {
		opts = append(opts, client.WithMmsOptions(
			mms.WithIsoOptions(iso.WithClientCotpOptions(cotp.WithTap(w.Tap(false)))),
		))
	}

	params := iso.NewConnectionParameters(viper.GetString("host"), viper.GetInt("port"))
	if pw := viper.GetString("password"); pw != "" {
		params.SetPassword(pw)
	}

	c, err := libiec61850.DialParameters(ctx, params, opts...)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}
	return &clientSession{conn: c, capture: closer}, nil
}

// requestContext контекст одной операции с таймаутом из --timeout
func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*viper.GetDuration("timeout"))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("iec61850 version %s\n", version)
	},
}
