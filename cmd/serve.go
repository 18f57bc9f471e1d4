package cmd

import (
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opaqueref/visitor/dap"
	"github.com/opaqueref/visitor/vm"
	"github.com/opaqueref/visitor/visitor"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the DAP server against a fresh host/debugger machine pair",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":4711", "address to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(command *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(viper.GetString("log-level")); err == nil {
		log.SetLevel(lvl)
	}

	h := vm.NewMachine("host")
	d := vm.NewMachine("debugger")
	v := visitor.New(h, d, visitor.WithLogger(log))

	server := dap.NewServer(serveAddr, v)
	server.Log = log

	ctx, cancel := signal.NotifyContext(command.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("addr", serveAddr).Info("visitor: listening for DAP clients")
	return server.Serve(ctx)
}
