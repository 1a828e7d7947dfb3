package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/faced/internal/logger"
	"github.com/andresmejia3/faced/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the single-page detection tool over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		p, d, err := newPipeline(AppConfig)
		if err != nil {
			return err
		}
		defer d.Close()

		fmt.Fprintf(os.Stderr, "🚀 Serving on http://%s (detector: %s)\n", displayAddr(AppConfig.Server.Addr), d.Name())
		srv := server.New(p, AppConfig, Version, logger.Named("server"))
		if err := srv.Run(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "👋 Server stopped")
		return nil
	},
}

// displayAddr turns ":8501" into "localhost:8501" for the startup line.
func displayAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func init() {
	serveCmd.Flags().String("addr", ":8501", "Listen address")
	rootCmd.AddCommand(serveCmd)
}
