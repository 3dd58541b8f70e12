package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmcleod/localtrust/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the CA certificate over HTTPS using the leaf certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.chain()
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{Addr: s.cfg.Addr}, c.Bundle(), s.logger)
		if err != nil {
			return err
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		s.logger.Info("serving trust chain",
			zap.String("addr", srv.Addr),
			zap.String("ca", c.Paths().CACert))

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			s.logger.Info("shutting down", zap.Stringer("signal", sig))
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", fmt.Sprintf(":%d", server.DefaultPort), "Address to listen on")
}
