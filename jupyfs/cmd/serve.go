package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"emperror.dev/errors"
	configutil "github.com/je4/utils/v2/pkg/config"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
)

var serveCmd = &cobra.Command{
	Use:     "serve [fs url]",
	Aliases: []string{"server"},
	Short:   "serve the jupyter contents api over http",
	Example: "jupyfs serve ./notebooks",
	Args:    cobra.MaximumNArgs(1),
	Run:     doServe,
}

func initServe() {
	serveCmd.Flags().StringP("serve-addr", "a", "", "address to listen on")
	serveCmd.Flags().StringP("serve-external-addr", "e", "", "external address to access the server")
	serveCmd.Flags().String("serve-tls-cert", "", "path to tls certificate ('auto' generates a throwaway one)")
	serveCmd.Flags().String("serve-tls-key", "", "path to tls certificate key")
	serveCmd.Flags().String("serve-token", "", "token clients must present")
	serveCmd.Flags().Bool("allow-hidden", false, "serve hidden files and directories")
}

func doServeConf(cmd *cobra.Command) {
	if str := getFlagString(cmd, "serve-addr"); str != "" {
		conf.Serve.Addr = str
	}
	if str := getFlagString(cmd, "serve-external-addr"); str != "" {
		conf.Serve.AddrExt = str
	}
	if str := getFlagString(cmd, "serve-tls-cert"); str != "" {
		conf.Serve.CertFile = str
	}
	if str := getFlagString(cmd, "serve-tls-key"); str != "" {
		conf.Serve.KeyFile = str
	}
	if str := getFlagString(cmd, "serve-token"); str != "" {
		conf.Serve.Token = configutil.EnvString(str)
	}
	if getFlagBool(cmd, "allow-hidden") {
		conf.Serve.AllowHidden = true
	}
}

func doServe(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		conf.DefaultBackend = "fs"
		conf.FS.FSURL = configutil.EnvString(args[0])
	}

	// create logger instance
	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("cannot get hostname: %v", err)
	}

	var loggerTLSConfig *tls.Config
	var loggerLoader io.Closer
	if conf.Log.Stash.TLS != nil {
		loggerTLSConfig, loggerLoader, err = loader.CreateClientLoader(conf.Log.Stash.TLS, nil)
		if err != nil {
			log.Fatalf("cannot create client loader: %v", err)
		}
		defer loggerLoader.Close()
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	_logger, _logstash, _logfile, err := ublogger.CreateUbMultiLoggerTLS(conf.Log.Level, conf.Log.File,
		ublogger.SetDataset(conf.Log.Stash.Dataset),
		ublogger.SetLogStash(conf.Log.Stash.LogstashHost, conf.Log.Stash.LogstashPort, conf.Log.Stash.Namespace, conf.Log.Stash.LogstashTraceLevel),
		ublogger.SetTLS(conf.Log.Stash.TLS != nil),
		ublogger.SetTLSConfig(loggerTLSConfig),
	)
	if err != nil {
		log.Fatalf("cannot create logger: %v", err)
	}
	if _logstash != nil {
		defer _logstash.Close()
	}

	if _logfile != nil {
		defer _logfile.Close()
	}

	l2 := _logger.With().Timestamp().Str("host", hostname).Logger()
	var logger zLogger.ZLogger = &l2

	doServeConf(cmd)

	t := startTimer()
	defer func() { logger.Info().Msgf("Duration: %s", t.String()) }()

	be, err := openBackend(context.Background(), conf.Serve.AllowHidden, logger)
	if err != nil {
		logger.Error().Stack().Err(err).Msg("cannot open contents backend")
		return
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error().Stack().Err(err).Msgf("cannot close backend '%s'", be.location)
		}
	}()

	if be.kind == "fs" && strings.HasPrefix(be.location, "mem://") {
		seedMemBackend(logger, be)
	}

	urlExt, err := url.Parse(conf.Serve.AddrExt)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot parse external address '%s'", conf.Serve.AddrExt)
		return
	}

	srv, err := server.NewServer(&server.Service{
		Backend:     be.kind,
		Location:    be.location,
		Manager:     be.manager,
		Checkpoints: be.checkpoints,
		AllowHidden: conf.Serve.AllowHidden,
		Token:       string(conf.Serve.Token),
	}, conf.Serve.Addr, urlExt, logger)
	if err != nil {
		logger.Error().Stack().Err(err).Msg("cannot create server")
		return
	}

	go func() {
		if err := srv.ListenAndServe(conf.Serve.CertFile, conf.Serve.KeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Stack().Err(err).Msg("cannot start server")
		}
	}()

	end := make(chan bool, 1)

	// process waiting for interrupt signal (INT or TERM)
	go func() {
		sigint := make(chan os.Signal, 1)

		// interrupt signal sent from terminal
		signal.Notify(sigint, os.Interrupt)

		signal.Notify(sigint, syscall.SIGTERM)

		<-sigint

		// We received an interrupt signal, shut down.
		logger.Info().Msg("shutdown requested")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Stack().Err(err).Msg("cannot shutdown server")
		}

		end <- true
	}()

	<-end
	logger.Info().Msg("server stopped")
}

const welcomeNotebook = `{
 "cells": [
  {
   "cell_type": "markdown",
   "metadata": {},
   "source": [
    "# jupyfs\n",
    "\n",
    "This server runs on an in-memory filesystem. Everything stored here disappears when it stops."
   ]
  }
 ],
 "metadata": {},
 "nbformat": 4,
 "nbformat_minor": 5
}`

// seedMemBackend puts a starter notebook into a fresh in-memory tree.
func seedMemBackend(logger zLogger.ZLogger, be *backend) {
	incoming := &contents.IncomingModel{
		Path:    "Welcome.ipynb",
		Type:    contents.TypeNotebook,
		Content: json.RawMessage(welcomeNotebook),
	}
	if _, err := be.manager.Save(context.Background(), incoming, "Welcome.ipynb"); err != nil {
		logger.Warn().Msgf("cannot seed welcome notebook: %v", err)
		return
	}
	logger.Info().Msg("seeded 'Welcome.ipynb'")
}
