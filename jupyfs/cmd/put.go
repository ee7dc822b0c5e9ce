package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/mimereader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
)

var putCmd = &cobra.Command{
	Use:     "put <local file> <path>",
	Aliases: []string{"upload"},
	Short:   "store a local file in the contents backend",
	Example: "jupyfs put ./analysis.ipynb projects/demo/analysis.ipynb",
	Args:    cobra.ExactArgs(2),
	Run:     doPut,
}

func doPut(cmd *cobra.Command, args []string) {
	source := filepath.ToSlash(args[0])
	p, err := contents.ValidatePath(args[1])
	cobra.CheckErr(err)

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

	t := startTimer()
	defer func() { logger.Info().Msgf("Duration: %s", t.String()) }()

	ctx := context.Background()
	be, err := openBackend(ctx, true, logger)
	if err != nil {
		logger.Error().Stack().Err(err).Msg("cannot open contents backend")
		return
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error().Stack().Err(err).Msgf("cannot close backend '%s'", be.location)
		}
	}()

	fp, err := os.Open(source)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot open '%s'", source)
		return
	}
	defer fp.Close()
	dr, err := mimereader.NewDetectReader(fp, source)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot read '%s'", source)
		return
	}
	data, err := io.ReadAll(dr)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot read '%s'", source)
		return
	}

	// a directory target stores the file under its own name
	if ok, err := be.manager.DirExists(ctx, p); err == nil && ok {
		p = contents.JoinPath(p, path.Base(source))
	}

	incoming, err := incomingFromBytes(p, data, dr.Mimetype())
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot encode '%s'", source)
		return
	}
	model, err := be.manager.Save(ctx, incoming, p)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot save '%s'", p)
		return
	}
	fmt.Printf("stored '%s' as '%s' (%s)\n", source, model.Path, dr.Mimetype())
}
