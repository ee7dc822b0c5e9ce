package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
)

var getCmd = &cobra.Command{
	Use:     "get <path> [local file]",
	Aliases: []string{"cat"},
	Short:   "fetch a file or notebook from the contents backend",
	Example: "jupyfs get projects/demo/analysis.ipynb ./analysis.ipynb",
	Args:    cobra.RangeArgs(1, 2),
	Run:     doGet,
}

func doGet(cmd *cobra.Command, args []string) {
	p, err := contents.ValidatePath(args[0])
	cobra.CheckErr(err)
	var target string
	if len(args) > 1 {
		target = args[1]
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

	model, err := be.manager.Get(ctx, p, contents.GetOptions{Content: true})
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot read '%s'", p)
		return
	}
	data, err := modelBytes(model)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot decode '%s'", p)
		return
	}

	if target == "" || target == "-" {
		if _, err := os.Stdout.Write(data); err != nil {
			logger.Error().Stack().Err(err).Msg("cannot write to stdout")
		}
		return
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot write '%s'", target)
		return
	}
	fmt.Printf("stored '%s' as '%s' (%s)\n", p, target, humanize.Bytes(uint64(len(data))))
}
