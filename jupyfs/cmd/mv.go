package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
)

var mvCmd = &cobra.Command{
	Use:     "mv <path> <new path>",
	Aliases: []string{"rename"},
	Short:   "rename a file or directory of the contents backend",
	Example: "jupyfs mv projects/demo/Untitled.ipynb projects/demo/analysis.ipynb",
	Args:    cobra.ExactArgs(2),
	Run:     doMv,
}

func doMv(cmd *cobra.Command, args []string) {
	oldPath, err := contents.ValidatePath(args[0])
	cobra.CheckErr(err)
	newPath, err := contents.ValidatePath(args[1])
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

	model, err := be.manager.Rename(ctx, oldPath, newPath)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("cannot rename '%s'", oldPath)
		return
	}
	if err := be.checkpoints.RenameAllCheckpoints(ctx, oldPath, newPath); err != nil {
		logger.Warn().Msgf("cannot move checkpoints of %s: %v", oldPath, err)
	}
	fmt.Printf("renamed '%s' to '%s'\n", oldPath, model.Path)
}
