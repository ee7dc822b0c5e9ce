package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
	"golang.org/x/exp/slices"
)

var lsCmd = &cobra.Command{
	Use:     "ls [path]",
	Aliases: []string{"list"},
	Short:   "list a directory of the contents backend",
	Example: "jupyfs ls projects/demo",
	Args:    cobra.MaximumNArgs(1),
	Run:     doLs,
}

func initLs() {
	lsCmd.Flags().BoolP("all", "a", false, "include hidden entries")
	lsCmd.Flags().Bool("json", false, "print the full contents model as json")
}

func doLs(cmd *cobra.Command, args []string) {
	var p string
	if len(args) > 0 {
		var err error
		p, err = contents.ValidatePath(args[0])
		cobra.CheckErr(err)
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
	be, err := openBackend(ctx, getFlagBool(cmd, "all"), logger)
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

	if getFlagBool(cmd, "json") {
		data, err := json.MarshalIndent(model, "", "  ")
		if err != nil {
			logger.Error().Stack().Err(err).Msgf("cannot serialize model of '%s'", p)
			return
		}
		fmt.Println(string(data))
		return
	}

	entries := []*contents.Model{model}
	if model.Type == contents.TypeDirectory {
		var ok bool
		if entries, ok = model.Content.([]*contents.Model); !ok {
			entries = []*contents.Model{}
		}
		slices.SortFunc(entries, func(a, b *contents.Model) int {
			if a.Type != b.Type {
				if a.Type == contents.TypeDirectory {
					return -1
				}
				if b.Type == contents.TypeDirectory {
					return 1
				}
			}
			return strings.Compare(a.Name, b.Name)
		})
	}
	for _, entry := range entries {
		name := entry.Name
		if entry.Type == contents.TypeDirectory {
			name += "/"
		}
		size := "-"
		if entry.Size != nil {
			size = humanize.Bytes(uint64(*entry.Size))
		}
		fmt.Printf("%-9s  %10s  %s  %s\n", entry.Type, size, entry.LastModified.Format(time.RFC3339), name)
	}
}
