package cmd

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"emperror.dev/emperror"
	"emperror.dev/errors"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/spf13/cobra"
	ublogger "gitlab.switch.ch/ub-unibas/go-ublogger/v2"
	"go.ub.unibas.ch/cloud/certloader/v2/pkg/loader"
)

var checkpointCmd = &cobra.Command{
	Use:     "checkpoint <save|list|restore|rm> <path> [checkpoint id]",
	Aliases: []string{"cp"},
	Short:   "manage checkpoints of a file or notebook",
	Example: "jupyfs checkpoint save projects/demo/analysis.ipynb",
	Args:    cobra.RangeArgs(2, 3),
	Run:     doCheckpoint,
}

func doCheckpoint(cmd *cobra.Command, args []string) {
	action := args[0]
	p, err := contents.ValidatePath(args[1])
	cobra.CheckErr(err)
	checkpointID := "0"
	if len(args) > 2 {
		checkpointID = args[2]
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

	switch action {
	case "save":
		err = saveCheckpoint(ctx, be, p)
	case "list":
		err = listCheckpoints(ctx, be, p)
	case "restore":
		err = restoreCheckpoint(ctx, be, p, checkpointID)
	case "rm", "delete":
		if err = be.checkpoints.DeleteCheckpoint(ctx, checkpointID, p); err == nil {
			fmt.Printf("removed checkpoint '%s' of '%s'\n", checkpointID, p)
		}
	default:
		emperror.Panic(cmd.Help())
		cobra.CheckErr(errors.Errorf("unknown checkpoint action '%s'", action))
		return
	}
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("checkpoint %s failed for '%s'", action, p)
	}
}

func saveCheckpoint(ctx context.Context, be *backend, p string) error {
	model, err := be.manager.Get(ctx, p, contents.GetOptions{Content: true})
	if err != nil {
		return err
	}
	var cp *contents.Checkpoint
	switch model.Type {
	case contents.TypeNotebook:
		var raw []byte
		raw, err = json.Marshal(model.Content)
		if err != nil {
			return errors.Wrapf(err, "cannot serialize content of '%s'", p)
		}
		cp, err = be.checkpoints.CreateNotebookCheckpoint(ctx, raw, p)
	case contents.TypeFile:
		var data []byte
		data, err = modelBytes(model)
		if err != nil {
			return err
		}
		format := contents.FormatText
		if model.Format != nil {
			format = *model.Format
		}
		cp, err = be.checkpoints.CreateFileCheckpoint(ctx, data, format, p)
	default:
		return errors.Errorf("directories have no checkpoints")
	}
	if err != nil {
		return err
	}
	fmt.Printf("created checkpoint '%s' of '%s'\n", cp.ID, p)
	return nil
}

func listCheckpoints(ctx context.Context, be *backend, p string) error {
	cps, err := be.checkpoints.ListCheckpoints(ctx, p)
	if err != nil {
		return err
	}
	for _, cp := range cps {
		fmt.Printf("%s  %s\n", cp.ID, cp.LastModified.Format(time.RFC3339))
	}
	return nil
}

func restoreCheckpoint(ctx context.Context, be *backend, p, checkpointID string) error {
	incoming := &contents.IncomingModel{
		Path: p,
		Type: contents.GuessType(p, false),
	}
	if incoming.Type == contents.TypeNotebook {
		cp, err := be.checkpoints.GetNotebookCheckpoint(ctx, checkpointID, p)
		if err != nil {
			return err
		}
		incoming.Content = json.RawMessage(cp.Content)
	} else {
		cp, err := be.checkpoints.GetFileCheckpoint(ctx, checkpointID, p)
		if err != nil {
			return err
		}
		incoming.Format = cp.Format
		text := string(cp.Content)
		if cp.Format == contents.FormatBase64 {
			text = base64.StdEncoding.EncodeToString(cp.Content)
		}
		content, err := json.Marshal(text)
		if err != nil {
			return errors.Wrapf(err, "cannot serialize content of '%s'", p)
		}
		incoming.Content = json.RawMessage(content)
	}
	if _, err := be.manager.Save(ctx, incoming, p); err != nil {
		return err
	}
	fmt.Printf("restored checkpoint '%s' of '%s'\n", checkpointID, p)
	return nil
}
