package cmd

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"
	"unicode/utf8"

	"emperror.dev/errors"
	"github.com/je4/filesystem/v3/pkg/osfsrw"
	"github.com/je4/filesystem/v3/pkg/s3fsrw"
	"github.com/je4/filesystem/v3/pkg/writefs"
	"github.com/je4/filesystem/v3/pkg/zipfs"
	"github.com/je4/filesystem/v3/pkg/zipfsrw"
	"github.com/je4/utils/v2/pkg/checksum"
	"github.com/je4/utils/v2/pkg/zLogger"
	"github.com/jupyfs/jupyfs/config"
	"github.com/jupyfs/jupyfs/pkg/contents"
	"github.com/jupyfs/jupyfs/pkg/fscontents"
	"github.com/jupyfs/jupyfs/pkg/mimereader"
	"github.com/jupyfs/jupyfs/pkg/omero"
	"github.com/jupyfs/jupyfs/pkg/omerocontents"
)

func startTimer() *timer {
	t := &timer{}
	t.Start()
	return t
}

type timer struct {
	start time.Time
}

func (t *timer) Start() {
	t.start = time.Now()
}

func (t *timer) String() string {
	delta := time.Now().Sub(t.start)
	return delta.String()
}

func initializeFSFactory(s3Config *config.S3Config, readOnly bool, logger zLogger.ZLogger) (*writefs.Factory, error) {
	if s3Config == nil {
		s3Config = &config.S3Config{}
	}
	zipDigests := []checksum.DigestAlgorithm{checksum.DigestSHA512}

	fsFactory, err := writefs.NewFactory()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create filesystem factory")
	}

	if readOnly {
		if err := fsFactory.Register(zipfs.NewCreateFSFunc(logger), "\\.zip$", writefs.HighFS); err != nil {
			return nil, errors.Wrap(err, "cannot register zipfs")
		}
	} else {
		if err := fsFactory.Register(zipfsrw.NewCreateFSChecksumFunc(false, zipDigests, logger), "\\.zip$", writefs.HighFS); err != nil {
			return nil, errors.Wrap(err, "cannot register zipfsrw")
		}
	}
	if err := fsFactory.Register(osfsrw.NewCreateFSFunc(logger), "", writefs.LowFS); err != nil {
		return nil, errors.Wrap(err, "cannot register osfs")
	}
	if s3Config.Endpoint != "" {
		if err := fsFactory.Register(
			s3fsrw.NewCreateFSFunc(
				map[string]*s3fsrw.S3Access{
					"default": {
						string(s3Config.AccessKeyID),
						string(s3Config.AccessKey),
						string(s3Config.Endpoint),
						s3Config.UseSSL,
					},
				},
				s3fsrw.ARNRegexStr,
				false,
				nil,
				"",
				"",
				logger,
			),
			s3fsrw.ARNRegexStr,
			writefs.MediumFS,
		); err != nil {
			return nil, errors.Wrap(err, "cannot register s3fs")
		}
	}
	return fsFactory, nil
}

// backend bundles a contents manager with its checkpoint store.
type backend struct {
	manager     contents.Manager
	checkpoints contents.Checkpoints
	kind        string
	location    string
}

func (be *backend) Close() error {
	return be.manager.Close()
}

// openBackend builds the configured contents backend. allowHidden widens
// the hidden entry gate beyond the configured default.
func openBackend(ctx context.Context, allowHidden bool, logger zLogger.ZLogger) (*backend, error) {
	switch conf.DefaultBackend {
	case "fs":
		return openFSBackend(allowHidden, logger)
	case "omero":
		return openOmeroBackend(ctx, allowHidden, logger)
	}
	return nil, errors.Errorf("unknown backend '%s' please use 'fs' or 'omero'", conf.DefaultBackend)
}

func openFSBackend(allowHidden bool, logger zLogger.ZLogger) (*backend, error) {
	fsFactory, err := initializeFSFactory(conf.S3, !conf.FS.Writable, logger)
	if err != nil {
		return nil, err
	}
	handle, err := fscontents.NewHandle(fsFactory, string(conf.FS.FSURL),
		fscontents.WithCreate(conf.FS.Create),
		fscontents.WithWritable(conf.FS.Writable),
		fscontents.WithKeepalive(time.Duration(conf.FS.Keepalive)),
		fscontents.WithCloseOnExit(conf.FS.CloseOnExit),
		fscontents.WithLogger(logger),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open filesystem '%s'", conf.FS.FSURL)
	}
	return &backend{
		manager:     fscontents.NewManager(handle, allowHidden || conf.FS.AllowHidden),
		checkpoints: fscontents.NewCheckpoints(handle, conf.FS.CheckpointDir, conf.FS.CheckpointTemplate),
		kind:        "fs",
		location:    handle.URL(),
	}, nil
}

func openOmeroBackend(ctx context.Context, allowHidden bool, logger zLogger.ZLogger) (*backend, error) {
	host := string(conf.Omero.Host)
	if host == "" {
		return nil, errors.New("no omero host configured")
	}
	opts := []omero.ClientOption{
		omero.WithServerID(int(conf.Omero.ServerID)),
		omero.WithInsecure(conf.Omero.Insecure),
		omero.WithClientLogger(logger),
	}
	if conf.Omero.UploadPath != "" {
		opts = append(opts, omero.WithUploadPath(conf.Omero.UploadPath))
	}
	client, err := omero.NewClient(host, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create omero client for '%s'", host)
	}
	if key := string(conf.Omero.SessionKey); key != "" {
		if err := client.JoinSession(ctx, key); err != nil {
			return nil, errors.Wrapf(err, "cannot join omero session on '%s'", host)
		}
	} else {
		if _, err := client.Login(ctx, string(conf.Omero.Username), string(conf.Omero.Password)); err != nil {
			return nil, errors.Wrapf(err, "cannot login to '%s'", host)
		}
	}
	if interval := time.Duration(conf.Omero.Keepalive); interval > 0 {
		client.StartKeepalive(interval)
	}
	mgr := omerocontents.NewManager(client, allowHidden, logger)
	return &backend{
		manager:     mgr,
		checkpoints: omerocontents.NewCheckpoints(mgr, conf.Omero.CheckpointPrefix),
		kind:        "omero",
		location:    host,
	}, nil
}

// modelBytes flattens a fetched model into the raw bytes of the entry.
func modelBytes(model *contents.Model) ([]byte, error) {
	switch model.Type {
	case contents.TypeNotebook:
		data, err := json.MarshalIndent(model.Content, "", " ")
		if err != nil {
			return nil, errors.Wrapf(err, "cannot serialize notebook '%s'", model.Path)
		}
		return data, nil
	case contents.TypeDirectory:
		return nil, errors.Errorf("'%s' is a directory", model.Path)
	}
	text, ok := model.Content.(string)
	if !ok {
		return nil, errors.Errorf("no content for '%s'", model.Path)
	}
	if model.Format != nil && *model.Format == contents.FormatBase64 {
		data, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot decode content of '%s'", model.Path)
		}
		return data, nil
	}
	return []byte(text), nil
}

// incomingFromBytes builds a save body for raw file bytes, picking the
// notebook, text or base64 representation from the detected mimetype.
func incomingFromBytes(p string, data []byte, mimetype string) (*contents.IncomingModel, error) {
	incoming := &contents.IncomingModel{
		Path:     p,
		Mimetype: mimetype,
	}
	if mimetype == mimereader.NotebookMimetype {
		incoming.Type = contents.TypeNotebook
		incoming.Content = json.RawMessage(data)
		return incoming, nil
	}
	incoming.Type = contents.TypeFile
	var content []byte
	var err error
	if utf8.Valid(data) {
		incoming.Format = contents.FormatText
		content, err = json.Marshal(string(data))
	} else {
		incoming.Format = contents.FormatBase64
		content, err = json.Marshal(base64.StdEncoding.EncodeToString(data))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot serialize content of '%s'", p)
	}
	incoming.Content = json.RawMessage(content)
	return incoming, nil
}
