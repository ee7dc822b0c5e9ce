package config

import (
	_ "embed"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/BurntSushi/toml"
	configutil "github.com/je4/utils/v2/pkg/config"
	"github.com/je4/utils/v2/pkg/stashconfig"
)

//go:embed default.toml
var DefaultConfig []byte

// FSConfig opens the filesystem backend. The url follows the writefs
// factory registrations: a local directory, a *.zip archive, an S3 ARN
// or mem:// for a throwaway in-process tree.
type FSConfig struct {
	FSURL              configutil.EnvString `toml:"fsurl"`
	Create             bool                 `toml:"create"`
	Writable           bool                 `toml:"writable"`
	CloseOnExit        bool                 `toml:"closeonexit"`
	Keepalive          configutil.Duration  `toml:"keepalive"`
	CheckpointDir      string               `toml:"checkpointdir"`
	CheckpointTemplate string               `toml:"checkpointtemplate"`
	AllowHidden        bool                 `toml:"allowhidden"`
}

type S3Config struct {
	Endpoint    configutil.EnvString `toml:"endpoint"`
	AccessKeyID configutil.EnvString `toml:"accesskeyid"`
	AccessKey   configutil.EnvString `toml:"accesskey"`
	Region      configutil.EnvString `toml:"region"`
	UseSSL      bool                 `toml:"usessl"`
}

// OmeroConfig connects the OMERO backend. Either username/password or a
// running session key must be set.
type OmeroConfig struct {
	Host             configutil.EnvString `toml:"host"`
	Username         configutil.EnvString `toml:"username"`
	Password         configutil.EnvString `toml:"password"`
	SessionKey       configutil.EnvString `toml:"sessionkey"`
	ServerID         int64                `toml:"serverid"`
	UploadPath       string               `toml:"uploadpath"`
	Keepalive        configutil.Duration  `toml:"keepalive"`
	Insecure         bool                 `toml:"insecure"`
	CheckpointPrefix string               `toml:"checkpointprefix"`
}

type ServeConfig struct {
	Addr        string               `toml:"addr"`
	AddrExt     string               `toml:"addrext"`
	CertFile    string               `toml:"certfile"`
	KeyFile     string               `toml:"keyfile"`
	Token       configutil.EnvString `toml:"token"`
	AllowHidden bool                 `toml:"allowhidden"`
}

type JupyfsConfig struct {
	DefaultBackend string             `toml:"defaultbackend"`
	TempDir        string             `toml:"tempdir"`
	FS             *FSConfig          `toml:"FS"`
	Omero          *OmeroConfig       `toml:"Omero"`
	S3             *S3Config          `toml:"S3"`
	Serve          *ServeConfig       `toml:"Serve"`
	Log            stashconfig.Config `toml:"Log"`
}

func LoadJupyfsConfig(data string) (*JupyfsConfig, error) {
	var conf = &JupyfsConfig{
		DefaultBackend: "fs",
		Log: stashconfig.Config{
			Level: "ERROR",
		},
		FS: &FSConfig{
			FSURL:       "mem://",
			Writable:    true,
			CloseOnExit: true,
		},
		Omero: &OmeroConfig{
			ServerID:  1,
			Keepalive: configutil.Duration(60 * time.Second),
		},
		S3: &S3Config{
			UseSSL: true,
		},
		Serve: &ServeConfig{
			Addr:    "localhost:8888",
			AddrExt: "http://localhost:8888/",
		},
		TempDir: os.TempDir(),
	}

	if _, err := toml.Decode(data, conf); err != nil {
		return nil, errors.Wrap(err, "Error on loading config")
	}
	switch conf.DefaultBackend {
	case "fs", "omero":
	default:
		return nil, errors.Errorf("unknown backend '%s' please use 'fs' or 'omero'", conf.DefaultBackend)
	}
	if conf.FS.Keepalive < 0 || conf.Omero.Keepalive < 0 {
		return nil, errors.Errorf("keepalive intervals must not be negative")
	}
	return conf, nil
}
