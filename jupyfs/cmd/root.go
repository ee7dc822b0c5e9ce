package cmd

import (
	"fmt"
	"os"

	"emperror.dev/errors"
	configutil "github.com/je4/utils/v2/pkg/config"
	"github.com/jupyfs/jupyfs/config"
	"github.com/jupyfs/jupyfs/version"
	"github.com/spf13/cobra"
)

// all possible flags of all modules go here
var persistentFlagConfigFile string

var persistentFlagLogfile string
var persistentFlagLoglevel string

var persistentFlagBackend string
var persistentFlagFSURL string

var persistenFlagS3Endpoint string
var persistenFlagS3AccessKeyID string
var persistenFlagS3SecretAccessKey string
var persistentFlagS3Region string

var persistentFlagOmeroHost string
var persistentFlagOmeroUser string
var persistentFlagOmeroSession string

var conf *config.JupyfsConfig

var rootCmd = &cobra.Command{
	Use:   "jupyfs",
	Short: "jupyfs serves jupyter contents from virtual filesystems and omero",
	Long: fmt.Sprintf(`A jupyter contents service for virtual filesystems and OMERO servers.
https://github.com/jupyfs/jupyfs
Version %s`, version.Version),
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func getFlagString(cmd *cobra.Command, flag string) string {
	str, err := cmd.Flags().GetString(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("canot get flag %s: %v", flag, err))
	}
	return str
}

func getFlagBool(cmd *cobra.Command, flag string) bool {
	b, err := cmd.Flags().GetBool(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("canot get flag %s: %v", flag, err))
	}
	return b
}

func initConfig() {

	// load config file
	if persistentFlagConfigFile != "" {
		data, err := os.ReadFile(persistentFlagConfigFile)
		if err != nil {
			_ = rootCmd.Help()
			_, _ = fmt.Fprintf(os.Stderr, "error reading config file %s: %v\n", persistentFlagConfigFile, err)
			os.Exit(1)
		}
		conf, err = config.LoadJupyfsConfig(string(data))
		if err != nil {
			_ = rootCmd.Help()
			_, _ = fmt.Fprintf(os.Stderr, "error loading config file %s: %v\n", persistentFlagConfigFile, err)
			os.Exit(1)
		}
	} else {
		var err error
		conf, err = config.LoadJupyfsConfig(string(config.DefaultConfig))
		if err != nil {
			_ = rootCmd.Help()
			_, _ = fmt.Fprintf(os.Stderr, "error loading default config: %v\n", err)
			os.Exit(1)
		}
	}

	// overwrite config file with command line data
	if persistentFlagLogfile != "" {
		conf.Log.File = persistentFlagLogfile
	}
	if persistentFlagLoglevel != "" {
		conf.Log.Level = persistentFlagLoglevel
	}
	if persistentFlagBackend != "" {
		conf.DefaultBackend = persistentFlagBackend
	}
	if persistentFlagFSURL != "" {
		conf.FS.FSURL = configutil.EnvString(persistentFlagFSURL)
	}
	if persistenFlagS3Endpoint != "" {
		conf.S3.Endpoint = configutil.EnvString(persistenFlagS3Endpoint)
	}
	if persistentFlagS3Region != "" {
		conf.S3.Region = configutil.EnvString(persistentFlagS3Region)
	}
	if persistenFlagS3AccessKeyID != "" {
		conf.S3.AccessKeyID = configutil.EnvString(persistenFlagS3AccessKeyID)
	}
	if persistenFlagS3SecretAccessKey != "" {
		conf.S3.AccessKey = configutil.EnvString(persistenFlagS3SecretAccessKey)
	}
	if persistentFlagOmeroHost != "" {
		conf.Omero.Host = configutil.EnvString(persistentFlagOmeroHost)
	}
	if persistentFlagOmeroUser != "" {
		conf.Omero.Username = configutil.EnvString(persistentFlagOmeroUser)
	}
	if persistentFlagOmeroSession != "" {
		conf.Omero.SessionKey = configutil.EnvString(persistentFlagOmeroSession)
	}

	// environment fallback for omero credentials
	if conf.Omero.Host == "" {
		conf.Omero.Host = configutil.EnvString(os.Getenv("OMERO_HOST"))
	}
	if conf.Omero.Username == "" {
		conf.Omero.Username = configutil.EnvString(os.Getenv("OMERO_USER"))
	}
	if conf.Omero.Password == "" {
		conf.Omero.Password = configutil.EnvString(os.Getenv("OMERO_PASSWORD"))
	}
	if conf.Omero.SessionKey == "" {
		conf.Omero.SessionKey = configutil.EnvString(os.Getenv("OMERO_SESSION"))
	}

	return
}

func init() {

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&persistentFlagConfigFile, "config", "", "config file (toml format)")

	rootCmd.PersistentFlags().StringVar(&persistentFlagLogfile, "log-file", "", "log output file (default is console)")

	rootCmd.PersistentFlags().StringVar(&persistentFlagLoglevel, "log-level", "", "log level (CRITICAL|ERROR|WARNING|NOTICE|INFO|DEBUG)")

	rootCmd.PersistentFlags().StringVar(&persistentFlagBackend, "backend", "", "contents backend (fs|omero)")

	rootCmd.PersistentFlags().StringVar(&persistentFlagFSURL, "fs-url", "", "filesystem url for the fs backend")

	rootCmd.PersistentFlags().StringVar(&persistenFlagS3Endpoint, "s3-endpoint", "", "Endpoint for S3 Buckets")

	rootCmd.PersistentFlags().StringVar(&persistenFlagS3AccessKeyID, "s3-access-key-id", "", "Access Key ID for S3 Buckets")

	rootCmd.PersistentFlags().StringVar(&persistenFlagS3SecretAccessKey, "s3-secret-access-key", "", "Secret Access Key for S3 Buckets")

	rootCmd.PersistentFlags().StringVar(&persistentFlagS3Region, "s3-region", "", "Region for S3 Access")

	rootCmd.PersistentFlags().StringVar(&persistentFlagOmeroHost, "omero-host", "", "base url of the omero web gateway")

	rootCmd.PersistentFlags().StringVar(&persistentFlagOmeroUser, "omero-user", "", "login name for the omero server")

	rootCmd.PersistentFlags().StringVar(&persistentFlagOmeroSession, "omero-session", "", "existing omero session key to join")

	initServe()
	initLs()

	rootCmd.AddCommand(serveCmd, lsCmd, getCmd, putCmd, rmCmd, mvCmd, checkpointCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
