package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sireskandari/Aransite/pkg/config"
	"github.com/sireskandari/Aransite/pkg/logging"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile      string
	outputFormat string
	v            = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "timelapsed",
	Short:         "Timelapse video generation service",
	Long:          `timelapsed accepts timelapse generation requests, encodes stored camera frames into MP4 videos with ffmpeg in the background, and serves the results.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./timelapsed.yaml or /etc/timelapsed/timelapsed.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "timelapsed API URL for client commands")

	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	rootCmd.PersistentFlags().String("ca-file", "", "CA certificate to trust for an HTTPS server")
	_ = v.BindPFlag("client.server", rootCmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("client.ca_file", rootCmd.PersistentFlags().Lookup("ca-file"))
	_ = v.BindEnv("client.server", config.EnvPrefix+"_SERVER")
}

// loadConfig resolves the configuration and configures logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.LoggingConfig()); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, nil
}

func serverURL() string {
	return strings.TrimRight(v.GetString("client.server"), "/")
}

// printStructured writes data as JSON or YAML. It reports false for table
// output so the caller renders its own table.
func printStructured(w io.Writer, data any) (bool, error) {
	switch strings.ToLower(outputFormat) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(data)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(data)
	case "table", "":
		return false, nil
	default:
		return false, fmt.Errorf("unknown output format %q", outputFormat)
	}
}
