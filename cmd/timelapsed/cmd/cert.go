package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	tlsutil "github.com/sireskandari/Aransite/pkg/tls"
)

var (
	certDir      string
	certCN       string
	certHosts    []string
	certValidFor time.Duration
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Generate a self-signed certificate for development HTTPS",
	RunE: func(cmd *cobra.Command, _ []string) error {
		certFile := filepath.Join(certDir, "timelapsed.crt")
		keyFile := filepath.Join(certDir, "timelapsed.key")
		if err := tlsutil.GenerateSelfSignedCert(certFile, keyFile, certCN, certValidFor, certHosts...); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s\nSet server.tls_cert_file and server.tls_key_file, and pass --ca-file %s to client commands.\n",
			certFile, keyFile, certFile)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.Flags().StringVar(&certDir, "dir", ".", "output directory")
	certCmd.Flags().StringVar(&certCN, "cn", "localhost", "certificate common name")
	certCmd.Flags().StringSliceVar(&certHosts, "host", nil, "extra IP addresses or DNS names (repeatable)")
	certCmd.Flags().DurationVar(&certValidFor, "valid-for", 365*24*time.Hour, "certificate lifetime")
}
