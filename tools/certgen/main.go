// Package main generates a development CA and a sandbox server certificate,
// writing them as PEM files into a directory.
//
// Start the sandbox with -cert <dir>/server.crt -key <dir>/server.key and
// point the client shell at the CA with -ca <dir>/ca.crt.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/carthagofood/carthago/internal/certgen"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("certgen", flag.ContinueOnError)
	dir := fs.String("dir", "certs", "output directory")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "comma-separated server host names and IPs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", *dir, err)
	}

	caPEM, caKeyPEM, err := certgen.GenerateCA("Carthago Dev CA")
	if err != nil {
		return fmt.Errorf("generate ca: %w", err)
	}
	if err := writePair(*dir, "ca", caPEM, caKeyPEM); err != nil {
		return err
	}

	caCert, caKey, err := certgen.ParseCA(caPEM, caKeyPEM)
	if err != nil {
		return err
	}
	srvPEM, srvKeyPEM, err := certgen.GenerateServerCertificate(splitHosts(*hosts), caCert, caKey)
	if err != nil {
		return fmt.Errorf("generate server certificate: %w", err)
	}
	if err := writePair(*dir, "server", srvPEM, srvKeyPEM); err != nil {
		return err
	}

	fmt.Fprintf(out, "Certificates generated into %s\n", *dir)
	return nil
}

func splitHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// writePair writes <name>.crt and <name>.key; keys are readable by the owner only.
func writePair(dir, name string, certPEM, keyPEM []byte) error {
	if err := os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0o644); err != nil {
		return fmt.Errorf("write %s cert: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write %s key: %w", name, err)
	}
	return nil
}
