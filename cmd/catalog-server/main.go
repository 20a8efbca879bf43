// catalog-server serves a mirror directory's dependency info over gRPC.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"google.golang.org/grpc"

	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/logging"
)

func main() {
	var listenAddr, mirror, archiveBase, logLevel string
	flag.StringVar(&listenAddr, "listen", ":50051", "address to listen on")
	flag.StringVar(&mirror, "mirror", ".", "mirror directory holding index.yaml and the release archives")
	flag.StringVar(&archiveBase, "archive-base", "", "where clients fetch archives from (default: the mirror directory)")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(logging.Options{Level: logLevel, Format: logging.FormatJSON})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log = log.WithName("catalog-server")

	root, err := filepath.Abs(mirror)
	if err != nil {
		log.Error(err, "resolve mirror path", "mirror", mirror)
		os.Exit(1)
	}
	if archiveBase == "" {
		archiveBase = root
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.Error(err, "listen", "address", listenAddr)
		os.Exit(1)
	}

	grpcServer := grpc.NewServer()
	forge.RegisterCatalogServer(grpcServer, &forge.GRPCServer{
		Source:      forge.Dir{Root: root},
		ArchiveBase: archiveBase,
		Log:         log,
	})

	log.Info("serving catalog", "address", lis.Addr().String(), "mirror", root, "archiveBase", archiveBase)
	if err := grpcServer.Serve(lis); err != nil {
		log.Error(err, "grpc serve")
		os.Exit(1)
	}
}
