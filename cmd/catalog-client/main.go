// catalog-client queries a catalog server and prints the releases it knows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/module"
)

func main() {
	var target, name string
	flag.StringVar(&target, "target", "127.0.0.1:50051", "gRPC server address")
	flag.StringVar(&name, "module", "pmtacceptance-stdlib", "module to query")
	flag.Parse()

	root, err := module.ParseName(name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := forge.DialGRPC(target, forge.Options{CacheDir: os.TempDir()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", target, err)
		os.Exit(1)
	}
	defer c.Close()

	feed, err := c.DependencyInfo(ctx, root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DependencyInfo error: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(feed))
	for n := range feed {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Printf("%s: %d releases\n", n, len(feed[n]))
		for _, r := range feed[n] {
			fmt.Printf("  %s (%d dependencies) %s\n", r.Version, len(r.Dependencies), r.File)
		}
	}
}
