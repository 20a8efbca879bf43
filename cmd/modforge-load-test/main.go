// modforge-load-test runs concurrent resolutions against a repository and
// reports their latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/anvil-platform/modforge/internal/forge"
	"github.com/anvil-platform/modforge/internal/installer"
)

func main() {
	var repository, name, version, targetDir string
	var requests int
	flag.StringVar(&repository, "repository", os.Getenv("MODFORGE_REPOSITORY"), "mirror directory, http(s) forge URL or grpc://host:port catalog")
	flag.StringVar(&name, "module", "pmtacceptance-apollo", "module to resolve")
	flag.StringVar(&version, "version", "", "version or version range to resolve")
	flag.StringVar(&targetDir, "target-dir", "", "target directory consulted for local installs (default: an empty temp dir)")
	flag.IntVar(&requests, "requests", 10, "number of concurrent resolutions")
	flag.Parse()

	repo, err := forge.Open(repository, forge.Options{CacheDir: os.TempDir()})
	if err != nil {
		log.Fatalf("Error opening repository: %v", err)
	}
	if c, ok := repo.(io.Closer); ok {
		defer c.Close()
	}
	if targetDir == "" {
		if targetDir, err = os.MkdirTemp("", "modforge-load-*"); err != nil {
			log.Fatalf("Error creating target dir: %v", err)
		}
		defer os.RemoveAll(targetDir)
	}

	in := installer.New(repo, nil)
	opts := installer.Options{TargetDir: targetDir, Version: version}

	fmt.Printf("Starting load test: %d resolutions of %s\n", requests, name)

	var wg sync.WaitGroup
	start := time.Now()
	latencies := make(chan time.Duration, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			resolveStart := time.Now()
			res, plan, err := in.Resolve(ctx, name, opts)
			if err != nil {
				fmt.Printf("Resolution %d failed: %v\n", id, err)
				return
			}
			if res.Result != installer.ResultSuccess {
				fmt.Printf("Resolution %d: %s\n", id, res.Error.Oneline)
				return
			}
			latency := time.Since(resolveStart)
			latencies <- latency
			fmt.Printf("Resolution %d planned %d installs in %v\n", id, len(plan.Entries), latency)
		}(i)
	}

	wg.Wait()
	close(latencies)
	totalDuration := time.Since(start)

	var totalLatency time.Duration
	count := 0
	for l := range latencies {
		totalLatency += l
		count++
	}

	if count > 0 {
		avgLatency := totalLatency / time.Duration(count)
		fmt.Printf("Load test completed in %v. %d/%d succeeded, avg latency: %v\n", totalDuration, count, requests, avgLatency)
	} else {
		fmt.Printf("Load test completed in %v. No resolution succeeded.\n", totalDuration)
	}
}
