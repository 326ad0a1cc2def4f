// Command storageserver runs a storage server (§4.B): a local-disk byte
// store exposed over net/rpc on the Read and Command interfaces of §6,
// which registers its local file list with a naming server at startup
// (§4.E) and prunes whatever the naming server reports as a duplicate.
package main

import (
	"flag"
	"log"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/gops/agent"
	logrus "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	dfsconfig "github.com/nicolagi/dfs/config"
	"github.com/nicolagi/dfs/internal/diskfs"
	"github.com/nicolagi/dfs/internal/netutil"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/rpcapi"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Printf("Could not start gops agent: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	base := flag.String("base", dfsconfig.StorageBaseDir(), "Base directory for configuration")
	flag.Parse()

	cfg, err := dfsconfig.LoadStorage(*base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", *base, err)
	}

	root, err := diskfs.New(cfg.Root)
	if err != nil {
		log.Fatalf("Could not open storage root %q: %v", cfg.Root, err)
	}

	server := rpc.NewServer()
	if err := server.RegisterName("StorageReadService", rpcapi.NewStorageReadService(root)); err != nil {
		log.Fatalf("Could not register StorageReadService: %v", err)
	}
	if err := server.RegisterName("StorageCommandService", rpcapi.NewStorageCommandService(root)); err != nil {
		log.Fatalf("Could not register StorageCommandService: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)
	go func() {
		listener, err := netutil.Listen(cfg.ListenNet, cfg.ListenAddr)
		if err != nil {
			log.Fatalf("Could not listen on %s %s: %v", cfg.ListenNet, cfg.ListenAddr, err)
		}
		if err := http.Serve(listener, mux); err != nil {
			log.Fatalf("Serving %s %s: %v", cfg.ListenNet, cfg.ListenAddr, err)
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			logrus.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, metricsMux); err != nil {
				logrus.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if err := registerWithNaming(cfg, root); err != nil {
		log.Fatalf("Could not register with naming server: %v", err)
	}

	logrus.WithFields(logrus.Fields{
		"listen": cfg.ListenAddr,
		"naming": cfg.NamingAddr,
		"root":   cfg.Root,
	}).Info("storage server started")

	<-sigc
	logrus.Info("storage server shutting down")
}

// registerWithNaming lists every file currently on disk and registers
// them with the naming server; any path the naming server reports as a
// duplicate (§4.E step 4) is deleted locally, and its now-empty ancestor
// directories are pruned up to (but not including) root.
func registerWithNaming(cfg *dfsconfig.Storage, root *diskfs.Root) error {
	paths, err := diskfs.List(cfg.Root)
	if err != nil {
		return err
	}
	client, err := rpcapi.DialRegistration(cfg.NamingNet, cfg.NamingAddr)
	if err != nil {
		return err
	}
	duplicates, err := client.Register(cfg.ListenAddr, paths)
	if err != nil {
		return err
	}
	// Pruning each duplicate's local file and ancestor directories is
	// independent per path, so fan it out with errgroup (§11(b)) rather
	// than walking the list sequentially.
	var g errgroup.Group
	for _, p := range duplicates {
		p := p
		g.Go(func() error {
			if _, err := root.Delete(p); err != nil {
				logrus.WithError(err).WithField("path", p).Warn("could not delete duplicate")
				return nil
			}
			pruneEmptyAncestors(cfg.Root, p)
			return nil
		})
	}
	return g.Wait()
}

// pruneEmptyAncestors removes now-empty ancestor directories of p, on
// the host filesystem, up to (but not including) root. It is a
// best-effort local cleanup: failure to remove a directory (e.g.
// because a sibling file still lives under it) simply stops the walk.
func pruneEmptyAncestors(rootDir string, p nspath.Path) {
	ancestor, err := p.Parent()
	if err != nil {
		return
	}
	for !ancestor.IsRoot() {
		host := filepath.Join(append([]string{rootDir}, ancestor.Components()...)...)
		if err := os.Remove(host); err != nil {
			return
		}
		ancestor, err = ancestor.Parent()
		if err != nil {
			return
		}
	}
}
