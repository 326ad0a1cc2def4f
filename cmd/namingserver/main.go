// Command namingserver runs the naming server (§4.C/§4.D/§4.E): the
// in-memory directory tree, the path-lock manager, and the
// storage-server registry, exposed over net/rpc on the Service and
// Registration interfaces of §6.
package main

import (
	"flag"
	"log"
	"math/rand"
	"net/http"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	logrus "github.com/sirupsen/logrus"

	dfsconfig "github.com/nicolagi/dfs/config"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/registry"
	"github.com/nicolagi/dfs/internal/netutil"
	"github.com/nicolagi/dfs/internal/rpcapi"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Do NOT turn on agent.ShutdownCleanup: the installed signal handler
	// calls os.Exit, and we want that to happen without the gops agent
	// getting in the way.
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Printf("Could not start gops agent: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	base := flag.String("base", dfsconfig.NamingBaseDir(), "Base directory for configuration")
	flag.Parse()

	cfg, err := dfsconfig.LoadNaming(*base)
	if err != nil {
		log.Fatalf("Could not load config from %q: %v", *base, err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(os.Getpid())))
	reg := registry.New(rng, registry.WithReplicationThreshold(cfg.ReplicationThreshold))

	namingServer := rpc.NewServer()
	if err := namingServer.RegisterName("NamingService", rpcapi.NewNamingService(reg)); err != nil {
		log.Fatalf("Could not register NamingService: %v", err)
	}
	namingMux := http.NewServeMux()
	namingMux.Handle(rpc.DefaultRPCPath, namingServer)
	go serveRPC(cfg.ListenNet, cfg.ListenAddr, namingMux)

	registrationServer := rpc.NewServer()
	if err := registrationServer.RegisterName("RegistrationService", rpcapi.NewRegistrationService(dialAndRegister(reg))); err != nil {
		log.Fatalf("Could not register RegistrationService: %v", err)
	}
	registrationMux := http.NewServeMux()
	registrationMux.Handle(rpc.DefaultRPCPath, registrationServer)
	go serveRPC(cfg.RegistrationNet, cfg.RegistrationAddr, registrationMux)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logrus.WithField("addr", cfg.MetricsAddr).Info("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logrus.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"listen":       cfg.ListenAddr,
		"registration": cfg.RegistrationAddr,
	}).Info("naming server started")

	<-sigc
	logrus.Info("naming server shutting down")
}

func serveRPC(network, address string, handler http.Handler) {
	listener, err := netutil.Listen(network, address)
	if err != nil {
		log.Fatalf("Could not listen on %s %s: %v", network, address, err)
	}
	if err := http.Serve(listener, handler); err != nil {
		log.Fatalf("Serving %s %s: %v", network, address, err)
	}
}

// dialAndRegister adapts registry.Registry.Register to the closure shape
// rpcapi.RegistrationService expects: the naming server does not know a
// registering storage server's address until the request arrives, so it
// dials the server's own Read/Command services back before calling the
// real registration handshake (§4.E).
func dialAndRegister(reg *registry.Registry) func(address string, paths []nspath.Path) ([]nspath.Path, error) {
	return func(address string, paths []nspath.Path) ([]nspath.Path, error) {
		read, err := rpcapi.DialStorageRead("tcp", address)
		if err != nil {
			return nil, err
		}
		command, err := rpcapi.DialStorageCommand("tcp", address)
		if err != nil {
			return nil, err
		}
		return reg.Register(address, read, command, paths)
	}
}
