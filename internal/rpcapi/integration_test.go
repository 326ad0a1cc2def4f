package rpcapi_test

import (
	"math/rand"
	"net"
	"net/http"
	"net/rpc"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nicolagi/dfs/internal/diskfs"
	"github.com/nicolagi/dfs/internal/netutil"
	"github.com/nicolagi/dfs/internal/nspath"
	"github.com/nicolagi/dfs/internal/registry"
	"github.com/nicolagi/dfs/internal/rpcapi"
)

// serveOnce registers a single net/rpc service under serviceName on a
// fresh loopback TCP listener and serves it in the background, returning
// the address it is listening on.
func serveOnce(t *testing.T, serviceName string, receiver interface{}) string {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(serviceName, receiver))
	mux := http.NewServeMux()
	mux.Handle(rpc.DefaultRPCPath, server)
	listener, err := netutil.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = http.Serve(listener, mux) }()
	t.Cleanup(func() { _ = listener.Close() })
	return listener.Addr().(*net.TCPAddr).String()
}

// TestEndToEndRegisterCreateReadDelete exercises the full naming-server /
// storage-server split over real TCP loopback connections: a storage
// server registers its (empty) local tree, the naming server creates a
// file and picks that one server as its replica, a client writes and
// reads it back through the storage RPC surface, then deletes it through
// the naming server, fanning the delete out to the replica.
func TestEndToEndRegisterCreateReadDelete(t *testing.T) {
	reg := registry.New(rand.New(rand.NewSource(1)))
	namingAddr := serveOnce(t, "NamingService", rpcapi.NewNamingService(reg))

	storageDir := t.TempDir()
	root, err := diskfs.New(storageDir)
	require.NoError(t, err)
	storageAddr := serveOnce(t, "StorageReadService", rpcapi.NewStorageReadService(root))
	// Both services share one listener+address in the real storageserver
	// binary; registering two service names against two listeners here is
	// just as valid for net/rpc, and keeps this test independent of the
	// command-layer wiring in cmd/storageserver.
	commandAddr := serveOnce(t, "StorageCommandService", rpcapi.NewStorageCommandService(root))

	require.NoError(t, netutil.WaitForListener(namingAddr, time.Second))
	require.NoError(t, netutil.WaitForListener(storageAddr, time.Second))
	require.NoError(t, netutil.WaitForListener(commandAddr, time.Second))

	read, err := rpcapi.DialStorageRead("tcp", storageAddr)
	require.NoError(t, err)
	command, err := rpcapi.DialStorageCommand("tcp", commandAddr)
	require.NoError(t, err)

	// Register this storage server directly against the registry (the
	// in-process equivalent of dialing the Registration service, which
	// cmd/namingserver wires over RPC; this test is about the naming/read/
	// command split, not the registration handshake's own wire framing.
	// registry_test.go covers Register's dedup behaviour in process; no
	// test here dials RegistrationService).
	duplicates, err := reg.Register(storageAddr, read, command, nil)
	require.NoError(t, err)
	require.Empty(t, duplicates)

	naming, err := rpcapi.DialNaming("tcp", namingAddr)
	require.NoError(t, err)

	p := nspath.MustParse("/greeting")
	require.NoError(t, naming.CreateFile(p))

	addr, err := naming.GetStorageAddress(p)
	require.NoError(t, err)
	require.Equal(t, storageAddr, addr)

	require.NoError(t, read.Write(p, 0, []byte("hello")))
	data, err := read.Read(p, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, naming.Delete(p))
	_, err = naming.IsDirectory(p)
	require.Error(t, err)
}
