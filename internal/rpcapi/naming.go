// Package rpcapi binds the naming-server and storage-server interfaces of
// §4 to Go's standard net/rpc (HTTP-framed) transport, as §6 calls for.
// Each RPC service mirrors the request/reply-struct, delegate-wrapping
// shape of the teacher codebase's StoreService/RemoteStore pair in
// internal/storage/rpc.go: one Service type wraps a local implementation
// for net/rpc.Register, one Client type dials a remote instance and
// implements the same local interface by issuing calls.
package rpcapi

import (
	"net/rpc"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
)

// NamingBackend is the subset of registry.Registry's service operations
// the client-facing RPC surface exposes. Kept as a local interface (as
// StoreService wraps the storage.Store interface, not a concrete type)
// so rpcapi does not import internal/registry and tests can fake it.
type NamingBackend interface {
	IsDirectory(p nspath.Path) (bool, error)
	List(dir nspath.Path) ([]string, error)
	CreateFile(p nspath.Path) error
	CreateDirectory(p nspath.Path) error
	Delete(p nspath.Path) error
	GetStorageAddress(p nspath.Path) (string, error) // replica's dial address
	Lock(p nspath.Path, exclusive bool) (string, error)
	Unlock(token string) error
}

type IsDirectoryArgs struct{ Path nspath.Path }
type IsDirectoryReply struct{ IsDirectory bool }

type ListArgs struct{ Dir nspath.Path }
type ListReply struct{ Names []string }

type CreateFileArgs struct{ Path nspath.Path }
type CreateFileReply struct{}

type CreateDirectoryArgs struct{ Path nspath.Path }
type CreateDirectoryReply struct{}

type DeleteArgs struct{ Path nspath.Path }
type DeleteReply struct{}

type GetStorageArgs struct{ Path nspath.Path }
type GetStorageReply struct{ Address string }

type LockArgs struct {
	Path      nspath.Path
	Exclusive bool
}
type LockReply struct{ Token string }

type UnlockArgs struct{ Token string }
type UnlockReply struct{}

// NamingService wraps a NamingBackend for net/rpc.Register, under the
// name "NamingService" per §6.
type NamingService struct {
	delegate NamingBackend
}

func NewNamingService(delegate NamingBackend) *NamingService {
	return &NamingService{delegate: delegate}
}

func (s *NamingService) IsDirectory(args IsDirectoryArgs, reply *IsDirectoryReply) error {
	isDir, err := s.delegate.IsDirectory(args.Path)
	if err != nil {
		return err
	}
	reply.IsDirectory = isDir
	return nil
}

func (s *NamingService) List(args ListArgs, reply *ListReply) error {
	names, err := s.delegate.List(args.Dir)
	if err != nil {
		return err
	}
	reply.Names = names
	return nil
}

func (s *NamingService) CreateFile(args CreateFileArgs, _ *CreateFileReply) error {
	return s.delegate.CreateFile(args.Path)
}

func (s *NamingService) CreateDirectory(args CreateDirectoryArgs, _ *CreateDirectoryReply) error {
	return s.delegate.CreateDirectory(args.Path)
}

func (s *NamingService) Delete(args DeleteArgs, _ *DeleteReply) error {
	return s.delegate.Delete(args.Path)
}

func (s *NamingService) GetStorage(args GetStorageArgs, reply *GetStorageReply) error {
	address, err := s.delegate.GetStorageAddress(args.Path)
	if err != nil {
		return err
	}
	reply.Address = address
	return nil
}

func (s *NamingService) Lock(args LockArgs, reply *LockReply) error {
	token, err := s.delegate.Lock(args.Path, args.Exclusive)
	if err != nil {
		return err
	}
	reply.Token = token
	return nil
}

func (s *NamingService) Unlock(args UnlockArgs, _ *UnlockReply) error {
	return s.delegate.Unlock(args.Token)
}

// NamingClient implements NamingBackend by calling a remote
// NamingService over net/rpc, recovering the error kind on failure via
// apierr.KindOf the same way RemoteStore.Get recovers ErrNotFound.
type NamingClient struct {
	client *rpc.Client
}

func DialNaming(network, address string) (*NamingClient, error) {
	const method = "rpcapi.DialNaming"
	client, err := rpc.DialHTTP(network, address)
	if err != nil {
		return nil, apierr.Wrap(method, apierr.Transport, err)
	}
	return &NamingClient{client: client}, nil
}

func (c *NamingClient) call(serviceMethod string, args, reply interface{}) error {
	if err := c.client.Call(serviceMethod, args, reply); err != nil {
		if kind, ok := apierr.KindOf(err); ok {
			return apierr.Errorf(serviceMethod, kind, "%s", err)
		}
		return apierr.Wrap(serviceMethod, apierr.Transport, err)
	}
	return nil
}

func (c *NamingClient) IsDirectory(p nspath.Path) (bool, error) {
	var reply IsDirectoryReply
	err := c.call("NamingService.IsDirectory", IsDirectoryArgs{Path: p}, &reply)
	return reply.IsDirectory, err
}

func (c *NamingClient) List(dir nspath.Path) ([]string, error) {
	var reply ListReply
	err := c.call("NamingService.List", ListArgs{Dir: dir}, &reply)
	return reply.Names, err
}

func (c *NamingClient) CreateFile(p nspath.Path) error {
	return c.call("NamingService.CreateFile", CreateFileArgs{Path: p}, &CreateFileReply{})
}

func (c *NamingClient) CreateDirectory(p nspath.Path) error {
	return c.call("NamingService.CreateDirectory", CreateDirectoryArgs{Path: p}, &CreateDirectoryReply{})
}

func (c *NamingClient) Delete(p nspath.Path) error {
	return c.call("NamingService.Delete", DeleteArgs{Path: p}, &DeleteReply{})
}

func (c *NamingClient) GetStorageAddress(p nspath.Path) (string, error) {
	var reply GetStorageReply
	err := c.call("NamingService.GetStorage", GetStorageArgs{Path: p}, &reply)
	return reply.Address, err
}

func (c *NamingClient) Lock(p nspath.Path, exclusive bool) (string, error) {
	var reply LockReply
	err := c.call("NamingService.Lock", LockArgs{Path: p, Exclusive: exclusive}, &reply)
	return reply.Token, err
}

func (c *NamingClient) Unlock(token string) error {
	return c.call("NamingService.Unlock", UnlockArgs{Token: token}, &UnlockReply{})
}
