package rpcapi

import (
	"net/rpc"

	"github.com/nicolagi/dfs/internal/apierr"
	"github.com/nicolagi/dfs/internal/nspath"
)

// RegistrationBackend is the registry.Registry.Register method, exposed
// under its own net/rpc service/port per §6 ("well-known fixed ports...
// one for the Registration interface").
type RegistrationBackend interface {
	Register(address string, read StorageReadBackend, command StorageCommandBackend, paths []nspath.Path) ([]nspath.Path, error)
}

type RegisterArgs struct {
	Address string
	Paths   []nspath.Path
}

type RegisterReply struct {
	Duplicates []nspath.Path
}

// RegistrationService wraps a registry for net/rpc.Register under the
// name "RegistrationService". Unlike NamingService, it cannot take a
// RegistrationBackend with the wire signature directly: a registering
// storage server's read/command stubs must be dialed back by the naming
// server, since net/rpc arguments are data, not live connections. See
// dialAndRegister in cmd/namingserver/main.go for the glue that does that
// dial.
type RegistrationService struct {
	register func(address string, paths []nspath.Path) ([]nspath.Path, error)
}

// NewRegistrationService wraps register, a closure that already knows how
// to dial the calling storage server back (by address) to obtain its read
// and command stubs before delegating to the naming registry's Register.
func NewRegistrationService(register func(address string, paths []nspath.Path) ([]nspath.Path, error)) *RegistrationService {
	return &RegistrationService{register: register}
}

func (s *RegistrationService) Register(args RegisterArgs, reply *RegisterReply) error {
	duplicates, err := s.register(args.Address, args.Paths)
	if err != nil {
		return err
	}
	reply.Duplicates = duplicates
	return nil
}

// RegistrationClient implements the storage server's side of the
// handshake: call Register on the naming server's Registration interface
// with its own address and its local file list.
type RegistrationClient struct {
	client *rpc.Client
}

func DialRegistration(network, address string) (*RegistrationClient, error) {
	const method = "rpcapi.DialRegistration"
	client, err := rpc.DialHTTP(network, address)
	if err != nil {
		return nil, apierr.Wrap(method, apierr.Transport, err)
	}
	return &RegistrationClient{client: client}, nil
}

func (c *RegistrationClient) Register(selfAddress string, paths []nspath.Path) ([]nspath.Path, error) {
	const method = "RegistrationService.Register"
	var reply RegisterReply
	if err := c.client.Call(method, RegisterArgs{Address: selfAddress, Paths: paths}, &reply); err != nil {
		if kind, ok := apierr.KindOf(err); ok {
			return nil, apierr.Errorf(method, kind, "%s", err)
		}
		return nil, apierr.Wrap(method, apierr.Transport, err)
	}
	return reply.Duplicates, nil
}
