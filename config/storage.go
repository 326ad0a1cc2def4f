package config

import "path/filepath"

// StorageDefaultBaseEnv is the environment variable naming the storage
// server's base configuration directory.
const StorageDefaultBaseEnv = "STORAGE_BASE"

// Storage is a storage server's configuration (§10): the Read+Command
// interfaces' listen address, the naming server's registration endpoint
// to register against at startup, the host directory backing
// internal/diskfs.Root, and the metrics endpoint.
type Storage struct {
	ListenNet  string
	ListenAddr string

	NamingNet  string
	NamingAddr string

	Root string

	MetricsAddr string
}

// StorageBaseDir returns a storage server's base configuration
// directory: $STORAGE_BASE if set, else $HOME/lib/storageserver.
func StorageBaseDir() string {
	return baseDir(StorageDefaultBaseEnv, "storageserver")
}

// LoadStorage loads a storage server's configuration from the "config"
// file under base. Root, if relative, is resolved relative to base.
func LoadStorage(base string) (*Storage, error) {
	kv, err := readKV(base)
	if err != nil {
		return nil, err
	}
	root := kv["root"]
	if root == "" {
		root = "root"
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(base, root)
	}
	return &Storage{
		ListenNet:   kv["listen-net"],
		ListenAddr:  kv["listen-addr"],
		NamingNet:   kv["naming-net"],
		NamingAddr:  kv["naming-addr"],
		Root:        root,
		MetricsAddr: kv["metrics-addr"],
	}, nil
}
