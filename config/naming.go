package config

// NamingDefaultBaseEnv is the environment variable naming the naming
// server's base configuration directory, the generalization of the
// teacher's MUSCLE_BASE to this process.
const NamingDefaultBaseEnv = "NAMING_BASE"

// defaultReplicationThreshold resolves Open Question ii of §9: the
// access count at which a shared lock triggers asynchronous replication.
const defaultReplicationThreshold = 20

// Naming is the naming server's configuration (§10): the Service
// interface's listen address, the Registration interface's listen
// address, the replication policy threshold, and the metrics endpoint.
type Naming struct {
	ListenNet  string
	ListenAddr string

	RegistrationNet  string
	RegistrationAddr string

	ReplicationThreshold int

	MetricsAddr string
}

// NamingBaseDir returns the naming server's base configuration
// directory: $NAMING_BASE if set, else $HOME/lib/namingserver.
func NamingBaseDir() string {
	return baseDir(NamingDefaultBaseEnv, "namingserver")
}

// LoadNaming loads the naming server's configuration from the "config"
// file under base.
func LoadNaming(base string) (*Naming, error) {
	kv, err := readKV(base)
	if err != nil {
		return nil, err
	}
	threshold, err := intOrDefault(kv, "replication-threshold", defaultReplicationThreshold)
	if err != nil {
		return nil, err
	}
	return &Naming{
		ListenNet:            kv["listen-net"],
		ListenAddr:           kv["listen-addr"],
		RegistrationNet:      kv["registration-net"],
		RegistrationAddr:     kv["registration-addr"],
		ReplicationThreshold: threshold,
		MetricsAddr:          kv["metrics-addr"],
	}, nil
}
