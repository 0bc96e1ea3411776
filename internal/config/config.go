package config

import (
	"fmt"
	"os"

	"github.com/go-yaml/yaml"

	"github.com/totegamma/eventchain"
	"github.com/totegamma/eventchain/internal/domain"
)

// SeedEnv overrides nodeInfo.seed when set.
const SeedEnv = "EVENTCHAIN_ACCOUNT_SEED_BASE58"

type Config struct {
	NodeInfo   NodeInfo   `yaml:"nodeInfo"`
	Server     Server     `yaml:"server"`
	Anchor     Service    `yaml:"anchor"`
	Dispatcher Service    `yaml:"dispatcher"`
	Endpoints  []Endpoint `yaml:"endpoints"`
	Triggers   []Trigger  `yaml:"triggers"`
}

type NodeInfo struct {
	FQDN string `yaml:"fqdn"`
	Seed string `yaml:"seed"` // base58

	// ---
	Account *eventchain.Account `yaml:"-"`
	Address string              `yaml:"-"`
	SignKey string              `yaml:"-"`
}

type Server struct {
	Listen        string `yaml:"listen"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

// Service is an external collaborator. An empty url disables it.
type Service struct {
	URL string `yaml:"url"`
}

// Endpoint maps resource uris matching Pattern onto URL. $N in URL is replaced by the Nth uri path segment.
type Endpoint struct {
	Pattern string `yaml:"pattern"`
	URL     string `yaml:"url"`
}

// Trigger is notified once per distinct value of a grouping field after a batch is processed.
type Trigger struct {
	URL         string          `yaml:"url"`
	InjectChain string          `yaml:"inject_chain"` // "", "full" or "empty"
	Resources   []TriggerFilter `yaml:"resources"`
}

type TriggerFilter struct {
	Schema string       `yaml:"schema"` // empty matches any schema
	Group  TriggerGroup `yaml:"group"`
}

// TriggerGroup names the resource field whose values the requests are grouped by.
type TriggerGroup struct {
	Process string `yaml:"process"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if seed := os.Getenv(SeedEnv); seed != "" {
		config.NodeInfo.Seed = seed
	}

	if err := config.NodeInfo.derive(); err != nil {
		return Config{}, err
	}

	return config, nil
}

func (n *NodeInfo) derive() error {
	seed := eventchain.Base58Decode(n.Seed)
	if seed == nil {
		return fmt.Errorf("nodeInfo.seed must be a base58 encoded seed")
	}

	n.Account = eventchain.AccountFromSeed(seed)
	n.SignKey = n.Account.PublicSignKey()

	address, err := n.Account.Address()
	if err != nil {
		return fmt.Errorf("failed to derive node address: %w", err)
	}
	n.Address = address

	return nil
}

// Domain returns the node settings used by the services.
func (c Config) Domain() domain.Config {
	return domain.Config{
		FQDN:    c.NodeInfo.FQDN,
		Address: c.NodeInfo.Address,
		SignKey: c.NodeInfo.SignKey,
	}
}
