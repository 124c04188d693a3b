package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

const ClusterGroup = "quiver-batch"
const NodeNamePrefix = "quiver-node"

var RankFlag = flag.Int("rank", -1, "This process's rank, overrides the config")
var PeersFlag = flag.String("peers", "", "Comma separated list of peer exchange addresses, rank order")
var DataRootDir = os.TempDir()

type ConfigMap struct {
	Rank int `toml:"rank"`
	// rank-ordered exchange endpoints; index = rank
	Peers       []string `toml:"peers"`
	DataDir     string   `toml:"data_dir"`
	NumThreads  int      `toml:"num_threads"`
	LeafSize    int      `toml:"leaf_size"`
	Exchange    Exchange `toml:"exchange"`
	Gateway     Gateway  `toml:"gateway"`
	Dataset     Dataset  `toml:"dataset"`
}

type Exchange struct {
	BindAddress     string `toml:"bind_address"`
	TLSCertFile     string `toml:"tls_cert_file"`
	MaxSubtreeSize  int    `toml:"max_subtree_size"`
	DoLoadBalancing bool   `toml:"do_load_balancing"`
	ExtraHoldFactor int    `toml:"extra_hold_factor"`
	LoadBalanceSpec string `toml:"load_balance_spec"`
	StatusDumpSpec  string `toml:"status_dump_spec"`
}

type Gateway struct {
	BindAddress string `toml:"bind_address"`
}

type Dataset struct {
	Dim            int    `toml:"dim"`
	QueryPath      string `toml:"query_path"`
	ReferencePath  string `toml:"reference_path"`
	MinioEndpoint  string `toml:"minio_endpoint"`
	MinioAccessKey string `toml:"minio_access_key"`
	MinioSecretKey string `toml:"minio_secret_key"`
	MinioUseSSL    bool   `toml:"minio_use_ssl"`
	MinioBucket    string `toml:"minio_bucket"`
	QueryObject    string `toml:"query_object"`
	RefObject      string `toml:"reference_object"`
}

var Config = &ConfigMap{
	Rank:       0,
	Peers:      []string{":50051"},
	DataDir:    filepath.Join(DataRootDir, "quiver"),
	NumThreads: 4,
	LeafSize:   32,
	Exchange: Exchange{
		BindAddress:     ":50051",
		MaxSubtreeSize:  512,
		DoLoadBalancing: true,
		ExtraHoldFactor: 8,
		LoadBalanceSpec: "@every 3s",
		StatusDumpSpec:  "@every 30s",
	},
	Gateway: Gateway{
		BindAddress: ":10224",
	},
	Dataset: Dataset{
		Dim: 2,
	},
}

func (c *ConfigMap) NodeName() string {
	return fmt.Sprintf("%s-%d", NodeNamePrefix, c.Rank)
}

func (c *ConfigMap) WorldSize() int {
	return len(c.Peers)
}
