package infra

import (
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/simbachain/simba-go/pkg/comm"
	"gopkg.in/yaml.v2"
)

// Environment variables overriding secrets of the config file
const (
	envAPIKey     = "SIMBA_API_KEY"
	envPrivateKey = "SIMBA_PRIVATE_KEY"
)

const (
	defaultLogPath    = "simba.log"
	defaultReportPath = "simba-report.txt"
)

type Config struct {
	// Service
	Endpoint string        `yaml:"endpoint"` // base url of the service
	Version  string        `yaml:"version"`  // api version path, v1/ when empty
	App      string        `yaml:"app"`      // application name
	APIKey   string        `yaml:"apiKey"`   // sent as the APIKEY header
	Timeout  time.Duration `yaml:"timeout"`  // per request timeout
	Debug    bool          `yaml:"debug"`    // dump requests and responses

	// Client identity
	PrivateKey string `yaml:"privateKey"` // hex encoded key, or a file holding one
	ChainID    int64  `yaml:"chainID"`    // 0 signs without replay protection

	// Nonce conflict handling
	MaxAttempts   int           `yaml:"maxAttempts"`   // signed submissions per descriptor
	OuterAttempts int           `yaml:"outerAttempts"` // descriptors requested per call
	OuterDelay    time.Duration `yaml:"outerDelay"`    // pause between descriptors

	// Queue
	QueueSize    int           `yaml:"queueSize"`    // capacity of the ordered queue
	PollInterval time.Duration `yaml:"pollInterval"` // state polling period
	TotalWait    time.Duration `yaml:"totalWait"`    // state polling timeout
	State        string        `yaml:"state"`        // target state of queued calls

	Rate  int `yaml:"rate"`  // average speed of call generation, 0 is unlimited
	Burst int `yaml:"burst"` // maximum speed of call generation

	CallsFile  string `yaml:"calls"`      // path of the calls file
	LogPath    string `yaml:"logPath"`    // path of the log file
	ReportPath string `yaml:"reportPath"` // path of the report file

	MetricsAddr string `yaml:"metricsAddr"` // serve /metrics on this address when set
}

func (c *Config) loadRawConfigFromFile(filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", filename)
	}

	if err = yaml.Unmarshal(raw, c); err != nil {
		return errors.Wrapf(err, "fail to unmarshal %s", filename)
	}
	return nil
}

func (c *Config) loadEnv() {
	if value, ok := os.LookupEnv(envAPIKey); ok {
		c.APIKey = value
	}
	if value, ok := os.LookupEnv(envPrivateKey); ok {
		c.PrivateKey = value
	}
}

// loadPrivateKey replaces a key file path by its content
func (c *Config) loadPrivateKey() error {
	if c.PrivateKey == "" {
		return nil
	}
	if _, err := os.Stat(c.PrivateKey); err != nil {
		return nil
	}
	raw, err := os.ReadFile(c.PrivateKey)
	if err != nil {
		return errors.Wrapf(err, "fail to load private key %s", c.PrivateKey)
	}
	c.PrivateKey = strings.TrimSpace(string(raw))
	return nil
}

func (c *Config) valid() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.App == "" {
		return errors.New("app is required")
	}
	if c.Rate < 0 {
		return errors.Errorf("rate %d is not a zero (unlimited) or positive number", c.Rate)
	}
	if c.Burst < 0 {
		return errors.Errorf("burst %d is negative", c.Burst)
	}
	// an unset burst follows the rate
	if c.Burst == 0 {
		c.Burst = c.Rate
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.Rate > c.Burst {
		c.Rate = c.Burst
	}
	if c.MaxAttempts < 0 || c.OuterAttempts < 0 {
		return errors.Errorf("attempts must not be negative (maxAttempts %d, outerAttempts %d)", c.MaxAttempts, c.OuterAttempts)
	}
	if c.QueueSize < 0 {
		return errors.Errorf("queue size %d is negative", c.QueueSize)
	}
	if c.State != "" {
		if _, err := ParseState(c.State); err != nil {
			return err
		}
	}
	if c.LogPath == "" {
		c.LogPath = defaultLogPath
	}
	if c.ReportPath == "" {
		c.ReportPath = defaultReportPath
	}
	return nil
}

func LoadConfigFromFile(filename string) (*Config, error) {
	c := &Config{}

	if err := c.loadRawConfigFromFile(filename); err != nil {
		return nil, err
	}
	c.loadEnv()
	if err := c.loadPrivateKey(); err != nil {
		return nil, err
	}
	if err := c.valid(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", filename)
	}
	return c, nil
}

func (c *Config) ClientConfig() comm.ClientConfig {
	return comm.ClientConfig{
		Endpoint: c.Endpoint,
		Version:  c.Version,
		APIKey:   c.APIKey,
		Timeout:  c.Timeout,
		Debug:    c.Debug,
	}
}

func (c *Config) SubmitterConfig() SubmitterConfig {
	return SubmitterConfig{
		MaxAttempts:   c.MaxAttempts,
		OuterAttempts: c.OuterAttempts,
		OuterDelay:    c.OuterDelay,
	}.withDefaults()
}

func (c *Config) QueueConfig() QueueConfig {
	state, _ := ParseState(c.State)
	return QueueConfig{
		Capacity:     c.QueueSize,
		PollInterval: c.PollInterval,
		Timeout:      c.TotalWait,
		TargetState:  state,
	}.withDefaults()
}

// Signer builds the signer of the configured identity
func (c *Config) Signer() (Signer, error) {
	if c.PrivateKey == "" {
		return nil, ErrNoSigner
	}
	var chainID *big.Int
	if c.ChainID > 0 {
		chainID = big.NewInt(c.ChainID)
	}
	return NewEthSignerFromHex(c.PrivateKey, chainID)
}
