// Package config holds the process-wide settings of the attestation engine.
// A Config is loaded once at startup and treated as read-only afterwards.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Confidential VM detection modes.
const (
	ConfidentialAuto   = "auto"
	ConfidentialAlways = "true"
	ConfidentialNever  = "false"
)

// DefaultMetadataURLs are the metadata-service endpoints tried in order for a
// vTPM attestation token.
var DefaultMetadataURLs = []string{
	"http://metadata.google.internal/computeMetadata/v1/instance/attestation-token",
	"http://metadata.google.internal/computeMetadata/v1/instance/confidential-vm/attestation-token",
	"http://metadata.google.internal/computeMetadata/v1/instance/confidential_computing/attestation",
}

type Config struct {
	ApplicationName string `yaml:"application_name"`
	// Audience requested for vTPM tokens. Defaults to ApplicationName.
	Audience string `yaml:"audience"`

	TPMDevicePath string `yaml:"tpm_device_path"`
	// AttestationKeySeed is a hex seed for the simulated attestation key.
	// Empty means a fresh key per process.
	AttestationKeySeed string `yaml:"attestation_key_seed"`

	CLIToolPath           string   `yaml:"cli_tool_path"`
	CLIToolArgs           []string `yaml:"cli_tool_args"`
	CLIUseSudo            bool     `yaml:"cli_use_sudo"`
	HelperScriptPath      string   `yaml:"helper_script_path"`
	FallbackTokenLocation string   `yaml:"fallback_token_location"`

	Metadata MetadataConfig `yaml:"metadata"`

	// ConfidentialVM is one of auto, true or false.
	ConfidentialVM string `yaml:"confidential_vm"`
	// DNSResolver is the host:port used for the metadata host pre-check.
	// Empty means the first nameserver in /etc/resolv.conf.
	DNSResolver string `yaml:"dns_resolver"`

	RPCURL       string         `yaml:"rpc_url"`
	VTPMContract ContractConfig `yaml:"vtpm_contract"`
	TPMContract  ContractConfig `yaml:"tpm_contract"`

	SimulatedFailureRate float64 `yaml:"simulated_failure_rate"`

	Timeouts       Timeouts       `yaml:"timeouts"`
	ExpectedClaims ExpectedClaims `yaml:"expected_claims"`
}

type MetadataConfig struct {
	URLs        []string `yaml:"urls"`
	HeaderName  string   `yaml:"header_name"`
	HeaderValue string   `yaml:"header_value"`
	// ProbeURL is fetched once at startup to detect a confidential VM.
	ProbeURL string `yaml:"probe_url"`
}

// ContractConfig locates an on-chain verifier. An empty Address disables it.
type ContractConfig struct {
	Address string `yaml:"address"`
	// ABIPath optionally overrides the built-in ABI with a JSON ABI file.
	ABIPath string `yaml:"abi_path"`
	Method  string `yaml:"method"`
}

// Enabled reports whether a contract address is configured.
func (c ContractConfig) Enabled() bool {
	return c.Address != ""
}

type Timeouts struct {
	Metadata time.Duration `yaml:"metadata"`
	Command  time.Duration `yaml:"command"`
	Probe    time.Duration `yaml:"probe"`
	Contract time.Duration `yaml:"contract"`
}

// ExpectedClaims are compared against decoded vTPM token claims for diagnostics.
type ExpectedClaims struct {
	Issuer  string `yaml:"issuer"`
	HWModel string `yaml:"hwmodel"`
	SWName  string `yaml:"swname"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ApplicationName:       "ChainContext",
		TPMDevicePath:         "/dev/tpm0",
		CLIToolPath:           "/usr/local/bin/gotpm",
		CLIToolArgs:           []string{"token", "--audience"},
		HelperScriptPath:      "/usr/local/bin/get_attestation.sh",
		FallbackTokenLocation: "attestation_token.txt",
		Metadata: MetadataConfig{
			URLs:        append([]string(nil), DefaultMetadataURLs...),
			HeaderName:  "Metadata-Flavor",
			HeaderValue: "Google",
			ProbeURL:    "http://metadata.google.internal/computeMetadata/v1/instance/id",
		},
		ConfidentialVM: ConfidentialAuto,
		RPCURL:         "https://flare-api.flare.network/ext/C/rpc",
		VTPMContract: ContractConfig{
			Address: "0x93012953008ef9AbcB71F48C340166E8f384e985",
			Method:  "verifyAndAttest",
		},
		TPMContract: ContractConfig{
			Address: "0x28432EC82268eE4A9fa051e9005DCea26ae21160",
			Method:  "verifyAttestation",
		},
		SimulatedFailureRate: 0.1,
		Timeouts: Timeouts{
			Metadata: 5 * time.Second,
			Command:  10 * time.Second,
			Probe:    2 * time.Second,
			Contract: 15 * time.Second,
		},
		ExpectedClaims: ExpectedClaims{
			Issuer:  "https://confidentialcomputing.googleapis.com",
			HWModel: "GCP_AMD_SEV",
			SWName:  "CONFIDENTIAL_SPACE",
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file, optional
// .env files and the process environment, then validates it.
func Load(path string, dotEnvFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeYAMLFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := loadDotEnv(dotEnvFiles...); err != nil {
		return Config{}, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("could not parse config file %s: %w", path, err)
	}
	return nil
}

// loadDotEnv loads the given .env files, skipping files that do not exist.
// Variables already present in the environment are not overridden.
func loadDotEnv(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("could not load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from environment variables using the names of
// the original deployment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str("APP_NAME", &c.ApplicationName)
	str("ATTESTATION_AUDIENCE", &c.Audience)
	str("TPM_DEVICE", &c.TPMDevicePath)
	str("ATTESTATION_KEY_SEED", &c.AttestationKeySeed)
	str("GOTPM_PATH", &c.CLIToolPath)
	str("ATTESTATION_HELPER_SCRIPT", &c.HelperScriptPath)
	str("ATTESTATION_TOKEN_PATH", &c.FallbackTokenLocation)
	str("CONFIDENTIAL_VM", &c.ConfidentialVM)
	str("DNS_RESOLVER", &c.DNSResolver)
	str("WEB3_PROVIDER_URI", &c.RPCURL)
	str("FLARE_VTPM_ATTESTATION_ADDRESS", &c.VTPMContract.Address)
	str("FLARE_VTPM_ATTESTATION_ABI", &c.VTPMContract.ABIPath)
	str("TEE_VERIFIER_ADDRESS", &c.TPMContract.Address)
	str("TEE_VERIFIER_ABI", &c.TPMContract.ABIPath)

	if v, ok := lookup("METADATA_URLS"); ok {
		c.Metadata.URLs = splitList(v)
	}

	if v, ok := lookup("GOTPM_SUDO"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid GOTPM_SUDO: %w", err)
		}
		c.CLIUseSudo = b
	}

	if v, ok := lookup("SIMULATED_FAILURE_RATE"); ok {
		rate, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid SIMULATED_FAILURE_RATE: %w", err)
		}
		c.SimulatedFailureRate = rate
	}

	return nil
}

// Validate checks addresses, ranges and modes.
func (c *Config) Validate() error {
	var errs []error

	if c.ApplicationName == "" && c.Audience == "" {
		errs = append(errs, errors.New("application name or audience is required"))
	}

	switch strings.ToLower(c.ConfidentialVM) {
	case ConfidentialAuto, ConfidentialAlways, ConfidentialNever, "":
	default:
		errs = append(errs, fmt.Errorf("invalid confidential_vm mode %q", c.ConfidentialVM))
	}

	if c.SimulatedFailureRate < 0 || c.SimulatedFailureRate > 1 {
		errs = append(errs, fmt.Errorf("simulated_failure_rate must be within [0,1], got %v", c.SimulatedFailureRate))
	}

	for name, contract := range map[string]ContractConfig{"vtpm_contract": c.VTPMContract, "tpm_contract": c.TPMContract} {
		if contract.Enabled() && !common.IsHexAddress(contract.Address) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", name, contract.Address))
		}
	}

	if c.AttestationKeySeed != "" {
		if _, err := hex.DecodeString(strings.TrimPrefix(c.AttestationKeySeed, "0x")); err != nil {
			errs = append(errs, fmt.Errorf("attestation_key_seed must be hex: %w", err))
		}
	}

	for _, d := range []time.Duration{c.Timeouts.Metadata, c.Timeouts.Command, c.Timeouts.Probe, c.Timeouts.Contract} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeouts must not be negative, got %s", d))
			break
		}
	}

	return errors.Join(errs...)
}

// EffectiveAudience returns the audience requested for vTPM tokens.
func (c *Config) EffectiveAudience() string {
	if c.Audience != "" {
		return c.Audience
	}
	return c.ApplicationName
}

// KeySeed returns the decoded attestation key seed, or nil when none is set.
func (c *Config) KeySeed() []byte {
	if c.AttestationKeySeed == "" {
		return nil
	}
	seed, err := hex.DecodeString(strings.TrimPrefix(c.AttestationKeySeed, "0x"))
	if err != nil {
		return nil
	}
	return seed
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
