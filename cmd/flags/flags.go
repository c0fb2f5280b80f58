package flags

import (
	"log/slog"
	"time"

	"github.com/chaincontext/teeattest/common"
	"github.com/chaincontext/teeattest/config"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logger := common.SetupLogger(loggingOpts(cCtx))

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// loggingOpts reads the log flags. Binaries without a log-service flag are
// tagged with the package name.
func loggingOpts(cCtx *cli.Context) *common.LoggingOpts {
	service := cCtx.String("log-service")
	if service == "" {
		service = common.PackageName
	}
	return &common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: service,
		Version: common.Version,
	}
}

// LoadConfig loads the configuration file and environment, then applies any
// flags set on the command line.
func LoadConfig(cCtx *cli.Context) (config.Config, error) {
	cfg, err := config.Load(cCtx.String(ConfigFileFlag.Name), cCtx.StringSlice(EnvFileFlag.Name)...)
	if err != nil {
		return config.Config{}, err
	}

	if cCtx.IsSet(AudienceFlag.Name) {
		cfg.Audience = cCtx.String(AudienceFlag.Name)
	}
	if cCtx.IsSet(TPMDeviceFlag.Name) {
		cfg.TPMDevicePath = cCtx.String(TPMDeviceFlag.Name)
	}
	if cCtx.IsSet(CLIToolFlag.Name) {
		cfg.CLIToolPath = cCtx.String(CLIToolFlag.Name)
	}
	if cCtx.IsSet(CLISudoFlag.Name) {
		cfg.CLIUseSudo = cCtx.Bool(CLISudoFlag.Name)
	}
	if cCtx.IsSet(HelperScriptFlag.Name) {
		cfg.HelperScriptPath = cCtx.String(HelperScriptFlag.Name)
	}
	if cCtx.IsSet(TokenLocationFlag.Name) {
		cfg.FallbackTokenLocation = cCtx.String(TokenLocationFlag.Name)
	}
	if cCtx.IsSet(MetadataURLFlag.Name) {
		cfg.Metadata.URLs = cCtx.StringSlice(MetadataURLFlag.Name)
	}
	if cCtx.IsSet(ProbeURLFlag.Name) {
		cfg.Metadata.ProbeURL = cCtx.String(ProbeURLFlag.Name)
	}
	if cCtx.IsSet(ConfidentialVMFlag.Name) {
		cfg.ConfidentialVM = cCtx.String(ConfidentialVMFlag.Name)
	}
	if cCtx.IsSet(RpcAddrFlag.Name) {
		cfg.RPCURL = cCtx.String(RpcAddrFlag.Name)
	}
	if cCtx.IsSet(VTPMContractFlag.Name) {
		cfg.VTPMContract.Address = cCtx.String(VTPMContractFlag.Name)
	}
	if cCtx.IsSet(TPMContractFlag.Name) {
		cfg.TPMContract.Address = cCtx.String(TPMContractFlag.Name)
	}
	if cCtx.IsSet(FailureRateFlag.Name) {
		cfg.SimulatedFailureRate = cCtx.Float64(FailureRateFlag.Name)
	}
	if cCtx.IsSet(ContractTimeoutFlag.Name) {
		cfg.Timeouts.Contract = cCtx.Duration(ContractTimeoutFlag.Name)
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: []string{"TEEATTEST_CONFIG"},
	Usage:   "YAML configuration file",
}
var EnvFileFlag = &cli.StringSliceFlag{
	Name:  "env-file",
	Value: cli.NewStringSlice(".env"),
	Usage: "dotenv files to load before reading the environment, missing files are skipped",
}

var AudienceFlag = &cli.StringFlag{
	Name:  "audience",
	Usage: "audience requested for vTPM tokens (defaults to the application name)",
}
var TPMDeviceFlag = &cli.StringFlag{
	Name:  "tpm-device",
	Usage: "TPM device path, a tdx_guest device selects TDX quotes",
}
var CLIToolFlag = &cli.StringFlag{
	Name:  "gotpm-path",
	Usage: "attestation CLI invoked as '<path> token --audience <audience>'",
}
var CLISudoFlag = &cli.BoolFlag{
	Name:  "gotpm-sudo",
	Usage: "run the attestation CLI through sudo",
}
var HelperScriptFlag = &cli.StringFlag{
	Name:  "helper-script",
	Usage: "executable script printing an attestation token",
}
var TokenLocationFlag = &cli.StringFlag{
	Name:  "token-location",
	Usage: "pre-generated token: path, file://, s3://, vault:// or ipfs:// URI",
}
var MetadataURLFlag = &cli.StringSliceFlag{
	Name:  "metadata-url",
	Usage: "metadata attestation-token URL, repeat to set the fallback order",
}
var ProbeURLFlag = &cli.StringFlag{
	Name:  "probe-url",
	Usage: "metadata URL probed to detect a confidential VM",
}
var ConfidentialVMFlag = &cli.StringFlag{
	Name:  "confidential-vm",
	Usage: "confidential VM detection: auto, true or false",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Usage: "address to connect to RPC",
}
var VTPMContractFlag = &cli.StringFlag{
	Name:  "vtpm-contract",
	Usage: "vTPM verifier contract address, empty disables on-chain vTPM verification",
}
var TPMContractFlag = &cli.StringFlag{
	Name:  "tpm-contract",
	Usage: "TPM verifier contract address, empty disables on-chain TPM verification",
}
var FailureRateFlag = &cli.Float64Flag{
	Name:  "simulated-failure-rate",
	Usage: "fraction of simulated verifications that fail",
}
var ContractTimeoutFlag = &cli.DurationFlag{
	Name:  "contract-timeout",
	Value: 15 * time.Second,
	Usage: "timeout of a verifier contract call",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

// EngineFlags configure token acquisition, building and verification.
var EngineFlags = []cli.Flag{
	ConfigFileFlag,
	EnvFileFlag,
	AudienceFlag,
	TPMDeviceFlag,
	CLIToolFlag,
	CLISudoFlag,
	HelperScriptFlag,
	TokenLocationFlag,
	MetadataURLFlag,
	ProbeURLFlag,
	ConfidentialVMFlag,
	RpcAddrFlag,
	VTPMContractFlag,
	TPMContractFlag,
	FailureRateFlag,
	ContractTimeoutFlag,
}
