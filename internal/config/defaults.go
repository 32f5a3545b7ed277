package config

const (
	defaultConfigPath            = "~/.config/shroomdump/config.toml"
	defaultDownloadDir           = "~/.local/share/shroomdump/downloads"
	defaultOutputDir             = "~/.local/share/shroomdump/assets"
	defaultToolDir               = "~/.local/share/shroomdump/tools"
	defaultLogDir                = "~/.local/share/shroomdump/logs"
	defaultLedgerPath            = "~/.local/share/shroomdump/ledger.db"
	defaultOriginsURL            = "https://origins-gamedata.habbo.com/external_variables/1"
	defaultClientURLsEndpoint    = "https://origins.habbo.com/gamedata/clienturls"
	defaultPlatform              = "windows"
	defaultDecoderRepository     = "https://github.com/ProjectorRays/ProjectorRays.git"
	defaultDecoderBinary         = "projectorrays"
	defaultDecodeCommand         = "decompile"
	defaultPackageManager        = "brew"
	defaultInstallTimeoutSeconds = 600
	defaultDecodeTimeoutSeconds  = 300
	defaultDCRConcurrency        = 4
	defaultCCTConcurrency        = 2
	defaultMaxDepth              = 10
	defaultRequestTimeoutSeconds = 60
	defaultMaxRetries            = 3
	defaultInitialDelayMS        = 1000
	defaultMaxDelayMS            = 30000
	defaultBackoffFactor         = 2.0
	defaultCacheTTLSeconds       = 300
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"

	envOriginsURL  = "SHROOMDUMP_ORIGINS_URL"
	envStandardURL = "SHROOMDUMP_EXTERNAL_VARIABLES_URL"
)

var (
	defaultDependencies = []string{"boost", "mpg123", "zlib"}
	defaultBuildCommand = []string{"make"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			OutputDir:   defaultOutputDir,
			ToolDir:     defaultToolDir,
			LogDir:      defaultLogDir,
			LedgerPath:  defaultLedgerPath,
		},
		Origins: Origins{
			ExternalVariablesURL: defaultOriginsURL,
			ClientURLsEndpoint:   defaultClientURLsEndpoint,
			Platform:             defaultPlatform,
		},
		Decoder: Decoder{
			RepositoryURL:         defaultDecoderRepository,
			BinaryName:            defaultDecoderBinary,
			DecodeCommand:         defaultDecodeCommand,
			PackageManager:        defaultPackageManager,
			Dependencies:          append([]string(nil), defaultDependencies...),
			InstallTimeoutSeconds: defaultInstallTimeoutSeconds,
			BuildCommand:          append([]string(nil), defaultBuildCommand...),
			DecodeTimeoutSeconds:  defaultDecodeTimeoutSeconds,
		},
		Extraction: Extraction{
			DCRConcurrency: defaultDCRConcurrency,
			CCTConcurrency: defaultCCTConcurrency,
			MaxDepth:       defaultMaxDepth,
		},
		Network: Network{
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
			MaxRetries:            defaultMaxRetries,
			InitialDelayMS:        defaultInitialDelayMS,
			MaxDelayMS:            defaultMaxDelayMS,
			BackoffFactor:         defaultBackoffFactor,
			CacheTTLSeconds:       defaultCacheTTLSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
