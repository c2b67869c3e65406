package config

import "github.com/c2h5oh/datasize"

const (
	defaultConfigPath          = "~/.config/discarchive/config.toml"
	defaultOutputDir           = "~/discs"
	defaultStateDir            = "~/.local/share/discarchive"
	defaultAPIBind             = "127.0.0.1:7488"
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
	defaultPollInterval        = 5
	defaultBufferSize          = datasize.MB
	defaultActuatorAttempts    = 5
	defaultCommandTimeout      = 30
	defaultStripTrailing       = 1
	defaultNotifyTimeout       = 10
	minimumBufferSize          = 2048
	defaultCatalogFileName     = "catalog.db"
	defaultLogDirectoryName    = "logs"
	defaultLsscsiBinary        = "lsscsi"
	defaultBlkidBinary         = "blkid"
	defaultIsoinfoBinary       = "isoinfo"
	defaultEjectBinary         = "eject"
	apiTokenEnvironmentKey     = "DISCARCHIVE_API_TOKEN"
	notifyTopicEnvironmentKey  = "DISCARCHIVE_NTFY_TOPIC"
	maximumInventoryStripCount = 1
)

// Default returns a Config populated with repository defaults. Directories
// left empty are derived from the output and state directories during
// normalization.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			StateDir:  defaultStateDir,
			APIBind:   defaultAPIBind,
		},
		Tools: Tools{
			Lsscsi:                 defaultLsscsiBinary,
			Blkid:                  defaultBlkidBinary,
			Isoinfo:                defaultIsoinfoBinary,
			Eject:                  defaultEjectBinary,
			InventoryStripTrailing: defaultStripTrailing,
			CommandTimeout:         defaultCommandTimeout,
		},
		Drive: Drive{
			PollInterval:           defaultPollInterval,
			BufferSize:             defaultBufferSize,
			ActuatorAttempts:       defaultActuatorAttempts,
			EjectOnMetadataFailure: true,
			NetlinkEnabled:         true,
			WriteManifest:          true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Commit:         true,
			Failure:        true,
		},
		Catalog: Catalog{
			Enabled: true,
		},
	}
}
