package config

const (
	defaultDownloadDir            = "~/.local/share/clipstream/downloads"
	defaultLogDir                 = "~/.local/share/clipstream/logs"
	defaultListen                 = "127.0.0.1:8460"
	defaultToolBinary             = "yt-dlp"
	defaultInfoTimeoutSeconds     = 30
	defaultPlaylistTimeoutSeconds = 120
	defaultFormat                 = "bv*+ba/b"
	defaultMergeFormat            = "mp4"
	defaultQuotaMB                = 5000
	defaultWarnPercent            = 80
	defaultRoutineReclaimMB       = 500
	defaultAggressiveReclaimMB    = 1000
	defaultRoutineSpec            = "0 * * * *"
	defaultAggressiveSpec         = "*/5 * * * *"
	defaultTokenMaxAgeMin         = 60
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			Listen:      defaultListen,
		},
		Tool: Tool{
			Binary:                 defaultToolBinary,
			InfoTimeoutSeconds:     defaultInfoTimeoutSeconds,
			PlaylistTimeoutSeconds: defaultPlaylistTimeoutSeconds,
			DefaultFormat:          defaultFormat,
			MergeFormat:            defaultMergeFormat,
		},
		Disk: Disk{
			QuotaMB:             defaultQuotaMB,
			WarnPercent:         defaultWarnPercent,
			RoutineReclaimMB:    defaultRoutineReclaimMB,
			AggressiveReclaimMB: defaultAggressiveReclaimMB,
		},
		Janitor: Janitor{
			RoutineSpec:    defaultRoutineSpec,
			AggressiveSpec: defaultAggressiveSpec,
			TokenMaxAgeMin: defaultTokenMaxAgeMin,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
