package fcapi

// LogLevel is the Firecracker logger verbosity.
type LogLevel string

const (
	LogOff     LogLevel = "Off"
	LogTrace   LogLevel = "Trace"
	LogDebug   LogLevel = "Debug"
	LogInfo    LogLevel = "Info"
	LogWarning LogLevel = "Warning"
	LogError   LogLevel = "Error"
)

// CacheType is a drive's caching strategy.
type CacheType string

const (
	CacheUnsafe    CacheType = "Unsafe"
	CacheWriteback CacheType = "Writeback"
)

// IoEngine is a drive's I/O backend.
type IoEngine string

const (
	IoSync  IoEngine = "Sync"
	IoAsync IoEngine = "Async"
)

// Logger configures the Firecracker process logger, PUT to /logger.
type Logger struct {
	LogPath       string   `json:"log_path"`
	Level         LogLevel `json:"level"`
	ShowLevel     bool     `json:"show_level"`
	ShowLogOrigin bool     `json:"show_log_origin"`
	Module        *string  `json:"module,omitempty"`
}

// BootSource configures the kernel, PUT to /boot-source.
type BootSource struct {
	KernelImagePath string  `json:"kernel_image_path"`
	BootArgs        *string `json:"boot_args,omitempty"`
	InitrdPath      *string `json:"initrd_path,omitempty"`
}

// TokenBucket is a rate-limiter bucket.
type TokenBucket struct {
	Size         int64  `json:"size"`
	RefillTimeMs int64  `json:"refill_time_ms"`
	OneTimeBurst *int64 `json:"one_time_burst,omitempty"`
}

// RateLimiter bounds bandwidth and/or operations per second.
type RateLimiter struct {
	Bandwidth *TokenBucket `json:"bandwidth,omitempty"`
	Ops       *TokenBucket `json:"ops,omitempty"`
}

// Drive configures a block device, PUT to /drives/<drive_id>.
type Drive struct {
	DriveID      string       `json:"drive_id"`
	IsRootDevice bool         `json:"is_root_device"`
	CacheType    CacheType    `json:"cache_type"`
	IoEngine     IoEngine     `json:"io_engine"`
	Partuuid     *string      `json:"partuuid,omitempty"`
	IsReadOnly   *bool        `json:"is_read_only,omitempty"`
	PathOnHost   string       `json:"path_on_host"`
	RateLimiter  *RateLimiter `json:"rate_limiter,omitempty"`
}

// NetworkInterface configures a tap device, PUT to /network-interfaces/<iface_id>.
type NetworkInterface struct {
	HostDevName   string       `json:"host_dev_name"`
	IfaceID       string       `json:"iface_id"`
	GuestMac      *string      `json:"guest_mac,omitempty"`
	RxRateLimiter *RateLimiter `json:"rx_rate_limiter,omitempty"`
	TxRateLimiter *RateLimiter `json:"tx_rate_limiter,omitempty"`
}

// VirtualMachineConfig is the full set of device configuration PUT to a
// single Firecracker instance before InstanceStart.
type VirtualMachineConfig struct {
	Logger            *Logger            `json:"logger,omitempty"`
	BootSource         BootSource         `json:"boot_source"`
	Drives             []Drive            `json:"drives"`
	NetworkInterfaces []NetworkInterface `json:"network_interfaces"`
}

// ActionType is the action_type field of an InstanceActionInfo.
type ActionType string

const (
	ActionInstanceStart ActionType = "InstanceStart"
)

// InstanceActionInfo is the body PUT to /actions.
type InstanceActionInfo struct {
	ActionType ActionType `json:"action_type"`
}
