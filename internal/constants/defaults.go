package constants

// Server defaults
const (
	DefaultServerPort          = "8090"
	DefaultReadTimeoutSec      = 15
	DefaultWriteTimeoutSec     = 15
	DefaultIdleTimeoutSec      = 60
	DefaultGracefulShutdownSec = 30
	ServerErrorChannelSize     = 1
)

// Database defaults
const (
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 5000
)

// Gateway client defaults
const (
	DefaultGatewayTimeoutSec = 30
	DefaultGatewayRetryCount = 3
	DefaultHistoryPageSize   = 50
)

// Realtime defaults
const (
	DefaultSessionBufferSize = 64
)

// Instance monitor defaults
const (
	DefaultMonitorIntervalSec = 60
)

// Broker defaults
const (
	DefaultAMQPDialAttempts = 5
	DefaultAMQPDialDelayMs  = 500
	DefaultRoutingKeyPrefix = "wadesk"
)

// Encryption
const (
	NonceSize      = 12
	SaltSize       = 16
	KeySize        = 32
	PBKDF2Iters    = 100000
	EncryptionSalt = "wadesk-column-salt-v1"
)
