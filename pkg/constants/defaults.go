package constants

// File permission constants
const (
	DefaultFilePermissions      = 0600
	DefaultDirectoryPermissions = 0750
)

// Provider session constants used by client packages
const (
	CredentialFileSuffix  = ".db"
	SQLiteDialect         = "sqlite3"
	QRChannelEventCode    = "code"
	QRChannelEventSuccess = "success"
	QRChannelEventTimeout = "timeout"
)

// CredentialSidecarSuffixes are the SQLite companion files that live next to
// a credential database and must be removed with it.
var CredentialSidecarSuffixes = []string{"-wal", "-shm", "-journal"}
