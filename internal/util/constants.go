package util

const (
	DateFormat = "2006-01-02"
	TimeFormat = "2006-01-02 15:04:05"
)

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	DatabaseMySQL  = "mysql"
	DatabaseSQLite = "sqlite"
)

const (
	MimeJSON = "application/json"
)

const (
	// 分页默认值
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)
