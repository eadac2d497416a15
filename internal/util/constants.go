package util

const DateFormat = "2006-01-02"

const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageMinio = "minio"
)

const (
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheRedis  = "redis"
	CacheMySQL  = "mysql"
)

const (
	SessionStoreMemory = "memory"
	SessionStoreFile   = "file"
)

const (
	MimeJSON = "application/json"
	MimePDF  = "application/pdf"
)
