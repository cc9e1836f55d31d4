// conf/consts.go hard coded constants
package conf

const (
	StorageLocal = "local"
	StorageFTP   = "ftp"
	StorageSFTP  = "sftp"

	EnrichmentStoreMemory   = "memory"
	EnrichmentStoreDatabase = "database"

	DefaultInputSize = 150 // multilabel model input edge in pixels

	// UserAgent is sent on every outbound image fetch.
	UserAgent = "ChestGuard-Backend/1.0"
)
