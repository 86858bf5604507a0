package common

// File permission constants shared by config, ledger and archive writers
const (
	// FilePermissionSecure is used for config files, credentials and quarantine archives
	FilePermissionSecure = 0600

	// FilePermissionNormal is used for exported reports and metric textfiles
	FilePermissionNormal = 0644

	// DirPermissionSecure is used for ~/.labhub and the archive directory
	DirPermissionSecure = 0700

	// DirPermissionNormal is used for report output directories
	DirPermissionNormal = 0755
)
