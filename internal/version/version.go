package version

// Populated at build time via -ldflags "-X".
var (
	Version = "unknown"
	Commit  = "unknown"
)

func GetVersion() string {
	return Version
}

func GetCommit() string {
	return Commit
}
