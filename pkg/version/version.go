package version

// Version is overridden at build time with -ldflags "-X .../pkg/version.Version=...".
var Version = "dev"
