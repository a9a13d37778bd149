package version

// Build holds the build identifier, injected via -ldflags. Default "dev".
// The coordinator compares it at registration and rejects outdated nodes.
var Build = "dev"
