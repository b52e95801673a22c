package telemetry

// Version is reported as the service version. Release builds set it with
// -ldflags "-X github.com/wachiwi/glasses-cam/pkg/telemetry.Version=...".
var Version = "dev"
