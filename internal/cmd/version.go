package cmd

// Version is the cortex build version, overridden at release time via
// -ldflags "-X github.com/metahuman-os/cortex/internal/cmd.Version=v0.2.0".
var Version = "dev"
