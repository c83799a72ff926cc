package infra

import (
	"fmt"
	"runtime"
)

const programName = "simba"

// Version and CommitSHA are set at build time with -ldflags -X
var (
	Version   = "latest"
	CommitSHA = "development build"
)

func GetVersionInfo() string {
	return fmt.Sprintf("%s:\n Version: %s\n Commit SHA: %s\n Go version: %s\n OS/Arch: %s\n",
		programName, Version, CommitSHA, runtime.Version(),
		fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
}
