//go:build !linux

package hostos

import (
	"errors"
	"runtime"
)

var errNotAvailable = errors.New("not available on " + runtime.GOOS)

func osType() string {
	switch runtime.GOOS {
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows_NT"
	default:
		return runtime.GOOS
	}
}

func osRelease() (string, error) { return "", errNotAvailable }

func uptimeSeconds() (int64, error) { return 0, errNotAvailable }

func totalMemory() (uint64, error) { return 0, errNotAvailable }

func freeMemory() (uint64, error) { return 0, errNotAvailable }

func loadAverage() ([]float64, error) { return nil, errNotAvailable }
