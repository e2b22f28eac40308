//go:build linux

package hostos

import "golang.org/x/sys/unix"

func osType() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "Linux"
	}
	return unix.ByteSliceToString(u.Sysname[:])
}

func osRelease() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", err
	}
	return unix.ByteSliceToString(u.Release[:]), nil
}

func uptimeSeconds() (int64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return int64(si.Uptime), nil
}

func totalMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Totalram) * uint64(si.Unit), nil
}

func freeMemory() (uint64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, err
	}
	return uint64(si.Freeram) * uint64(si.Unit), nil
}

// loadAverage returns the 1, 5 and 15 minute load averages. The kernel
// reports them as fixed point with 16 fractional bits.
func loadAverage() ([]float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil, err
	}
	loads := make([]float64, len(si.Loads))
	for i, l := range si.Loads {
		loads[i] = float64(l) / (1 << 16)
	}
	return loads, nil
}
