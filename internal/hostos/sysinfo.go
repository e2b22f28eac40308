package hostos

import (
	"net"
	"os"
	"os/user"
	"runtime"
	"sort"

	"github.com/dshills/cmdcenter/internal/failure"
)

// UserInfo describes the account the host runs as.
type UserInfo struct {
	Username string `json:"username"`
	UID      string `json:"uid"`
	GID      string `json:"gid"`
	HomeDir  string `json:"homedir"`
}

var systemFields = map[string]func() (any, error){
	"hostname": func() (any, error) { return os.Hostname() },
	"type":     func() (any, error) { return osType(), nil },
	"platform": func() (any, error) { return platform(), nil },
	"arch":     func() (any, error) { return runtime.GOARCH, nil },
	"release":  func() (any, error) { return osRelease() },
	"uptime":   func() (any, error) { return uptimeSeconds() },
	"cpus":     func() (any, error) { return runtime.NumCPU(), nil },
	"totalmem": func() (any, error) { return totalMemory() },
	"freemem":  func() (any, error) { return freeMemory() },
	"loadavg":  func() (any, error) { return loadAverage() },
	"homedir":  func() (any, error) { return os.UserHomeDir() },
	"tmpdir":   func() (any, error) { return os.TempDir(), nil },
	"user":     currentUser,

	"network-interfaces": networkInterfaces,
}

// SystemFields lists the fields SystemField accepts.
func SystemFields() []string {
	names := make([]string, 0, len(systemFields))
	for name := range systemFields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemField returns one fact about the host. Unknown fields are an
// InvalidRequest failure.
func SystemField(field string) (any, error) {
	fn, ok := systemFields[field]
	if !ok {
		return nil, failure.New(failure.InvalidRequest, "os.info", field, "unknown field")
	}
	v, err := fn()
	if err != nil {
		return nil, failure.Wrap(failure.Unsupported, "os.info", field, err)
	}
	return v, nil
}

// platform uses the conventional names UI code expects.
func platform() string {
	if runtime.GOOS == "windows" {
		return "win32"
	}
	return runtime.GOOS
}

// InterfaceAddr is one address assigned to a network interface.
type InterfaceAddr struct {
	Address  string `json:"address"`
	Netmask  string `json:"netmask"`
	Family   string `json:"family"`
	MAC      string `json:"mac"`
	Internal bool   `json:"internal"`
	CIDR     string `json:"cidr"`
}

// networkInterfaces maps each interface that has addresses to them.
func networkInterfaces() (any, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]InterfaceAddr, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			entry := InterfaceAddr{
				Address:  ipnet.IP.String(),
				Netmask:  net.IP(ipnet.Mask).String(),
				Family:   "IPv6",
				MAC:      iface.HardwareAddr.String(),
				Internal: iface.Flags&net.FlagLoopback != 0,
				CIDR:     ipnet.String(),
			}
			if ipnet.IP.To4() != nil {
				entry.Family = "IPv4"
			}
			if entry.MAC == "" {
				entry.MAC = "00:00:00:00:00:00"
			}
			out[iface.Name] = append(out[iface.Name], entry)
		}
	}
	return out, nil
}

func currentUser() (any, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}
	return UserInfo{Username: u.Username, UID: u.Uid, GID: u.Gid, HomeDir: u.HomeDir}, nil
}
