package hostos

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cmdcenter/internal/failure"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"HTML", FormatHTML, false},
		{"rtf", FormatRTF, false},
		{"png", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, failure.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckLink(t *testing.T) {
	tests := []struct {
		url  string
		ok   bool
		safe bool
	}{
		{"https://example.com/docs", true, true},
		{"http://localhost:8080", true, true},
		{"mailto:someone@example.com", true, true},
		{"file:///etc/passwd", false, false},
		{"javascript:alert(1)", false, false},
		{"smb://server/share", false, false},
		{"https://", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := CheckLink(tt.url)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if !tt.safe {
				assert.ErrorIs(t, err, ErrUnsafeLink)
			}
		})
	}
}

func TestOpenLinkRejectsUnsafeScheme(t *testing.T) {
	err := NewDesktop().OpenLink("file:///etc/passwd")
	assert.ErrorIs(t, err, ErrUnsafeLink)
}

func TestSystemField(t *testing.T) {
	v, err := SystemField("arch")
	require.NoError(t, err)
	assert.Equal(t, runtime.GOARCH, v)

	v, err = SystemField("cpus")
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), v)

	v, err = SystemField("tmpdir")
	require.NoError(t, err)
	assert.NotEmpty(t, v)

	_, err = SystemField("secrets")
	assert.ErrorIs(t, err, failure.ErrInvalidRequest)

	assert.Contains(t, SystemFields(), "hostname")
	assert.Len(t, SystemFields(), 14)
}

func TestSystemFieldNetworkInterfaces(t *testing.T) {
	v, err := SystemField("network-interfaces")
	require.NoError(t, err)
	ifaces, ok := v.(map[string][]InterfaceAddr)
	require.True(t, ok, "got %T", v)
	for name, addrs := range ifaces {
		for _, a := range addrs {
			assert.Contains(t, []string{"IPv4", "IPv6"}, a.Family, name)
			assert.NotEmpty(t, a.CIDR, name)
			assert.NotEmpty(t, a.MAC, name)
		}
	}
}

func TestSystemFieldLinux(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("linux only")
	}
	v, err := SystemField("type")
	require.NoError(t, err)
	assert.Equal(t, "Linux", v)

	v, err = SystemField("totalmem")
	require.NoError(t, err)
	total := v.(uint64)
	assert.Greater(t, total, uint64(0))

	v, err = SystemField("freemem")
	require.NoError(t, err)
	assert.LessOrEqual(t, v.(uint64), total)

	v, err = SystemField("loadavg")
	require.NoError(t, err)
	loads := v.([]float64)
	require.Len(t, loads, 3)
	for _, l := range loads {
		assert.GreaterOrEqual(t, l, 0.0)
	}
}
