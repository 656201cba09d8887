package wifi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/solatis/aadnode/internal/core/nvs"
	"github.com/solatis/aadnode/internal/types"
)

// Radio is the station interface the driver controls.
type Radio interface {
	Init() error
	// Credentials returns the stored network, types.ErrNoCredentials when none.
	Credentials() (ssid, password string, err error)
	Connect(ctx context.Context, ssid, password string) error
	Disconnect() error
	Deinit() error
	// RSSI fails when the link is down.
	RSSI() (int, error)
	Scan() ([]AccessPoint, error)
	// StartWPS blocks until a push-button exchange stores credentials or ctx ends.
	StartWPS(ctx context.Context) error
}

// AccessPoint is one scan result.
type AccessPoint struct {
	SSID string
	RSSI int
}

// CredentialStore persists station credentials.
type CredentialStore interface {
	GetString(namespace, key string) (string, error)
	SetString(namespace, key, value string) error
}

// HostRadio maps the station onto a network interface of the host. The link
// counts as connected while the interface is up with a unicast address.
type HostRadio struct {
	store CredentialStore
	name  string

	mu        sync.Mutex
	iface     *net.Interface
	connected bool
	wireless  string
}

// NewHostRadio uses the named interface, or the first non-loopback interface
// that is up when name is empty.
func NewHostRadio(store CredentialStore, name string) *HostRadio {
	return &HostRadio{store: store, name: name, wireless: "/proc/net/wireless"}
}

func (r *HostRadio) Init() error {
	iface, err := r.lookup()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.iface = iface
	r.mu.Unlock()
	return nil
}

func (r *HostRadio) lookup() (*net.Interface, error) {
	if r.name != "" {
		iface, err := net.InterfaceByName(r.name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", r.name, err)
		}
		return iface, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for i := range ifaces {
		f := ifaces[i].Flags
		if f&net.FlagLoopback == 0 && f&net.FlagUp != 0 {
			return &ifaces[i], nil
		}
	}
	return nil, errors.New("no usable network interface")
}

func (r *HostRadio) Credentials() (string, string, error) {
	ssid, err := r.store.GetString(nvs.NamespaceWiFi, "ssid")
	if errors.Is(err, types.ErrNotFound) || (err == nil && ssid == "") {
		return "", "", types.ErrNoCredentials
	}
	if err != nil {
		return "", "", err
	}
	pass, err := r.store.GetString(nvs.NamespaceWiFi, "password")
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return "", "", err
	}
	return ssid, pass, nil
}

func (r *HostRadio) Connect(ctx context.Context, ssid, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.iface == nil {
		return errors.New("radio not initialised")
	}
	if !linkUp(r.iface.Name) {
		return fmt.Errorf("%w: %s for %q", types.ErrNotConnected, r.iface.Name, ssid)
	}
	r.connected = true
	return nil
}

func (r *HostRadio) Disconnect() error {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
	return nil
}

func (r *HostRadio) Deinit() error {
	r.mu.Lock()
	r.connected = false
	r.iface = nil
	r.mu.Unlock()
	return nil
}

// RSSI reads the signal level from the kernel's wireless table. Wired
// interfaces report 0.
func (r *HostRadio) RSSI() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.iface == nil || !r.connected || !linkUp(r.iface.Name) {
		return 0, types.ErrNotConnected
	}
	level, ok := wirelessLevel(r.wireless, r.iface.Name)
	if !ok {
		return 0, nil
	}
	return level, nil
}

// Scan reports the stored network when the link is usable. Without stored
// credentials it fails with types.ErrNoCredentials.
func (r *HostRadio) Scan() ([]AccessPoint, error) {
	ssid, _, err := r.Credentials()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	iface := r.iface
	r.mu.Unlock()
	if iface == nil || !linkUp(iface.Name) {
		return nil, nil
	}
	level, _ := wirelessLevel(r.wireless, iface.Name)
	return []AccessPoint{{SSID: ssid, RSSI: level}}, nil
}

func (r *HostRadio) StartWPS(context.Context) error {
	return errors.New("WPS is not supported by the host radio")
}

func linkUp(name string) bool {
	iface, err := net.InterfaceByName(name)
	if err != nil || iface.Flags&net.FlagUp == 0 {
		return false
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && ipn.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// wirelessLevel parses the signal level column of /proc/net/wireless.
func wirelessLevel(path, iface string) (int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, rest, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || name != iface {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 3 {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[2], "."), 64)
		if err != nil {
			return 0, false
		}
		return int(v), true
	}
	return 0, false
}
