// Package device identifies the machine running the enrollment client so
// the biometric service can bind a platform credential to it.
package device

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

// Identity describes the local device.
type Identity struct {
	DeviceID    string
	Fingerprint string
	Platform    string
}

// Fingerprinter produces the device Identity.
type Fingerprinter interface {
	Identify(ctx context.Context) (Identity, error)
}

// namespace scopes derived device ids to this client.
var namespace = uuid.MustParse("5b0c3c8e-6f3a-4d61-9a7e-2f4f1d0c9e21")

var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// HostFingerprinter derives a stable identity from the host machine id.
// When no machine id is readable it falls back to the hostname.
type HostFingerprinter struct {
	// Salt is mixed into the fingerprint so ids differ per deployment.
	Salt string
	// ReadFile is os.ReadFile unless overridden.
	ReadFile func(string) ([]byte, error)
	// Hostname is os.Hostname unless overridden.
	Hostname func() (string, error)
}

func (h HostFingerprinter) Identify(_ context.Context) (Identity, error) {
	read := h.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	hostname := h.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}

	source := ""
	for _, p := range machineIDPaths {
		if raw, err := read(p); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				source = id
				break
			}
		}
	}
	if source == "" {
		name, err := hostname()
		if err != nil || strings.TrimSpace(name) == "" {
			return Identity{}, errors.New("device: no machine id or hostname available")
		}
		source = name
	}

	sum := sha256.Sum256([]byte(h.Salt + "|" + source))
	fingerprint := hex.EncodeToString(sum[:])

	return Identity{
		DeviceID:    uuid.NewSHA1(namespace, sum[:]).String(),
		Fingerprint: fingerprint,
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}, nil
}

// Static returns a fixed Identity.
type Static Identity

func (s Static) Identify(context.Context) (Identity, error) {
	return Identity(s), nil
}
