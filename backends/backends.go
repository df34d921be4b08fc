// Package backends defines the interface a device memory and stream execution system
// needs to implement to be used by the devicebuf package.
//
// It is modeled after the stream-executor style of accelerator APIs: a backend
// exposes numbered devices, each device owns an allocator and a set of FIFO
// streams, and streams record completion events that other streams can wait on.
//
// Capability methods return errors for conditions the caller can recover from
// (a failed allocation, a finalized backend). Violations of the usage contract
// panic with a stack trace instead, see package github.com/gomlx/exceptions.
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// DeviceNum identifies which device holds a buffer, or should execute work.
// It's up to the backend to interpret it, but it should be between 0 and Backend.NumDevices.
type DeviceNum int

// Backend is the API that needs to be implemented by a devicemem backend.
type Backend interface {
	// Name returns the short name of the backend. E.g.: "go" for the pure Go backend.
	Name() string

	// Description is a longer description of the Backend that can be used to pretty-print.
	Description() string

	// NumDevices return the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Device returns the device with the given number.
	// It panics if deviceNum is out of range.
	Device(deviceNum DeviceNum) Device

	// Finalize releases all the associated resources immediately, and makes the backend invalid.
	Finalize()
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) Backend

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the backend constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the names of the registered backends, sorted.
func List() []string {
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the name of the default backend configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the name of the environment variable with the default backend
// configuration to use: DEVICEMEM_BACKEND.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific (e.g.: for the go backend, the
// number of devices to simulate).
const ConfigEnvVar = "DEVICEMEM_BACKEND"

// New returns a new Backend from the default configuration.
//
// The default is:
//
// 1. The environment DEVICEMEM_BACKEND is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
//
// It returns an error if no backend was registered, or if the configuration
// doesn't parse.
func New() (Backend, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// MustNew is like New, but panics on error.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig creates a Backend from a configuration string.
//
// The format of config is "<backend_name>:<backend_configuration>".
// The "<backend_name>" is the name of a registered backend (e.g.: "go") and
// "<backend_configuration>" is backend specific.
func NewWithConfig(config string) (Backend, error) {
	if len(registeredConstructors) == 0 {
		return nil, errors.Errorf(`no registered backends for devicemem -- maybe import the default one with import _ "github.com/gomlx/devicemem/backends/goexec"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q given -- available backends: %q",
			backendName, config, List())
	}
	return constructor(backendConfig), nil
}
