package ems

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a device of one profile. It registers the profile's
// telegram types and fields on a device created with NewDevice.
type Constructor func(info DeviceInfo, logger Logger) (*Device, error)

// Profile describes a registered device type.
type Profile struct {
	Type        string
	Description string
}

type profileEntry struct {
	Profile
	build Constructor
}

// Factory maps device type names to constructors. Profiles are registered
// at startup; Freeze then makes the set immutable.
type Factory struct {
	mu       sync.RWMutex
	profiles map[string]profileEntry
	frozen   bool
}

// NewFactory creates an empty, unfrozen factory.
func NewFactory() *Factory {
	return &Factory{profiles: make(map[string]profileEntry)}
}

// DefaultFactory returns an unfrozen factory holding the built-in profiles.
func DefaultFactory() *Factory {
	f := NewFactory()
	//nolint:errcheck // fresh factory, names are unique
	f.Register(ProfileExtension, "EM100 extension module", NewExtension)
	return f
}

// Register adds a constructor for deviceType.
//
// Returns:
//   - error: ErrFactoryFrozen after Freeze, or an error when the type is
//     empty, already registered or ctor is nil
func (f *Factory) Register(deviceType, description string, ctor Constructor) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case f.frozen:
		return fmt.Errorf("%w: cannot register %q", ErrFactoryFrozen, deviceType)
	case deviceType == "" || ctor == nil:
		return fmt.Errorf("%w: profile needs a type and a constructor", ErrInvalidValue)
	}
	if _, ok := f.profiles[deviceType]; ok {
		return fmt.Errorf("%w: profile %q already registered", ErrInvalidValue, deviceType)
	}
	f.profiles[deviceType] = profileEntry{
		Profile: Profile{Type: deviceType, Description: description},
		build:   ctor,
	}
	return nil
}

// Freeze stops further registrations. It is safe to call more than once.
func (f *Factory) Freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (f *Factory) Frozen() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frozen
}

// Build constructs a device of info.Type. The factory must be frozen;
// building from a set that can still change returns ErrFactoryNotFrozen.
func (f *Factory) Build(info DeviceInfo, logger Logger) (*Device, error) {
	f.mu.RLock()
	entry, ok := f.profiles[info.Type]
	frozen := f.frozen
	f.mu.RUnlock()

	if !frozen {
		return nil, fmt.Errorf("%w: cannot build %s device %s", ErrFactoryNotFrozen, info.Type, info.ID)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, info.Type)
	}
	if info.Name == "" {
		info.Name = entry.Description
	}

	d, err := entry.build(info, logger)
	if err != nil {
		return nil, fmt.Errorf("building %s device %s: %w", info.Type, info.ID, err)
	}
	return d, nil
}

// Profiles lists the registered profiles sorted by type.
func (f *Factory) Profiles() []Profile {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([]Profile, 0, len(f.profiles))
	for _, e := range f.profiles {
		out = append(out, e.Profile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
