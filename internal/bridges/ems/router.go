package ems

import (
	"fmt"
	"sync"
)

// Router delivers bus telegrams to the devices they concern.
//
// A telegram goes to the device whose bus address is its source
// (broadcasts and read responses) and, for directed writes issued by
// another controller, to the device it is addressed to.
type Router struct {
	mu      sync.RWMutex
	devices []*Device
	byID    map[string]*Device
	byBus   map[byte][]*Device
	logger  Logger
}

// NewRouter creates an empty router.
func NewRouter(logger Logger) *Router {
	return &Router{
		byID:   make(map[string]*Device),
		byBus:  make(map[byte][]*Device),
		logger: loggerOrNop(logger),
	}
}

// Add registers a device. Device IDs must be unique.
func (r *Router) Add(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[d.ID]; ok {
		return fmt.Errorf("%w: duplicate device id %q", ErrInvalidValue, d.ID)
	}
	r.devices = append(r.devices, d)
	r.byID[d.ID] = d
	r.byBus[d.BusID] = append(r.byBus[d.BusID], d)
	return nil
}

// Device returns the device with the given ID.
func (r *Router) Device(id string) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Devices returns all devices in the order they were added.
func (r *Router) Devices() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Device, len(r.devices))
	copy(out, r.devices)
	return out
}

// Route dispatches t to the devices it concerns and calls onChange for
// every device whose values changed. changed is only valid during the
// call.
//
// Returns:
//   - bool: true if at least one device had the type bound
func (r *Router) Route(t *Telegram, onChange func(d *Device, changed []FieldID)) bool {
	if t.IsRead {
		return false
	}

	r.mu.RLock()
	targets := r.byBus[t.Source]
	var written []*Device
	if t.IsWrite && t.Dest != t.Source {
		written = r.byBus[t.Dest]
	}
	r.mu.RUnlock()

	handled := false
	for _, list := range [][]*Device{targets, written} {
		for _, d := range list {
			ok, changed := d.Dispatch(t)
			handled = handled || ok
			if len(changed) > 0 && onChange != nil {
				onChange(d, changed)
			}
		}
	}

	if !handled {
		r.logger.Debug("telegram not handled by any device", "telegram", t.String())
	}
	return handled
}
