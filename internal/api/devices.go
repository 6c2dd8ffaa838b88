package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-ems/internal/audit"
	"github.com/nerrad567/gray-logic-ems/internal/bridges/ems"
)

// deviceView is the JSON form of a bus device.
type deviceView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	BusID     string `json:"bus_id"`
	ProductID int    `json:"product_id,omitempty"`
	Version   string `json:"version,omitempty"`
	Name      string `json:"name,omitempty"`
	Brand     string `json:"brand,omitempty"`
	Fields    int    `json:"fields"`

	Values []valueView `json:"values,omitempty"`
	Types  []typeView  `json:"telegram_types,omitempty"`
}

// valueView is the JSON form of one device value.
type valueView struct {
	Key      string     `json:"key"`
	Tag      string     `json:"tag"`
	Name     string     `json:"name"`
	Label    string     `json:"label,omitempty"`
	Type     string     `json:"type"`
	Value    any        `json:"value"`
	Text     string     `json:"text,omitempty"`
	Unit     string     `json:"unit,omitempty"`
	Writable bool       `json:"writable"`
	Set      bool       `json:"set"`
	Updated  *time.Time `json:"updated,omitempty"`
	Options  []string   `json:"options,omitempty"`
	Min      *float64   `json:"min,omitempty"`
	Max      *float64   `json:"max,omitempty"`
}

// typeView is the JSON form of a telegram type binding.
type typeView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	NeedsFetch bool       `json:"needs_fetch"`
	Received   uint64     `json:"received"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

func newDeviceView(d *ems.Device) deviceView {
	return deviceView{
		ID:        d.ID,
		Type:      d.Type,
		BusID:     fmt.Sprintf("0x%02X", d.BusID),
		ProductID: int(d.ProductID),
		Version:   d.Version,
		Name:      d.Name,
		Brand:     d.Brand,
		Fields:    d.Registry().Len(),
	}
}

func newValueView(v ems.Value) valueView {
	f := v.Field
	vv := valueView{
		Key:      f.Key(),
		Tag:      f.Tag.String(),
		Name:     f.Name,
		Label:    f.Label,
		Type:     f.Type.String(),
		Value:    v.Any(),
		Text:     v.String(),
		Unit:     f.Unit.String(),
		Writable: f.Writable(),
		Set:      v.Set,
		Options:  f.Options,
	}
	if v.Set && !v.Updated.IsZero() {
		ts := v.Updated.UTC()
		vv.Updated = &ts
	}
	if f.Min != f.Max {
		lo, hi := f.Min, f.Max
		vv.Min, vv.Max = &lo, &hi
	}
	return vv
}

func newTypeView(t ems.TelegramType) typeView {
	tv := typeView{
		ID:         fmt.Sprintf("0x%02X", t.ID),
		Name:       t.Name,
		NeedsFetch: t.NeedsFetch,
		Received:   t.Received,
	}
	if !t.LastSeen.IsZero() {
		ts := t.LastSeen.UTC()
		tv.LastSeen = &ts
	}
	return tv
}

// handleListDevices returns every configured device without its values.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.bridge.Devices()
	out := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, newDeviceView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device with its values and telegram types.
// The optional ?tag= query limits the values to one tag.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.bridge.Device(id)
	if !ok {
		writeNotFound(w, "device not found: "+id)
		return
	}

	filter := r.URL.Query().Get("tag")
	var tag ems.Tag
	if filter != "" {
		var err error
		if tag, err = ems.ParseTag(filter); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}

	view := newDeviceView(d)
	view.Values = []valueView{}
	for _, v := range d.Snapshot() {
		if filter != "" && v.Field.Tag != tag {
			continue
		}
		view.Values = append(view.Values, newValueView(v))
	}
	for _, t := range d.TelegramTypes() {
		view.Types = append(view.Types, newTypeView(t))
	}

	writeJSON(w, http.StatusOK, view)
}

// setValueRequest is the body of a value write.
// Value may be a string, a number or a boolean.
type setValueRequest struct {
	Value any `json:"value"`
}

// handleSetValue writes one value of a device.
// A submitted write answers 202: the device confirms it asynchronously by
// broadcasting the new value.
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	tag, err := ems.ParseTag(chi.URLParam(r, "tag"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	text, ok := valueText(req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value must be a string, number or boolean")
		return
	}

	res, err := s.bridge.SetValue(id, tag, name, text)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	if !res.OK() {
		writeBridgeError(w, res.Err)
		return
	}

	s.logger.Info("value write submitted",
		"device_id", id,
		"field", res.Field.Key(),
		"value", text,
		"request_id", r.Context().Value(ctxKeyRequestID),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"key":       res.Field.Key(),
		"value":     text,
		"state":     res.State.String(),
		"telegram":  res.Telegram.String(),
	})
}

// valueText renders a JSON scalar as the text the command writer parses.
func valueText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		if x {
			return "on", true
		}
		return "off", true
	default:
		return "", false
	}
}

// handleFetchDevice sends read requests for every polled telegram type of
// a device.
func (s *Server) handleFetchDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := s.bridge.Fetch(id)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"device_id": id,
		"requested": n,
	})
}

// handleListProfiles returns the device types the bridge can build.
func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles := s.bridge.Profiles()
	out := make([]map[string]string, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, map[string]string{
			"type":        p.Type,
			"description": p.Description,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": out,
		"count":    len(out),
	})
}

// handleListTypes returns telegram types recorded on the bus.
// ?unhandled=true keeps only types no device decodes.
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	if s.types == nil {
		writeNotFound(w, "telegram type recording is disabled")
		return
	}

	unhandled := false
	if v := r.URL.Query().Get("unhandled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "unhandled must be a boolean")
			return
		}
		unhandled = b
	}

	seen, err := s.types.Seen(r.Context(), unhandled)
	if err != nil {
		s.logger.Error("listing recorded telegram types failed", "error", err)
		writeInternalError(w, "failed to list telegram types")
		return
	}
	if seen == nil {
		seen = []ems.SeenType{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"types": seen,
		"count": len(seen),
	})
}

// handleListWrites returns recorded value writes, newest first.
// Query parameters: device, state, limit, offset.
func (s *Server) handleListWrites(w http.ResponseWriter, r *http.Request) {
	if s.writes == nil {
		writeNotFound(w, "write log is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device"),
		State:    q.Get("state"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	res, err := s.writes.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing writes failed", "error", err)
		writeInternalError(w, "failed to list writes")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
