package ems

import "errors"

// ProfileExtension is the factory name of the EM100 extension module.
const ProfileExtension = "extension"

// EM100 telegram types.
const (
	TypeEM100Set     uint16 = 0x935
	TypeEM100Temp    uint16 = 0x937
	TypeEM100Input   uint16 = 0x938
	TypeEM100Monitor uint16 = 0x939
	TypeEM100Config  uint16 = 0x93A
)

var extensionTypes = []struct {
	id    uint16
	name  string
	fetch bool
}{
	{TypeEM100Set, "EM100SetMessage", true},
	{TypeEM100Temp, "EM100TempMessage", false},
	{TypeEM100Input, "EM100InputMessage", false},
	{TypeEM100Monitor, "EM100MonitorMessage", false},
	{TypeEM100Config, "EM100ConfigMessage", false},
}

// extensionFields is registered in this order, which is also the order
// values are listed and published in.
var extensionFields = []FieldDescriptor{
	{
		Name: "headerTemp", Label: "flow temperature in header (T0/Vf)",
		Type: TypeShort, Op: OpDiv10, Unit: UnitDegrees,
		TypeID: TypeEM100Temp, Offset: 0,
	},
	{
		Name: "input", Label: "input",
		Type: TypeUShort, Op: OpDiv10, Unit: UnitVolts,
		TypeID: TypeEM100Input, Offset: 1,
	},
	{
		Name: "outPower", Label: "output IO1",
		Type: TypeUint8, Unit: UnitPercent,
		TypeID: TypeEM100Input, Offset: 0,
	},
	{
		Name: "setPower", Label: "requested power",
		Type: TypeUint8, Unit: UnitPercent,
		TypeID: TypeEM100Monitor, Offset: 0,
	},
	{
		Name: "setPoint", Label: "setpoint temperature",
		Type: TypeUint8, Unit: UnitDegrees,
		TypeID: TypeEM100Monitor, Offset: 1,
	},
	{
		Name: "minV", Label: "min voltage",
		Type: TypeUint8, Op: OpDiv10, Unit: UnitVolts,
		TypeID: TypeEM100Set, Offset: 1,
		Write: &WriteHandler{TypeID: TypeEM100Set, Offset: 1},
	},
	{
		Name: "maxV", Label: "max voltage",
		Type: TypeUint8, Op: OpDiv10, Unit: UnitVolts,
		TypeID: TypeEM100Set, Offset: 2,
		Write: &WriteHandler{TypeID: TypeEM100Set, Offset: 2},
	},
	{
		Name: "minT", Label: "min temperature",
		Type: TypeUint8, Unit: UnitDegrees,
		TypeID: TypeEM100Set, Offset: 3,
		Write: &WriteHandler{TypeID: TypeEM100Set, Offset: 3},
	},
	{
		Name: "maxT", Label: "max temperature",
		Type: TypeUint8, Unit: UnitDegrees,
		TypeID: TypeEM100Set, Offset: 4,
		Write: &WriteHandler{TypeID: TypeEM100Set, Offset: 4},
	},
	{
		Name: "dip", Label: "mode",
		Type:   TypeUint8,
		TypeID: TypeEM100Config, Offset: 9,
	},
}

// NewExtension builds an EM100 extension module.
//
// The module broadcasts its temperature, input, monitor and config
// telegrams; the set message holding the voltage and temperature limits is
// only sent on request.
func NewExtension(info DeviceInfo, logger Logger) (*Device, error) {
	d := NewDevice(info, logger)

	var errs []error
	for _, tt := range extensionTypes {
		if err := d.RegisterTelegramType(tt.id, tt.name, tt.fetch, FieldTable{}); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range extensionFields {
		f.Tag = TagDevice
		if _, err := d.RegisterValue(f); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}
