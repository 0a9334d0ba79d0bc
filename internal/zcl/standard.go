package zcl

func toServer(id uint8, name string) CommandDef {
	return CommandDef{ID: id, Name: name, Direction: ToServer}
}

func toClient(id uint8, name string) CommandDef {
	return CommandDef{ID: id, Name: name, Direction: ToClient}
}

var standardClusters = []ClusterDef{
	{ID: 0x0000, Name: "Basic",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "ZCLVersion", Type: TypeUint8},
			{ID: 0x0001, Name: "ApplicationVersion", Type: TypeUint8},
			{ID: 0x0004, Name: "ManufacturerName", Type: TypeCharStr},
			{ID: 0x0005, Name: "ModelIdentifier", Type: TypeCharStr},
			{ID: 0x0006, Name: "DateCode", Type: TypeCharStr},
			{ID: 0x0007, Name: "PowerSource", Type: TypeEnum8},
			{ID: 0x4000, Name: "SWBuildID", Type: TypeCharStr},
		},
		Commands: []CommandDef{toServer(0x00, "ResetToFactoryDefaults")},
	},
	{ID: 0x0001, Name: "Power Configuration",
		Attributes: []AttributeDef{
			{ID: 0x0020, Name: "BatteryVoltage", Type: TypeUint8},
			{ID: 0x0021, Name: "BatteryPercentageRemaining", Type: TypeUint8},
		},
	},
	{ID: 0x0003, Name: "Identify",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "IdentifyTime", Type: TypeUint16}},
		Commands: []CommandDef{
			toServer(0x00, "Identify"),
			toServer(0x01, "IdentifyQuery"),
			toServer(0x40, "TriggerEffect"),
			toClient(0x00, "IdentifyQueryResponse"),
		},
	},
	{ID: 0x0004, Name: "Groups",
		Commands: []CommandDef{
			toServer(0x00, "AddGroup"),
			toServer(0x01, "ViewGroup"),
			toServer(0x02, "GetGroupMembership"),
			toServer(0x03, "RemoveGroup"),
			toServer(0x04, "RemoveAllGroups"),
			toServer(0x05, "AddGroupIfIdentifying"),
			toClient(0x00, "AddGroupResponse"),
			toClient(0x02, "GetGroupMembershipResponse"),
		},
	},
	{ID: 0x0005, Name: "Scenes",
		Commands: []CommandDef{
			toServer(0x00, "AddScene"),
			toServer(0x01, "ViewScene"),
			toServer(0x02, "RemoveScene"),
			toServer(0x03, "RemoveAllScenes"),
			toServer(0x04, "StoreScene"),
			toServer(0x05, "RecallScene"),
			toServer(0x06, "GetSceneMembership"),
		},
	},
	{ID: 0x0006, Name: "On/Off",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "OnOff", Type: TypeBool},
			{ID: 0x4003, Name: "StartUpOnOff", Type: TypeEnum8},
		},
		Commands: []CommandDef{
			toServer(0x00, "Off"),
			toServer(0x01, "On"),
			toServer(0x02, "Toggle"),
			toServer(0x40, "OffWithEffect"),
			toServer(0x41, "OnWithRecallGlobalScene"),
			toServer(0x42, "OnWithTimedOff"),
		},
	},
	{ID: 0x0008, Name: "Level Control",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "CurrentLevel", Type: TypeUint8}},
		Commands: []CommandDef{
			toServer(0x00, "MoveToLevel"),
			toServer(0x01, "Move"),
			toServer(0x02, "Step"),
			toServer(0x03, "Stop"),
			toServer(0x04, "MoveToLevelWithOnOff"),
			toServer(0x05, "MoveWithOnOff"),
			toServer(0x06, "StepWithOnOff"),
			toServer(0x07, "StopWithOnOff"),
		},
	},
	{ID: 0x000A, Name: "Time"},
	{ID: 0x0019, Name: "OTA Upgrade",
		Commands: []CommandDef{
			toClient(0x00, "ImageNotify"),
			toServer(0x01, "QueryNextImageRequest"),
			toClient(0x02, "QueryNextImageResponse"),
			toServer(0x03, "ImageBlockRequest"),
			toClient(0x05, "ImageBlockResponse"),
			toServer(0x06, "UpgradeEndRequest"),
			toClient(0x07, "UpgradeEndResponse"),
		},
	},
	{ID: 0x0020, Name: "Poll Control",
		Commands: []CommandDef{
			toClient(0x00, "CheckIn"),
			toServer(0x00, "CheckInResponse"),
			toServer(0x01, "FastPollStop"),
		},
	},
	{ID: 0x0021, Name: "Green Power"},
	{ID: 0x0101, Name: "Door Lock",
		Commands: []CommandDef{
			toServer(0x00, "LockDoor"),
			toServer(0x01, "UnlockDoor"),
		},
	},
	{ID: 0x0102, Name: "Window Covering",
		Commands: []CommandDef{
			toServer(0x00, "UpOpen"),
			toServer(0x01, "DownClose"),
			toServer(0x02, "Stop"),
			toServer(0x05, "GoToLiftPercentage"),
		},
	},
	{ID: 0x0201, Name: "Thermostat",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "LocalTemperature", Type: TypeInt16},
			{ID: 0x0012, Name: "OccupiedHeatingSetpoint", Type: TypeInt16},
			{ID: 0x001C, Name: "SystemMode", Type: TypeEnum8},
		},
		Commands: []CommandDef{toServer(0x00, "SetpointRaiseLower")},
	},
	{ID: 0x0300, Name: "Color Control",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "CurrentHue", Type: TypeUint8},
			{ID: 0x0001, Name: "CurrentSaturation", Type: TypeUint8},
			{ID: 0x0003, Name: "CurrentX", Type: TypeUint16},
			{ID: 0x0004, Name: "CurrentY", Type: TypeUint16},
			{ID: 0x0007, Name: "ColorTemperatureMireds", Type: TypeUint16},
		},
		Commands: []CommandDef{
			toServer(0x00, "MoveToHue"),
			toServer(0x06, "MoveToHueAndSaturation"),
			toServer(0x07, "MoveToColor"),
			toServer(0x0A, "MoveToColorTemperature"),
			toServer(0x47, "StopMoveStep"),
		},
	},
	{ID: 0x0400, Name: "Illuminance Measurement",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16}},
	},
	{ID: 0x0402, Name: "Temperature Measurement",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16}},
	},
	{ID: 0x0403, Name: "Pressure Measurement",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "MeasuredValue", Type: TypeInt16}},
	},
	{ID: 0x0405, Name: "Relative Humidity Measurement",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "MeasuredValue", Type: TypeUint16}},
	},
	{ID: 0x0406, Name: "Occupancy Sensing",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "Occupancy", Type: TypeBitmap8}},
	},
	{ID: 0x0500, Name: "IAS Zone",
		Attributes: []AttributeDef{
			{ID: 0x0000, Name: "ZoneState", Type: TypeEnum8},
			{ID: 0x0001, Name: "ZoneType", Type: TypeEnum16},
			{ID: 0x0002, Name: "ZoneStatus", Type: TypeBitmap16},
		},
		Commands: []CommandDef{
			toServer(0x00, "ZoneEnrollResponse"),
			toClient(0x00, "ZoneStatusChangeNotification"),
			toClient(0x01, "ZoneEnrollRequest"),
		},
	},
	{ID: 0x0702, Name: "Metering",
		Attributes: []AttributeDef{{ID: 0x0000, Name: "CurrentSummationDelivered", Type: TypeUint48}},
	},
	{ID: 0x0B04, Name: "Electrical Measurement",
		Attributes: []AttributeDef{
			{ID: 0x0505, Name: "RMSVoltage", Type: TypeUint16},
			{ID: 0x0508, Name: "RMSCurrent", Type: TypeUint16},
			{ID: 0x050B, Name: "ActivePower", Type: TypeInt16},
		},
	},
	{ID: 0x1000, Name: "Touchlink Commissioning",
		Commands: []CommandDef{
			toServer(0x00, "ScanRequest"),
			toServer(0x02, "DeviceInformationRequest"),
			toServer(0x06, "IdentifyRequest"),
			toServer(0x07, "ResetToFactoryNewRequest"),
			toServer(0x10, "NetworkStartRequest"),
			toServer(0x12, "NetworkJoinRouterRequest"),
			toServer(0x14, "NetworkJoinEndDeviceRequest"),
			toClient(0x01, "ScanResponse"),
			toClient(0x03, "DeviceInformationResponse"),
			toClient(0x11, "NetworkStartResponse"),
			toClient(0x13, "NetworkJoinRouterResponse"),
			toClient(0x15, "NetworkJoinEndDeviceResponse"),
		},
	},
}
