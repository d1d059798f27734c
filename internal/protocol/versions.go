package protocol

// Client protocol versions the proxy understands.
const (
	Protocol1_20_2 int32 = 764
	Protocol1_20_3 int32 = 765
	Protocol1_20_5 int32 = 766
	Protocol1_21   int32 = 767
	Protocol1_21_2 int32 = 768
	Protocol1_21_4 int32 = 769
	Protocol1_21_5 int32 = 770
	Protocol1_21_6 int32 = 771
	Protocol1_21_7 int32 = 772
)

// Layout breakpoints referenced by the packet encoders.
const (
	// ProtocolNBTText switches text components from JSON strings to NBT.
	ProtocolNBTText = Protocol1_20_3
	// ProtocolCookies introduces cookies, transfers and the shifted config ids.
	ProtocolCookies = Protocol1_20_5
	// ProtocolNoStrictErrors drops the strict-error-handling flag from LoginSuccess.
	ProtocolNoStrictErrors = Protocol1_21_2
	// ProtocolDialogs adds the custom click action packet to CONFIG.
	ProtocolDialogs = Protocol1_21_6

	MinProtocol = Protocol1_20_2
	MaxProtocol = Protocol1_21_7
)

var versionNames = map[int32]string{
	Protocol1_20_2: "1.20.2",
	Protocol1_20_3: "1.20.3-1.20.4",
	Protocol1_20_5: "1.20.5-1.20.6",
	Protocol1_21:   "1.21-1.21.1",
	Protocol1_21_2: "1.21.2-1.21.3",
	Protocol1_21_4: "1.21.4",
	Protocol1_21_5: "1.21.5",
	Protocol1_21_6: "1.21.6",
	Protocol1_21_7: "1.21.7-1.21.8",
}

// SupportedProtocols lists every known version in ascending order.
func SupportedProtocols() []int32 {
	out := make([]int32, 0, MaxProtocol-MinProtocol+1)
	for p := MinProtocol; p <= MaxProtocol; p++ {
		out = append(out, p)
	}
	return out
}

// IsSupported reports whether the proxy can complete a login for protocol.
func IsSupported(protocol int32) bool {
	return protocol >= MinProtocol && protocol <= MaxProtocol
}

// VersionName returns the game version for protocol, or "unknown".
func VersionName(protocol int32) string {
	if name, ok := versionNames[protocol]; ok {
		return name
	}
	return "unknown"
}
