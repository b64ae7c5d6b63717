package domain

// BatteryInfo is the payload of GetBatteryInfo.
type BatteryInfo struct {
	ChargePercentage int     `json:"chargePercentage"`
	Voltage          float64 `json:"voltage"`
	Current          float64 `json:"current"`
	Temperature      int     `json:"temperature"`
	Health           int     `json:"health"`
	Status           string  `json:"status"`
}

// MemoryDump is the payload of ReadMemory.
type MemoryDump struct {
	Address string `json:"address"`
	Data    string `json:"data"`
	ASCII   string `json:"ascii"`
}

// WriteResult is the payload of WriteMemory.
type WriteResult struct {
	Success      bool `json:"success"`
	BytesWritten int  `json:"bytesWritten"`
}

// FunctionResult is the payload of ExecuteFunction.
type FunctionResult struct {
	Result      string `json:"result"`
	ReturnValue int    `json:"returnValue"`
}

// AdapterResult is the payload of ConnectAdapter and DisconnectAdapter.
type AdapterResult struct {
	Success bool   `json:"success"`
	Adapter string `json:"adapter,omitempty"`
}

// TemperatureStatus returns the display label for a cell temperature in °C.
func TemperatureStatus(temp int) string {
	switch {
	case temp < 10:
		return "Cold"
	case temp < 25:
		return "Cool"
	case temp < 40:
		return "Normal"
	case temp < 50:
		return "Warm"
	default:
		return "Hot"
	}
}

// TemperaturePercentage maps 0-60°C onto a 0-100 gauge.
func TemperaturePercentage(temp int) float64 {
	pct := float64(temp) / 60 * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// HealthStatus returns the display label for a state-of-health percentage.
func HealthStatus(health int) string {
	switch {
	case health >= 90:
		return "Excellent"
	case health >= 80:
		return "Good"
	case health >= 70:
		return "Fair"
	case health >= 50:
		return "Poor"
	default:
		return "Critical"
	}
}
