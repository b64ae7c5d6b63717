package registry

import "github.com/ashureev/batteryshell/internal/domain"

// View ids.
const (
	ViewBatteryInfo     = "battery-info"
	ViewAdvancedTools   = "advanced-tools"
	ViewCalibration     = "calibration"
	ViewChargeDischarge = "charge-discharge"
	ViewSettings        = "settings"
	ViewAbout           = "about"
)

// Chip ids.
const (
	ChipCP2112 = "CP2112"
	ChipEV2300 = "EV2300"
)

// Views returns the navigable view ids in tab order.
func Views() []string {
	return []string{ViewBatteryInfo, ViewChargeDischarge, ViewCalibration, ViewAdvancedTools, ViewSettings, ViewAbout}
}

// DefaultChipDescriptor is activated for chips without a behavior artifact.
func DefaultChipDescriptor() domain.ModuleDescriptor {
	return domain.ModuleDescriptor{
		ID: "default",
		Bindings: []domain.SurfaceBinding{
			{ElementID: "read-chip-info-button", DisplayText: "Read Info", CommandName: "read_info"},
			{ElementID: "save-to-file-button", DisplayText: "Save File", CommandName: "save_file"},
			{ElementID: "load-from-file-button", DisplayText: "Load File", CommandName: "load_file"},
		},
	}
}

// Builtin returns the compiled-in descriptors.
func Builtin() []domain.ModuleDescriptor {
	descs := []domain.ModuleDescriptor{
		{
			ID: ChipCP2112,
			Bindings: []domain.SurfaceBinding{
				{ElementID: "read-chip-info-button", DisplayText: "Read Device Info", CommandName: "read_device_info"},
				{ElementID: "clear-errors-button", DisplayText: "Reset Device", CommandName: "reset_device"},
				{ElementID: "save-to-file-button", DisplayText: "Save Config", CommandName: "save_config"},
				{ElementID: "load-from-file-button", DisplayText: "Load Config", CommandName: "load_config"},
			},
		},
		{
			ID: ChipEV2300,
			Bindings: []domain.SurfaceBinding{
				{ElementID: "unseal-chip-button", DisplayText: "Unseal Chip", CommandName: "unseal_chip"},
				{ElementID: "seal-chip-button", DisplayText: "Seal Chip", CommandName: "seal_chip"},
				{ElementID: "read-chip-info-button", DisplayText: "Battery Info", CommandName: "read_battery_info"},
				{ElementID: "read-eeprom-button", DisplayText: "Read EEPROM", CommandName: "read_eeprom"},
				{ElementID: "write-eeprom-button", DisplayText: "Write EEPROM", CommandName: "write_eeprom"},
				{ElementID: "clear-errors-button", DisplayText: "Clear Errors", CommandName: "clear_errors"},
				{ElementID: "save-to-file-button", DisplayText: "Save to File", CommandName: "save_to_file"},
				{ElementID: "load-from-file-button", DisplayText: "Load from File", CommandName: "load_from_file"},
			},
		},
	}
	for _, v := range Views() {
		descs = append(descs, domain.ModuleDescriptor{ID: v})
	}
	return descs
}
