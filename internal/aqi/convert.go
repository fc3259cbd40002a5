package aqi

import "fmt"

const (
	// DefaultVOCMolecularWeight is the molecular weight (g/mol) of the reference VOC mixture
	DefaultVOCMolecularWeight = 72.66578273019740

	// VOCDensityCeiling is the largest VOC density the host can display (ug/m^3)
	VOCDensityCeiling = 100000.0

	standardAtmosphereKPa = 101.32
	gasConstant           = 8.3144
	kelvinOffset          = 273.15
)

// VOCPpbToUgm3 converts a VOC concentration from ppb to ug/m^3 using the ideal gas law.
// Values above VOCDensityCeiling are capped and capped is reported true.
func VOCPpbToUgm3(ppb, molecularWeight, atm, tempC float64) (ugm3 float64, capped bool) {
	ugm3 = (ppb * molecularWeight * atm * standardAtmosphereKPa) / ((kelvinOffset + tempC) * gasConstant)
	if ugm3 > VOCDensityCeiling {
		return VOCDensityCeiling, true
	}
	return ugm3, false
}

// VOCFormula renders the conversion with its inputs substituted, for audit logging
func VOCFormula(ppb, molecularWeight, atm, tempC float64) string {
	return fmt.Sprintf("(%v * %v * %v * %v) / ((%v + %v) * %v)",
		ppb, molecularWeight, atm, standardAtmosphereKPa, kelvinOffset, tempC, gasConstant)
}
