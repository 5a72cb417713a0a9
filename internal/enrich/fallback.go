package enrich

import (
	"github.com/fixwise/fixwise/internal/obd"
)

var systemNamesDE = map[string]string{
	"powertrain": "Antriebsstrang",
	"chassis":    "Fahrwerk",
	"body":       "Karosserie",
	"network":    "Netzwerk/Kommunikation",
	"unknown":    "Fahrzeugsystem",
}

var systemNamesEN = map[string]string{
	"powertrain": "Powertrain",
	"chassis":    "Chassis",
	"body":       "Body",
	"network":    "Network/Communication",
	"unknown":    "Vehicle system",
}

// Fallback builds a generic diagnosis from nothing but the code's
// system letter. It is fully deterministic and is the last tier when
// both the knowledge base and all providers fail. Never persisted.
func Fallback(code, lang string) Diagnosis {
	system := obd.System(code)

	if lang == "en" {
		name := systemNamesEN[system]
		return Diagnosis{
			Code:        code,
			System:      system,
			Title:       code + " - " + name + " fault",
			Description: "A fault was detected in the " + name + " area. A precise diagnosis requires reading the freeze frame data and inspecting the affected components.",
			Symptoms:    []string{"Check engine light on"},
			PossibleCauses: []string{
				"Faulty sensor or sensor wiring",
				"Defective component in the " + name + " area",
				"Loose or corroded connector",
			},
			DiagnosticSteps: []string{
				"Read fault memory and freeze frame data",
				"Inspect wiring and connectors of the affected system",
				"Test the suspected component",
			},
			Difficulty: "medium",
			SourceType: SourceFallback,
		}
	}

	name := systemNamesDE[system]
	return Diagnosis{
		Code:        code,
		System:      system,
		Title:       code + " - Fehler im Bereich " + name,
		Description: "Im Bereich " + name + " wurde ein Fehler erkannt. Eine genaue Diagnose erfordert das Auslesen der Umgebungsdaten und die Pruefung der betroffenen Bauteile.",
		Symptoms:    []string{"Motorkontrollleuchte leuchtet"},
		PossibleCauses: []string{
			"Defekter Sensor oder Sensorverkabelung",
			"Defektes Bauteil im Bereich " + name,
			"Loser oder korrodierter Steckverbinder",
		},
		DiagnosticSteps: []string{
			"Fehlerspeicher und Umgebungsdaten auslesen",
			"Verkabelung und Steckverbinder des betroffenen Systems pruefen",
			"Verdaechtiges Bauteil testen",
		},
		Difficulty: "medium",
		SourceType: SourceFallback,
	}
}
