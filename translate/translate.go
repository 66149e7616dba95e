// Package translate looks up operator-visible strings from a translation
// table. The supervisor core never embeds display text directly; panels
// and the coordinator receive translated strings keyed by message id.
package translate

import "sync/atomic"

// Language selects the operator string table.
type Language string

// Supported languages
const (
	English Language = "en"
	Spanish Language = "es"
)

var current atomic.Value

func init() {
	current.Store(English)
}

// SetLanguage selects the active string table. Unknown languages fall
// back to English per-key.
func SetLanguage(lang Language) {
	current.Store(lang)
}

// ActiveLanguage returns the selected language.
func ActiveLanguage() Language {
	return current.Load().(Language)
}

var tables = map[Language]map[string]string{
	English: {
		"status.auto_engaged":    "AUTO CONTROL ENGAGED",
		"status.auto_disengaged": "AUTO CONTROL DISENGAGED",
		"status.auto_scram":      "AUTOMATIC SCRAM",
		"status.mode":            "MODE",

		"ascram.MATRIX_DC":   "INDUCTION MATRIX DISCONNECTED",
		"ascram.MATRIX_FILL": "INDUCTION MATRIX FULL",
		"ascram.CRIT_ALARM":  "CRITICAL UNIT ALARM",
		"ascram.RADIATION":   "RADIATION ABOVE LIMIT",
		"ascram.GEN_FAULT":   "GENERATION UNACHIEVABLE",
		"ascram.none":        "",

		"session.linked":   "LINKED",
		"session.timeout":  "CONNECTION TIMED OUT",
		"session.collided": "SESSION COLLISION",

		"config.invalid": "CONFIGURATION INVALID - RUN CONFIGURATOR",
	},
	Spanish: {
		"status.auto_engaged":    "CONTROL AUTOMATICO ACTIVADO",
		"status.auto_disengaged": "CONTROL AUTOMATICO DESACTIVADO",
		"status.auto_scram":      "SCRAM AUTOMATICO",
		"status.mode":            "MODO",

		"ascram.MATRIX_DC":   "MATRIZ DE INDUCCION DESCONECTADA",
		"ascram.MATRIX_FILL": "MATRIZ DE INDUCCION LLENA",
		"ascram.CRIT_ALARM":  "ALARMA CRITICA DE UNIDAD",
		"ascram.RADIATION":   "RADIACION SOBRE EL LIMITE",
		"ascram.GEN_FAULT":   "GENERACION INALCANZABLE",
		"ascram.none":        "",

		"session.linked":   "ENLAZADO",
		"session.timeout":  "CONEXION AGOTADA",
		"session.collided": "COLISION DE SESION",

		"config.invalid": "CONFIGURACION INVALIDA - EJECUTE EL CONFIGURADOR",
	},
}

// T returns the active-language string for a message key. Missing keys
// fall back to English, then to the key itself.
func T(key string) string {
	lang := ActiveLanguage()
	if s, ok := tables[lang][key]; ok {
		return s
	}
	if s, ok := tables[English][key]; ok {
		return s
	}
	return key
}
