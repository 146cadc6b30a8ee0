package state

import "strings"

// Fixed Spanish status texts, matching the mobile app wording.
var actionStatusText = map[string]string{
	"cleaning":      "Limpiando",
	"fast_mapping":  "Mapeando el hogar",
	"mapping":       "Mapeando el hogar",
	"map_creation":  "Mapeando el hogar",
	"spot_cleaning": "Limpieza puntual",
	"docking":       "Regresando a la base",
	"returning":     "Regresando a la base",
	"going_home":    "Regresando a la base",
}

var stateStatusText = map[string]string{
	"busy":     "Ocupado",
	"idle":     "Inactivo",
	"paused":   "Pausado",
	"error":    "Error",
	"charging": "Cargando",
}

// Friendly descriptions for known robot error codes.
var errorDescriptions = map[string]string{
	"navigation_path_problems_returning_home": "Problemas de navegación al regresar a la base",
	"brush_stuck":           "Cepillo bloqueado",
	"dustbin_missing":       "Depósito de polvo no colocado",
	"bin_full":              "Depósito de polvo lleno",
	"cleaning_path_blocked": "Trayectoria de limpieza bloqueada",
}

var severityText = map[string]string{
	"error":   "error",
	"warning": "advertencia",
	"info":    "información",
}

// StatusText builds a localized status line. Known actions take precedence
// over the raw state; unknown tokens fall back to a humanized form and
// completely empty input yields the "desconocido" placeholder.
func StatusText(rawAction, action, rawState string) string {
	if action != "" {
		if text, ok := actionStatusText[action]; ok {
			return text
		}
	}
	if rawState != "" {
		if text, ok := stateStatusText[rawState]; ok {
			return text
		}
	}
	if rawAction != "" {
		return humanize(rawAction)
	}
	if action != "" {
		return humanize(action)
	}
	if rawState != "" {
		return humanize(rawState)
	}
	return "desconocido"
}

// DescribeError converts an error code into a readable description,
// appending the translated severity when present.
func DescribeError(e RobotError) string {
	description, ok := errorDescriptions[e.Code]
	if !ok {
		description = humanize(e.Code)
	}
	if sev := SeverityText(e.Severity); sev != "" {
		return description + " (severidad: " + sev + ")"
	}
	return description
}

// SeverityText translates an error severity; unknown values pass through.
func SeverityText(severity string) string {
	if severity == "" {
		return ""
	}
	if text, ok := severityText[severity]; ok {
		return text
	}
	return severity
}

// humanize turns a snake_case token into a capitalized sentence fragment.
func humanize(token string) string {
	text := strings.ReplaceAll(token, "_", " ")
	if text == "" {
		return text
	}
	return strings.ToUpper(text[:1]) + strings.ToLower(text[1:])
}
