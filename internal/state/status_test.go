package state

import "testing"

func TestStatusText(t *testing.T) {
	tests := []struct {
		name      string
		rawAction string
		action    string
		rawState  string
		want      string
	}{
		{"known action", "Cleaning", "cleaning", "busy", "Limpiando"},
		{"mapping action", "fast_mapping", "fast_mapping", "busy", "Mapeando el hogar"},
		{"state fallback", "", "", "paused", "Pausado"},
		{"charging state", "", "", "charging", "Cargando"},
		{"unknown action humanized", "Deep_Scrub", "deep_scrub", "", "Deep scrub"},
		{"unknown state humanized", "", "", "self_test", "Self test"},
		{"empty input", "", "", "", "desconocido"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusText(tt.rawAction, tt.action, tt.rawState)
			if got != tt.want {
				t.Errorf("StatusText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		name string
		err  RobotError
		want string
	}{
		{"known code with severity", RobotError{Code: "brush_stuck", Severity: "error"}, "Cepillo bloqueado (severidad: error)"},
		{"known code warning", RobotError{Code: "bin_full", Severity: "warning"}, "Depósito de polvo lleno (severidad: advertencia)"},
		{"unknown code humanized", RobotError{Code: "wheel_jammed", Severity: ""}, "Wheel jammed"},
		{"unknown severity passthrough", RobotError{Code: "bin_full", Severity: "critical"}, "Depósito de polvo lleno (severidad: critical)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DescribeError(tt.err); got != tt.want {
				t.Errorf("DescribeError = %q, want %q", got, tt.want)
			}
		})
	}
}
