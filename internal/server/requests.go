package server

// ControlMessage is an operator command received over the control session.
// Every field is optional; only present fields are applied.
type ControlMessage struct {
	Threshold     *float64 `json:"soglia"`
	FilterEnabled *bool    `json:"filtroAttivo"`
	Operator      *string  `json:"nomeUtente" validate:"omitempty,max=64,printable"`
}

// empty reports whether the message carries no recognized field.
func (m *ControlMessage) empty() bool {
	return m.Threshold == nil && m.FilterEnabled == nil && m.Operator == nil
}
