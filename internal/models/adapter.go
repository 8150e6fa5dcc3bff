package models

// AdapterDescriptor describes a demand adapter known to the adapter registry.
// Lower Priority values are queried first during waterfall fallback.
type AdapterDescriptor struct {
	ID       string `json:"id" yaml:"id"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Priority int    `json:"priority" yaml:"priority"`
	// Endpoint is the OpenRTB bid URL of the adapter. Only the auction executor uses it.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// TimeoutMS overrides the executor's default per-adapter timeout when positive.
	TimeoutMS int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	// FloorCPM is the minimum price accepted from this adapter.
	FloorCPM float64 `json:"floor_cpm,omitempty" yaml:"floor_cpm,omitempty"`
}

// EnabledAdapters returns the enabled adapters in their original order.
func EnabledAdapters(adapters []AdapterDescriptor) []AdapterDescriptor {
	out := make([]AdapterDescriptor, 0, len(adapters))
	for _, a := range adapters {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
