package api

import (
	"net/http"

	"github.com/espresso-hep/espresso/internal/weights"
)

type RegistryHandler struct {
	reg *weights.Registry
}

func NewRegistryHandler(reg *weights.Registry) *RegistryHandler {
	return &RegistryHandler{reg: reg}
}

type registeredWeight struct {
	Name       string   `json:"name"`
	Variations []string `json:"variations,omitempty"`
}

// Weights lists every registered weight and its variations.
func (h *RegistryHandler) Weights(w http.ResponseWriter, r *http.Request) {
	out := make([]registeredWeight, 0)
	for _, name := range h.reg.Names() {
		wt, err := h.reg.Lookup(name)
		if err != nil {
			continue
		}
		out = append(out, registeredWeight{Name: wt.Name, Variations: wt.Variations})
	}
	writeJSON(w, http.StatusOK, out)
}

// Modifiers lists every applicable modifier token.
func (h *RegistryHandler) Modifiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modifiers":  h.reg.Modifiers(),
		"variations": h.reg.Variations(),
	})
}
