package api

import (
	"errors"
	"net/http"

	"github.com/kalambet/fcsentinel/internal/simulation"
)

type simulationView struct {
	Active    []string              `json:"active"`
	Available []simulation.Scenario `json:"available"`
}

type simulationRequest struct {
	Scenarios []string `json:"scenarios"`
}

func newSimulationView(set *simulation.Set) simulationView {
	return simulationView{Active: set.Active(), Available: simulation.Scenarios()}
}

func handleGetSimulation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newSimulationView(deps.Simulation))
	}
}

// handleSetSimulation replaces the active scenario set. Unknown names leave
// the current set untouched.
func handleSetSimulation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req simulationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Simulation.Replace(req.Scenarios...); err != nil {
			if errors.Is(err, simulation.ErrUnknownScenario) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to set scenarios: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, newSimulationView(deps.Simulation))
	}
}

func handleClearSimulation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Simulation.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}
