package mission

import (
	"time"

	"github.com/ShayCichocki/missionctl/internal/agent"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// buildResult assembles the mission result from the stored code bundles.
// A failed mission still reports whatever files were generated. Callers
// hold x.mu.
func (x *execution) buildResult(st *State, phase models.Phase, message string) *models.MissionResult {
	files := []models.File{}
	for _, artifactType := range codeArtifacts {
		var bundle models.CodeBundle
		if err := x.store.Decode(artifactType, &bundle); err != nil {
			continue
		}
		files = append(files, agent.AreaFiles(agent.AreaOf(artifactType), bundle)...)
	}

	res := &models.MissionResult{
		MissionID: st.MissionID,
		Success:   phase == models.PhaseComplete,
		Phase:     phase,
		Files:     files,
		Stats: models.Stats{
			TotalFiles: len(files),
			TotalLines: models.CountLines(files),
			Duration:   time.Since(st.StartedAt),
			Iterations: st.Iterations,
		},
	}
	if !res.Success {
		res.Error = message
		res.Errors = append([]string(nil), st.Errors...)
	}
	return res
}
