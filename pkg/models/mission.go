package models

import "time"

// File is a generated source file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Progress is the answer to a progress query against a running mission.
type Progress struct {
	MissionID string `json:"mission_id"`
	Phase     Phase  `json:"phase"`
	Message   string `json:"message"`
	// Progress is a percentage in [0, 100].
	Progress int `json:"progress"`
}

// Stats summarizes a finished mission.
type Stats struct {
	TotalFiles int           `json:"total_files"`
	TotalLines int           `json:"total_lines"`
	Duration   time.Duration `json:"duration"`
	// Iterations counts repair attempts across all phases.
	Iterations int `json:"iterations"`
}

// MissionResult is the final outcome of a mission.
type MissionResult struct {
	MissionID string   `json:"mission_id"`
	Success   bool     `json:"success"`
	Phase     Phase    `json:"phase"`
	Files     []File   `json:"files"`
	Stats     Stats    `json:"stats"`
	Error     string   `json:"error,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// CountLines returns the total number of lines across files. A trailing
// newline does not open an extra line.
func CountLines(files []File) int {
	total := 0
	for _, f := range files {
		if f.Content == "" {
			continue
		}
		lines := 1
		for i := 0; i < len(f.Content); i++ {
			if f.Content[i] == '\n' && i != len(f.Content)-1 {
				lines++
			}
		}
		total += lines
	}
	return total
}
