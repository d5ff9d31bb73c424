package models

// Artifact types written during a mission. Each type exists at most once per run.
const (
	ArtifactRequest        = "request"
	ArtifactRequirements   = "requirements"
	ArtifactPlan           = "plan"
	ArtifactArchitecture   = "architecture"
	ArtifactFrontendCode   = "frontend_code"
	ArtifactBackendCode    = "backend_code"
	ArtifactFrontendCheck  = "frontend_check"
	ArtifactBackendCheck   = "backend_check"
	ArtifactReviewReport   = "review_report"
	ArtifactSecurityReport = "security_report"
	ArtifactDeployment     = "deployment"
)

// Request is the normalized mission request.
type Request struct {
	Prompt     string `json:"prompt"`
	AppName    string `json:"app_name"`
	ReceivedAt string `json:"received_at"`
}

// Requirements is the analyst's structured reading of the request.
type Requirements struct {
	Summary     string   `json:"summary"`
	Features    []string `json:"features"`
	Constraints []string `json:"constraints"`
}

// PlanTask is one step of the implementation plan.
type PlanTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Area is "frontend", "backend" or "shared".
	Area string `json:"area"`
}

// Plan is the planner's ordered task list.
type Plan struct {
	Tasks []PlanTask `json:"tasks"`
}

// Endpoint is one backend route in the architecture.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// FrontendDesign describes the client side of the architecture.
type FrontendDesign struct {
	Framework string   `json:"framework"`
	Pages     []string `json:"pages"`
}

// BackendDesign describes the server side of the architecture.
type BackendDesign struct {
	Framework string     `json:"framework"`
	Endpoints []Endpoint `json:"endpoints"`
}

// Architecture is the design the generators build against.
type Architecture struct {
	Frontend  FrontendDesign `json:"frontend"`
	Backend   BackendDesign  `json:"backend"`
	DataModel []string       `json:"data_model"`
}

// CodeBundle is a set of generated files for one side of the application.
type CodeBundle struct {
	Files []File `json:"files"`
	Notes string `json:"notes,omitempty"`
}

// Deployment records the outcome of the deploy phase.
type Deployment struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
	Dir    string `json:"dir"`
	Output string `json:"output,omitempty"`
}
