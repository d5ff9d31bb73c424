package agent

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ShayCichocki/missionctl/internal/runtime"
	"github.com/ShayCichocki/missionctl/pkg/models"
)

// Deployment statuses.
const (
	DeployStatusDeployed     = "deployed"
	DeployStatusMaterialized = "materialized"
)

// Deployer writes both bundles into the sandbox and runs the deploy command.
type Deployer struct {
	command string
}

// NewDeployer creates a deployer. An empty command only materializes files.
func NewDeployer(command string) *Deployer {
	return &Deployer{command: command}
}

func (*Deployer) Kind() Kind { return KindDeployer }

// Run writes the deployment artifact. A failing deploy command is an error.
func (d *Deployer) Run(ctx context.Context, env Env, task Task) (Output, error) {
	var files []models.File
	for _, t := range codeArtifacts {
		bundle, err := decodeBundle(env, t)
		if err != nil {
			return Output{}, err
		}
		files = append(files, AreaFiles(AreaOf(t), bundle)...)
	}

	runtime.Step(ctx)
	if err := env.Sandbox.WriteFiles(ctx, files); err != nil {
		return Output{}, fmt.Errorf("deployer: %w", err)
	}

	dep := models.Deployment{Status: DeployStatusMaterialized, Dir: env.Sandbox.Root()}
	if d.command != "" {
		runtime.Step(ctx)
		res, err := env.Sandbox.Execute(ctx, d.command, "")
		if err != nil {
			return Output{}, fmt.Errorf("deployer: %w", err)
		}
		dep.Output = truncate(res.Stdout+res.Stderr, 2000)
		if !res.Succeeded() {
			return Output{}, fmt.Errorf("deployer: %q exited %d: %s", d.command, res.ExitCode, truncate(res.Stderr, 400))
		}
		dep.Status = DeployStatusDeployed
		dep.URL = firstURL(res.Stdout)
	}

	if err := env.Store.Put(ctx, models.ArtifactDeployment, dep, string(KindDeployer)); err != nil {
		return Output{}, err
	}
	return Output{Artifacts: []string{models.ArtifactDeployment}}, nil
}

var urlPattern = regexp.MustCompile(`https?://[^\s"']+`)

func firstURL(output string) string {
	return urlPattern.FindString(output)
}
