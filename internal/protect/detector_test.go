package protect

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ShayCichocki/missionctl/pkg/models"
)

func TestDetector_Classify(t *testing.T) {
	tests := []struct {
		name     string
		file     models.File
		want     bool
		severity models.Severity
	}{
		{"private key", models.File{Path: "backend/certs/server.key"}, true, models.SeverityCritical},
		{"pem at root", models.File{Path: "./tls.pem"}, true, models.SeverityCritical},
		{"env file", models.File{Path: "backend/.env"}, true, models.SeverityCritical},
		{"env variant", models.File{Path: ".env.production"}, true, models.SeverityCritical},
		{"env example", models.File{Path: ".env.example"}, false, ""},
		{"auth dir", models.File{Path: "src/auth/index.js"}, true, models.SeverityLow},
		{"windows separators", models.File{Path: `src\migrations\001.sql`}, true, models.SeverityLow},
		{"keyword in name", models.File{Path: "routes/user_session.py"}, true, models.SeverityLow},
		{"keyword inside word", models.File{Path: "components/Authorize.jsx"}, false, ""},
		{"js crypto import", models.File{Path: "server.js", Content: "const crypto = require('crypto')\n"}, true, models.SeverityLow},
		{"python jwt import", models.File{Path: "app.py", Content: "import os\nimport jwt\n"}, true, models.SeverityLow},
		{"import in unknown language", models.File{Path: "notes.txt", Content: "import jwt"}, false, ""},
		{"plain file", models.File{Path: "index.html", Content: "<h1>todos</h1>"}, false, ""},
	}

	d := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue, ok := d.Classify(tt.file)
			if ok != tt.want {
				t.Fatalf("Classify(%q) flagged = %v, want %v (%+v)", tt.file.Path, ok, tt.want, issue)
			}
			if ok && issue.Severity != tt.severity {
				t.Errorf("severity = %q, want %q", issue.Severity, tt.severity)
			}
			if ok && issue.File != tt.file.Path {
				t.Errorf("issue file = %q, want %q", issue.File, tt.file.Path)
			}
		})
	}
}

func TestDetector_ImportsPastScanWindow(t *testing.T) {
	content := ""
	for i := 0; i < importScanLines; i++ {
		content += "console.log(1)\n"
	}
	content += "const jwt = require('jsonwebtoken')\n"

	if _, ok := New().Classify(models.File{Path: "late.js", Content: content}); ok {
		t.Error("import past the scan window was flagged")
	}
}

func TestDetector_Scan(t *testing.T) {
	files := []models.File{
		{Path: "index.html"},
		{Path: "id_rsa.pem"},
		{Path: "auth/login.js"},
	}
	var got []string
	for _, issue := range New().Scan(files) {
		got = append(got, issue.File+":"+string(issue.Severity))
	}
	want := []string{"id_rsa.pem:critical", "auth/login.js:low"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Scan mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		path, pattern string
		want          bool
	}{
		{"auth/login.js", "**/auth/**", true},
		{"a/b/auth/x/y.js", "**/auth/**", true},
		{"authz/x.js", "**/auth/**", false},
		{"src/handler_test.go", "src/*_test.go", true},
		{"src/pkg/handler_test.go", "src/*_test.go", false},
	}
	for _, tt := range tests {
		if got := matchGlob(tt.path, tt.pattern); got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
		}
	}
}
