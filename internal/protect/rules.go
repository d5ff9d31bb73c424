// Package protect flags generated files that carry secret material or touch
// security-sensitive areas of an app.
package protect

import "github.com/ShayCichocki/missionctl/pkg/models"

// SecretFileTypes hold key material or credentials and must never ship in a
// generated bundle.
var SecretFileTypes = []string{
	".pem",
	".key",
	".p12",
	".pfx",
	".jks",
	".keystore",
	".env",
}

// SensitivePatterns are areas of a generated app worth a closer audit.
var SensitivePatterns = []string{
	"**/auth/**",
	"**/security/**",
	"**/migrations/**",
	"**/secrets/**",
	"**/credentials/**",
	"**/certs/**",
	"**/.ssh/**",
}

// SensitiveKeywords match whole words in a file's base name.
var SensitiveKeywords = []string{
	"auth",
	"login",
	"password",
	"session",
	"oauth",
	"jwt",
	"permission",
	"rbac",
}

// templateSuffixes mark files that document settings without holding them.
var templateSuffixes = []string{".example", ".sample", ".template", ".dist"}

type importRule struct {
	pattern string
	reason  string
}

// securityImports are matched against the first lines of a file, keyed by
// language.
var securityImports = map[string][]importRule{
	"javascript": {
		{`(import|from|require\().*['"](node:)?crypto['"]`, "cryptography"},
		{`(import|from|require\().*['"]bcrypt(js)?['"]`, "password hashing"},
		{`(import|from|require\().*['"]jsonwebtoken['"]`, "JWT authentication"},
		{`(import|from|require\().*['"]passport['"]`, "authentication"},
		{`(import|from|require\().*['"]express-session['"]`, "session management"},
	},
	"python": {
		{`^\s*(import|from) cryptography`, "cryptography"},
		{`^\s*(import|from) jwt`, "JWT authentication"},
		{`^\s*import (hashlib|bcrypt)`, "password hashing"},
		{`^\s*from passlib`, "password hashing"},
		{`^\s*from django\.contrib\.auth`, "authentication"},
	},
	"go": {
		{`"crypto/`, "cryptography"},
		{`"golang\.org/x/crypto/`, "cryptography"},
		{`"github\.com/[^/]+/jwt`, "JWT authentication"},
		{`"golang\.org/x/oauth2`, "OAuth2 authentication"},
	},
}

var languages = map[string]string{
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",
	".ts":  "javascript",
	".tsx": "javascript",
	".py":  "python",
	".go":  "go",
}

const (
	secretSeverity    = models.SeverityCritical
	sensitiveSeverity = models.SeverityLow
	importScanLines   = 100
)
