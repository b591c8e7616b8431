package bundler

import (
	"io"
	"time"
)

// BuildConfig configures artifact bundle creation.
type BuildConfig struct {
	// Files lists the artifacts to include. Directories are not expanded.
	Files []string
	// Root is the directory archive paths are made relative to. Defaults to ".".
	Root    string
	Release string
	Dist    string
	Output  string
	// Signer signs the manifest when non-nil.
	Signer *Signer
	Now    func() time.Time
	Stdout io.Writer
}

// VerifyConfig configures bundle verification.
type VerifyConfig struct {
	BundlePath string
	// Signer pins the expected key. Without one a signed manifest is checked against its
	// embedded public key.
	Signer           *Signer
	RequireSignature bool
	Stdout           io.Writer
}
