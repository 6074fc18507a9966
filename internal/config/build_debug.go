//go:build debug

package config

// Building with -tags debug flips releaseBuild off, the only way
// BypassTLSCertificateValidation is ever honored (spec.md §4.3 step 3:
// "only if explicitly configured and not in release mode").
func init() {
	releaseBuild = false
}
