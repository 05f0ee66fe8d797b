// Package toolchain invokes the external zipalign and apksigner
// executables from the Android SDK build-tools, the way makeDebuggable.py's
// patchApk does through subprocess.run. Neither tool has a practical Go
// reimplementation available in this module's dependency set, so this
// package shells out instead, same as the original.
package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Align runs `zipalign -p -v 4 src dst`, producing a 4-byte-boundary
// aligned copy of src at dst suitable for signing.
func Align(ctx context.Context, zipalignPath, src, dst string) error {
	return run(ctx, zipalignPath, "-p", "-v", "4", src, dst)
}

// VerifyAlignment runs `zipalign -c -v 4 path`, returning an error if path
// is not correctly aligned.
func VerifyAlignment(ctx context.Context, zipalignPath, path string) error {
	return run(ctx, zipalignPath, "-c", "-v", "4", path)
}

// Sign runs `apksigner sign` against apkPath in place, using the given
// keystore, key alias, and keystore password.
func Sign(ctx context.Context, apksignerPath, keystorePath, keyAlias, keystorePassword, apkPath string) error {
	return run(ctx, apksignerPath, "sign",
		"--ks", keystorePath,
		"--ks-key-alias", keyAlias,
		"--ks-pass", "pass:"+keystorePassword,
		apkPath)
}

// VerifySignature runs `apksigner verify` against apkPath.
func VerifySignature(ctx context.Context, apksignerPath, apkPath string) error {
	return run(ctx, apksignerPath, "verify", apkPath)
}

// Which locates an executable on PATH, mirroring Python's shutil.which
// calls in the original tool.
func Which(name string) (string, error) {
	return exec.LookPath(name)
}

func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("toolchain: %s %v: %w: %s", name, args, err, stderr.String())
	}
	return nil
}
