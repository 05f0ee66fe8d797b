// Command makedebuggable sets android:debuggable="true" on an
// AndroidManifest.xml's <application> element, either standalone or
// inside a whole APK (re-aligning and re-signing it afterwards).
package main

import (
	"bytes"
	"context"
	"encoding/xml"
	"flag"
	"fmt"
	"os"

	"github.com/julKali/makeDebuggable/archive"
	"github.com/julKali/makeDebuggable/axmlpatch"
	"github.com/julKali/makeDebuggable/toolchain"
)

const manifestEntryName = "AndroidManifest.xml"

type opts struct {
	zipalignPath  string
	apksignerPath string
}

func main() {
	var o opts
	flag.StringVar(&o.zipalignPath, "zipalign", "", "path to the zipalign executable (default: looked up on PATH)")
	flag.StringVar(&o.apksignerPath, "apksigner", "", "path to the apksigner executable (default: looked up on PATH)")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	exitcode := 0
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "panic:", r)
			os.Exit(1)
		}
		os.Exit(exitcode)
	}()

	var err error
	switch args[0] {
	case "xml":
		err = runXML(args[1:])
	case "apk":
		err = runAPK(args[1:], o)
	case "dump":
		err = runDump(args[1:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		exitcode = 1
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  %s xml <in> <out>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s apk <in> <out> <keystore> <key-alias> <keystore-password>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s dump <manifest>\n", os.Args[0])
	flag.PrintDefaults()
}

func runXML(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("xml: expected <in> <out>")
	}
	return axmlpatch.PatchManifestFile(args[0], args[1])
}

func runDump(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("dump: expected <manifest>")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	enc := xml.NewEncoder(os.Stdout)
	enc.Indent("", "  ")
	if err := axmlpatch.DumpManifest(f, enc); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func runAPK(args []string, o opts) error {
	if len(args) != 5 {
		return fmt.Errorf("apk: expected <in> <out> <keystore> <key-alias> <keystore-password>")
	}
	in, out, keystore, keyAlias, keystorePass := args[0], args[1], args[2], args[3], args[4]

	zipalignPath, err := resolveTool(o.zipalignPath, "zipalign")
	if err != nil {
		return err
	}
	apksignerPath, err := resolveTool(o.apksignerPath, "apksigner")
	if err != nil {
		return err
	}

	fmt.Println("Patching", manifestEntryName, "...")
	apk, err := archive.OpenAPK(in)
	if err != nil {
		return fmt.Errorf("opening %s: %w", in, err)
	}
	defer apk.Close()

	manifest, err := apk.ReadEntry(manifestEntryName)
	if err != nil {
		return err
	}

	var patched bytes.Buffer
	if err := axmlpatch.PatchManifest(bytes.NewReader(manifest), &patched); err != nil {
		return fmt.Errorf("patching manifest: %w", err)
	}

	unsigned := out + ".unsigned.tmp"
	unsignedFile, err := os.Create(unsigned)
	if err != nil {
		return err
	}
	defer os.Remove(unsigned)

	fmt.Println("Repacking APK...")
	err = apk.WriteTo(unsignedFile, map[string][]byte{manifestEntryName: patched.Bytes()})
	closeErr := unsignedFile.Close()
	if err != nil {
		return fmt.Errorf("repacking apk: %w", err)
	}
	if closeErr != nil {
		return closeErr
	}

	ctx := context.Background()

	fmt.Println("Aligning...")
	if err := toolchain.Align(ctx, zipalignPath, unsigned, out); err != nil {
		return err
	}

	fmt.Println("Verifying alignment...")
	if err := toolchain.VerifyAlignment(ctx, zipalignPath, out); err != nil {
		return err
	}

	fmt.Println("Signing...")
	if err := toolchain.Sign(ctx, apksignerPath, keystore, keyAlias, keystorePass, out); err != nil {
		return err
	}

	fmt.Println("Verifying signature...")
	return toolchain.VerifySignature(ctx, apksignerPath, out)
}

func resolveTool(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path, err := toolchain.Which(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH, pass -%s explicitly", name, name)
	}
	return path, nil
}
