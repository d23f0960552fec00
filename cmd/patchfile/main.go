package main

import (
	"log"
	"os"

	"github.com/mridang/claude-ime-patch/internal/patch"
	"github.com/mridang/claude-ime-patch/internal/target"
)

// This tool patches a copy of a Claude Code build without looking for an
// installation. The input is a cli.js or a compiled executable; which
// one is decided from its magic bytes. The input file is never changed.
func main() {
	if len(os.Args) != 3 {
		log.Fatalf("Usage: %s <input> <output>", os.Args[0])
	}
	inPath, outPath := os.Args[1], os.Args[2]

	data, err := target.Read(inPath)
	if err != nil {
		log.Fatal(err)
	}

	p := patch.New(0)
	var res patch.Result
	if target.Detect(data).Compiled() {
		res, err = p.PatchBinary(data)
	} else {
		res, err = p.Patch(data)
	}
	if err != nil {
		log.Fatal(err)
	}
	if res.AlreadyPatched {
		log.Fatalf("%s is already patched", inPath)
	}
	if !res.Success {
		log.Fatalf("%s: %s", inPath, res.Message)
	}
	if len(res.Missing) > 0 {
		log.Printf("warning: %d of %d sites have no offset table record", len(res.Missing), len(res.Sites))
	}

	if err := target.WriteAtomic(outPath, res.Content, 0o755); err != nil {
		log.Fatal(err)
	}
}
