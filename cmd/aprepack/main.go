// Binary aprepack repackages vendor AP firmware bundles: GSI
// substitution, device-identity transplant, revision patching and
// super-image synthesis.
package main

import "github.com/sgsi/aprepack/internal/cli"

func main() {
	cli.Execute()
}
